package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lanikai/glcs/internal/logging"
)

// DefaultFile is the conventional path for the optional YAML override
// file. glccapture applies it over the GLC_* environment variables, so a
// value named in the file wins. Neither glccapture nor glcplay requires
// it to exist.
const DefaultFile = "glcs.yaml"

// Overrides is the subset of Config that can be set from a YAML file: a
// plain struct of yaml-tagged fields read with yaml.Unmarshal, with zero
// values meaning "not set" so the file only overrides what it names.
type Overrides struct {
	FileTemplate string `yaml:"file"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Sync bool `yaml:"sync"`

	UncompressedBufferMiB int    `yaml:"uncompressed_buffer_mib"`
	CompressedBufferMiB   int    `yaml:"compressed_buffer_mib"`
	Compress              string `yaml:"compress"`

	PipeExe    string `yaml:"pipe_exe"`
	PipeInvert bool   `yaml:"pipe_invert"`
	PipeDelay  int    `yaml:"pipe_delay_ms"`

	FPS         float64  `yaml:"fps"`
	AudioRecord []string `yaml:"audio_record"`
}

// LoadFile reads path as YAML into an Overrides. A missing file is not an
// error; it returns a zero Overrides so callers can treat "no file" and
// "empty file" identically.
func LoadFile(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Overrides{}, nil
	}
	if err != nil {
		return nil, err
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Apply layers non-zero fields of o onto c: the file only overrides what
// it names.
func (c *Config) Apply(log *logging.Logger, o *Overrides) {
	if o == nil {
		return
	}
	if o.FileTemplate != "" {
		c.FileTemplate = o.FileTemplate
	}
	if o.LogLevel != "" {
		if level, err := logging.ParseLevel(o.LogLevel); err != nil {
			log.Warn("config: glcs.yaml: invalid log_level %q: %v", o.LogLevel, err)
		} else {
			c.LogLevel = level
		}
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
	if o.Sync {
		c.Sync = true
	}
	if o.UncompressedBufferMiB > 0 {
		c.UncompressedBufferSize = o.UncompressedBufferMiB << 20
	}
	if o.CompressedBufferMiB > 0 {
		c.CompressedBufferSize = o.CompressedBufferMiB << 20
	}
	if o.Compress != "" {
		c.Compress = parseCompressName(log, o.Compress)
	}
	if o.PipeExe != "" {
		c.Pipe = true
		c.PipeExe = o.PipeExe
	}
	if o.PipeInvert {
		c.PipeInvert = true
	}
	if o.PipeDelay > 0 {
		c.PipeDelay = time.Duration(o.PipeDelay) * time.Millisecond
	}
	if o.FPS > 0 {
		c.FPS = o.FPS
	}
	if len(o.AudioRecord) > 0 {
		c.Audio = true
		var devices []AudioDevice
		for _, entry := range o.AudioRecord {
			dev, err := parseAudioDevice(entry)
			if err != nil {
				log.Warn("config: glcs.yaml: skipping invalid audio_record entry %q: %v", entry, err)
				continue
			}
			devices = append(devices, dev)
		}
		if len(devices) > 0 {
			c.AudioRecord = devices
		}
	}
}
