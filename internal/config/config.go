// Package config reads the closed set of GLC_* environment variables
// that the capture hook consults at load time, and the
// "dev#rate#channels" device-string grammar used by GLC_AUDIO_RECORD.
//
// Parsing splits on a separator, parses each directive, and warns and
// falls back to a default on a bad value rather than aborting, the same
// way internal/logging handles GLC_LOG directives.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
)

// AudioDevice is one entry of a GLC_AUDIO_RECORD list: "dev[#rate#ch]".
type AudioDevice struct {
	Name     string
	Rate     int
	Channels int
}

// Default ALSA device parameters: default device, 44100 Hz, 2 channels,
// with sample format auto-negotiated among S16_LE/S24_LE/S32_LE.
const (
	DefaultAudioDevice   = "default"
	DefaultAudioRate     = 44100
	DefaultAudioChannels = 2
)

// Config is the closed set of GLC_* variables, populated by FromEnviron.
type Config struct {
	Start bool // GLC_START

	FileTemplate string // GLC_FILE

	LogLevel logging.Level // GLC_LOG
	LogFile  string        // GLC_LOG_FILE

	Sync bool // GLC_SYNC

	UncompressedBufferSize int         // GLC_UNCOMPRESSED_BUFFER_SIZE, bytes
	CompressedBufferSize   int         // GLC_COMPRESSED_BUFFER_SIZE, bytes
	Compress               message.Type // GLC_COMPRESS; 0 means "none"

	Pipe       bool // GLC_PIPE
	PipeExe    string
	PipeInvert bool          // GLC_PIPE_INVERT
	PipeDelay  time.Duration // GLC_PIPE_DELAY, milliseconds

	FPS                 float64 // GLC_FPS
	Colorspace          string  // GLC_COLORSPACE
	Scale               string  // GLC_SCALE
	Crop                string  // GLC_CROP
	Capture             bool    // GLC_CAPTURE
	CaptureGLFinish     bool    // GLC_CAPTURE_GLFINISH
	CaptureDwordAligned bool    // GLC_CAPTURE_DWORD_ALIGNED
	TryPBO              bool    // GLC_TRY_PBO
	Indicator           bool    // GLC_INDICATOR
	LockFPS             bool    // GLC_LOCK_FPS

	Audio       bool          // GLC_AUDIO
	AudioSkip   bool          // GLC_AUDIO_SKIP
	AudioRecord []AudioDevice // GLC_AUDIO_RECORD

	RTPrio bool // GLC_RTPRIO
}

// FromEnviron reads the process environment into a Config, warning via log
// and substituting a default for any variable present but unparsable.
func FromEnviron(log *logging.Logger) *Config {
	c := &Config{
		FileTemplate:           "%app%,%pid%,%capture%",
		UncompressedBufferSize: 32 << 20,
		CompressedBufferSize:   32 << 20,
	}

	c.Start = envBool("GLC_START")

	if v := os.Getenv("GLC_FILE"); v != "" {
		c.FileTemplate = v
	}

	c.LogLevel = envLevel(log, "GLC_LOG", logging.Warn)
	c.LogFile = os.Getenv("GLC_LOG_FILE")

	c.Sync = envBool("GLC_SYNC")

	c.UncompressedBufferSize = envMiB(log, "GLC_UNCOMPRESSED_BUFFER_SIZE", c.UncompressedBufferSize)
	c.CompressedBufferSize = envMiB(log, "GLC_COMPRESSED_BUFFER_SIZE", c.CompressedBufferSize)
	c.Compress = envCompress(log, "GLC_COMPRESS")

	c.Pipe = envBool("GLC_PIPE")
	c.PipeExe = os.Getenv("GLC_PIPE")
	c.PipeInvert = envBool("GLC_PIPE_INVERT")
	c.PipeDelay = time.Duration(envInt(log, "GLC_PIPE_DELAY", 0)) * time.Millisecond

	c.FPS = envFloat(log, "GLC_FPS", 30)
	c.Colorspace = os.Getenv("GLC_COLORSPACE")
	c.Scale = os.Getenv("GLC_SCALE")
	c.Crop = os.Getenv("GLC_CROP")
	c.Capture = envBool("GLC_CAPTURE")
	c.CaptureGLFinish = envBool("GLC_CAPTURE_GLFINISH")
	c.CaptureDwordAligned = envBool("GLC_CAPTURE_DWORD_ALIGNED")
	c.TryPBO = envBool("GLC_TRY_PBO")
	c.Indicator = envBool("GLC_INDICATOR")
	c.LockFPS = envBool("GLC_LOCK_FPS")

	c.Audio = envBool("GLC_AUDIO")
	c.AudioSkip = envBool("GLC_AUDIO_SKIP")
	c.AudioRecord = ParseAudioDevices(log, os.Getenv("GLC_AUDIO_RECORD"))

	c.RTPrio = envBool("GLC_RTPRIO")

	return c
}

// ParseAudioDevices parses a ";"-separated GLC_AUDIO_RECORD-style list of
// "dev[#rate#channels]" entries, defaulting missing fields to
// DefaultAudioDevice/DefaultAudioRate/DefaultAudioChannels. An entry that
// fails to parse is skipped with a warning rather than aborting the whole
// list.
func ParseAudioDevices(log *logging.Logger, s string) []AudioDevice {
	if s == "" {
		return []AudioDevice{{Name: DefaultAudioDevice, Rate: DefaultAudioRate, Channels: DefaultAudioChannels}}
	}

	var devices []AudioDevice
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		dev, err := parseAudioDevice(entry)
		if err != nil {
			log.Warn("config: skipping invalid GLC_AUDIO_RECORD entry %q: %v", entry, err)
			continue
		}
		devices = append(devices, dev)
	}
	return devices
}

func parseAudioDevice(entry string) (AudioDevice, error) {
	fields := strings.Split(entry, "#")
	dev := AudioDevice{Name: DefaultAudioDevice, Rate: DefaultAudioRate, Channels: DefaultAudioChannels}

	if fields[0] != "" {
		dev.Name = fields[0]
	}
	if len(fields) > 1 && fields[1] != "" {
		rate, err := strconv.Atoi(fields[1])
		if err != nil {
			return dev, err
		}
		dev.Rate = rate
	}
	if len(fields) > 2 && fields[2] != "" {
		channels, err := strconv.Atoi(fields[2])
		if err != nil {
			return dev, err
		}
		dev.Channels = channels
	}
	return dev, nil
}

func envBool(name string) bool {
	v := os.Getenv(name)
	return v != "" && v != "0"
}

func envInt(log *logging.Logger, name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("config: invalid %s=%q, using default %d", name, v, fallback)
		return fallback
	}
	return n
}

func envFloat(log *logging.Logger, name string, fallback float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn("config: invalid %s=%q, using default %v", name, v, fallback)
		return fallback
	}
	return f
}

// envMiB reads an integer count of mebibytes and returns it as bytes.
func envMiB(log *logging.Logger, name string, fallbackBytes int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallbackBytes
	}
	mib, err := strconv.Atoi(v)
	if err != nil || mib <= 0 {
		log.Warn("config: invalid %s=%q, using default", name, v)
		return fallbackBytes
	}
	return mib << 20
}

func envLevel(log *logging.Logger, name string, fallback logging.Level) logging.Level {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	level, err := logging.ParseLevel(v)
	if err != nil {
		log.Warn("config: invalid %s=%q: %v", name, v, err)
		return fallback
	}
	return level
}

func envCompress(log *logging.Logger, name string) message.Type {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	return parseCompressName(log, v)
}

// parseCompressName maps a GLC_COMPRESS-style name ("lzo", "quicklz",
// "lzjb", "none") to its message.Type, warning and disabling compression
// on an unrecognized value. Shared by FromEnviron and Config.Apply (the
// glcs.yaml override file) so both config surfaces accept the same names.
func parseCompressName(log *logging.Logger, v string) message.Type {
	switch strings.ToLower(v) {
	case "", "none":
		return 0
	case "lzo":
		return message.LZO
	case "quicklz":
		return message.QuickLZ
	case "lzjb":
		return message.LZJB
	default:
		log.Warn("config: unknown compression %q, disabling compression", v)
		return 0
	}
}
