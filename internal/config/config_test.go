package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
)

func testLogger() *logging.Logger {
	return logging.NewLogger("config_test", os.Stderr)
}

func TestParseAudioDevicesDefaults(t *testing.T) {
	devices := ParseAudioDevices(testLogger(), "")
	require.Len(t, devices, 1)
	require.Equal(t, AudioDevice{Name: DefaultAudioDevice, Rate: DefaultAudioRate, Channels: DefaultAudioChannels}, devices[0])
}

func TestParseAudioDevicesList(t *testing.T) {
	devices := ParseAudioDevices(testLogger(), "hw:0#48000#1;hw:1")
	require.Equal(t, []AudioDevice{
		{Name: "hw:0", Rate: 48000, Channels: 1},
		{Name: "hw:1", Rate: DefaultAudioRate, Channels: DefaultAudioChannels},
	}, devices)
}

func TestParseAudioDevicesSkipsInvalidEntry(t *testing.T) {
	devices := ParseAudioDevices(testLogger(), "hw:0#notanumber;hw:1#48000#2")
	require.Equal(t, []AudioDevice{{Name: "hw:1", Rate: 48000, Channels: 2}}, devices)
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	o, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, &Overrides{}, o)
}

func TestLoadFileAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glcs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
file: "%app%,%pid%"
log_level: debug
compress: lzjb
uncompressed_buffer_mib: 16
compressed_buffer_mib: 8
audio_record:
  - "hw:0#48000#2"
`), 0644))

	o, err := LoadFile(path)
	require.NoError(t, err)

	cfg := &Config{FileTemplate: "default", LogLevel: logging.Warn}
	cfg.Apply(testLogger(), o)

	require.Equal(t, "%app%,%pid%", cfg.FileTemplate)
	require.Equal(t, logging.Debug, cfg.LogLevel)
	require.Equal(t, message.LZJB, cfg.Compress)
	require.Equal(t, 16<<20, cfg.UncompressedBufferSize)
	require.Equal(t, 8<<20, cfg.CompressedBufferSize)
	require.True(t, cfg.Audio)
	require.Equal(t, []AudioDevice{{Name: "hw:0", Rate: 48000, Channels: 2}}, cfg.AudioRecord)
}

func TestApplyNilOverridesIsNoop(t *testing.T) {
	cfg := &Config{FileTemplate: "default"}
	cfg.Apply(testLogger(), nil)
	require.Equal(t, "default", cfg.FileTemplate)
}
