package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagInfo         int
	flagWav          int
	flagBMP          int
	flagPNG          int
	flagYUV4MPEG     int
	flagOut          string
	flagFPS          float64
	flagResize       string
	flagColor        string
	flagSilence      float64
	flagAlsaDevice   string
	flagStreaming    bool
	flagCompressed   int
	flagUncompressed int
	flagShow         string
	flagVerbosity    int
	flagRTPrio       bool
	flagVersion      bool
	flagHelp         bool
)

func init() {
	flag.IntVarP(&flagInfo, "info", "i", 0, "Show stream info for segment N and exit")
	flag.IntVarP(&flagWav, "wav", "a", 0, "Write audio stream id to a WAV file")
	flag.IntVarP(&flagBMP, "bmp", "b", 0, "Write video stream id to BMP files")
	flag.IntVarP(&flagPNG, "png", "p", 0, "Write video stream id to PNG files")
	flag.IntVarP(&flagYUV4MPEG, "yuv4mpeg", "y", 0, "Write video stream id to a YUV4MPEG stream")
	flag.StringVarP(&flagOut, "out", "o", "", "Output file (default stdout for streaming exporters)")
	flag.Float64VarP(&flagFPS, "fps", "f", 0, "Override playback fps")
	flag.StringVarP(&flagResize, "resize", "r", "", "Resize video to SxH or scale factor F")
	flag.StringVarP(&flagColor, "color", "g", "", "Color correction: brightness;contrast;red;green;blue;gamma")
	flag.Float64VarP(&flagSilence, "silence", "l", 0, "Insert silence to cover gaps longer than SEC")
	flag.StringVarP(&flagAlsaDevice, "alsa-device", "d", "", "ALSA playback device (default: first found)")
	flag.BoolVarP(&flagStreaming, "streaming", "t", false, "Play back as the file grows")
	flag.IntVarP(&flagCompressed, "compressed", "c", 0, "Compressed buffer size, MiB")
	flag.IntVarP(&flagUncompressed, "uncompressed", "u", 0, "Uncompressed buffer size, MiB")
	flag.StringVarP(&flagShow, "show", "s", "", "Show a single info_header field and exit")
	flag.CountVarP(&flagVerbosity, "verbosity", "v", "Increase log verbosity")
	flag.BoolVarP(&flagRTPrio, "rtprio", "P", false, "Request SCHED_RR for playback threads")
	flag.BoolVarP(&flagVersion, "version", "V", false, "Print version information and exit")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

const helpString = `glcplay reads a captured container file, optionally runs it back through
the unpack stage, and fans the merged stream out per stream id. Audio
sub-streams are played back through ALSA; the WAV, BMP, PNG, YUV4MPEG,
and OpenGL-rendered video paths are not built into this build. Their flags
are accepted and validated but report "not implemented" rather than
silently doing nothing.

Usage: glcplay [OPTION]... FILE

Options:
  -i, --info N            Print segment N's info_header fields and exit
  -a, --wav ID             Write audio stream ID to a WAV file (unimplemented)
  -b, --bmp ID              Write video stream ID to BMP files (unimplemented)
  -p, --png ID              Write video stream ID to PNG files (unimplemented)
  -y, --yuv4mpeg ID         Write video stream ID as YUV4MPEG (unimplemented)
  -o, --out FILE            Output file for an exporter
  -f, --fps F               Override playback fps
  -r, --resize SxH|F        Resize video (unimplemented)
  -g, --color b;c;r;g;b_gamma  Color correction (unimplemented)
  -l, --silence SEC         Insert silence to cover gaps longer than SEC
  -d, --alsa-device NAME    ALSA playback device
  -t, --streaming           Play back as the file grows
  -c, --compressed MiB      Compressed buffer size
  -u, --uncompressed MiB    Uncompressed buffer size
  -s, --show KEY            Show a single info_header field and exit
  -v, --verbosity           Increase log verbosity (repeatable)
  -P, --rtprio              Request SCHED_RR for playback threads
  -V, --version             Print version information and exit
  -h, --help                Print this help message and exit

Please report bugs to: glcs@lanikailabs.com`

func help() {
	c := color.New(color.FgCyan)
	c.Println("glcplay")
	fmt.Println(helpString)
}

func printVersion() {
	fmt.Println("glcplay (GLCS) 0.1.0")
}
