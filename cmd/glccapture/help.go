package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagHelp    bool
	flagVersion bool
)

func init() {
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "V", false, "Print version information and exit")
}

const helpString = `glccapture builds the capture pipeline described by the GLC_* environment
variables and drains the ALSA devices named by
GLC_AUDIO_RECORD into a restartable container file, compressed when
GLC_COMPRESS names a codec. GLC_PIPE is read, but with no video stream
to pipe this build falls back to the file sink. OpenGL frame capture and the
ELF symbol rebinding used to hook a running process's swap calls are
unhooked collaborators this build does not implement; see glcplay for
playback.

Usage: glccapture [OPTION]...

Environment:
  See glcs(7) for the full GLC_* variable table: GLC_START, GLC_FILE,
  GLC_LOG, GLC_LOG_FILE, GLC_SYNC, GLC_UNCOMPRESSED_BUFFER_SIZE,
  GLC_COMPRESSED_BUFFER_SIZE, GLC_COMPRESS, GLC_PIPE*, GLC_AUDIO*,
  GLC_RTPRIO.

Miscellaneous:
  -h, --help     Prints this help message and exits
  -V, --version  Prints version information and exits

Please report bugs to: glcs@lanikailabs.com`

func help() {
	c := color.New(color.FgCyan)
	c.Println("glccapture")
	fmt.Println(helpString)
}

func printVersion() {
	fmt.Println("glccapture (GLCS) 0.1.0")
}
