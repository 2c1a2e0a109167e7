package logging

import (
	"fmt"
	"os"
	"strings"
)

// envVar is GLC_LOG. Accepts comma-separated "tag=level" directives; a
// bare level with no "tag=" sets the default level for every module.
const envVar = "GLC_LOG"

// defaultLevel is the level used for modules with no specific GLC_LOG
// directive.
var defaultLevel = Info

var tagLevels []struct {
	tag   string
	level Level
}

func init() {
	for _, d := range strings.Split(os.Getenv(envVar), ",") {
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		levelString := v[len(v)-1]
		if level, err := ParseLevel(levelString); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid %s directive %q: %s\n", envVar, d, err)
		} else if len(v) == 1 {
			defaultLevel = level
		} else {
			tagLevels = append(tagLevels, struct {
				tag   string
				level Level
			}{v[0], level})
		}
	}

	DefaultLogger.Level = defaultLevel

	// GLC_LOG_FILE redirects every log destination from stderr to a file.
	if path := os.Getenv("GLC_LOG_FILE"); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "GLC_LOG_FILE: %s\n", err)
		} else {
			DefaultLogger.SetDestination(f)
		}
	}
}

func determineLevel(tag string, fallback Level) Level {
	for _, e := range tagLevels {
		if e.tag == tag {
			return e.level
		}
	}
	return fallback
}
