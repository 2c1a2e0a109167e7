//go:build !linux

package rtprio

import "github.com/lanikai/glcs/internal/logging"

// Enable only logs a warning on platforms without SCHED_RR.
func Enable(log *logging.Logger) {
	log.Warn("rtprio: real-time scheduling is only supported on linux")
}
