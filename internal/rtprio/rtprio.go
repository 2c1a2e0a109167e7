//go:build linux

// Package rtprio implements the opt-in SCHED_RR real-time priority request:
// a thread that opts in sets SCHED_RR at sched_get_priority_min(SCHED_RR)
// when the process has real-time scheduling enabled. Failure to set
// priority is non-fatal.
package rtprio

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/lanikai/glcs/internal/logging"
)

// Enable locks the calling goroutine to its OS thread and requests
// SCHED_RR at sched_get_priority_min(SCHED_RR) for that thread. Failure
// is logged and otherwise ignored; real-time priority is an optimization,
// not a requirement for correct capture.
//
// Callers that want the priority request to stick must call Enable from
// the goroutine that will do the actual blocking work, since
// LockOSThread pins only the calling goroutine.
func Enable(log *logging.Logger) {
	runtime.LockOSThread()

	prio, err := unix.SchedGetPriorityMin(unix.SCHED_RR)
	if err != nil {
		log.Warn("rtprio: sched_get_priority_min: %v", err)
		return
	}
	param := &unix.SchedParam{Priority: int32(prio)}
	if err := unix.SchedSetscheduler(0, unix.SCHED_RR, param); err != nil {
		log.Warn("rtprio: sched_setscheduler: %v", err)
	}
}
