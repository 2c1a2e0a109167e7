// Package glc bundles the cross-cutting, process-wide state every GLCS
// subsystem needs: the monotonic clock, the audio/video stream-id
// registries, and the logger. Every constructor in this module takes a
// *Context explicitly instead of reaching for package-level globals.
package glc

import (
	"github.com/lanikai/glcs/internal/clock"
	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/streamid"
)

// Context is the per-process GLCS context: one Clock, one audio and one
// video stream-id Registry, and a root Logger every component derives its
// own tagged logger from via Log().
type Context struct {
	Clock *clock.Clock

	AudioStreams *streamid.Registry
	VideoStreams *streamid.Registry

	log *logging.Logger
}

// New constructs a fresh Context: a new clock started now, empty stream-id
// registries, and a logger derived from logging.DefaultLogger whose
// timestamps are rebased onto the new clock so log lines line up with
// captured packet timestamps.
func New() *Context {
	c := clock.New()
	log := logging.DefaultLogger.WithTag("glc")
	log.SetClock(c.Seconds)
	return &Context{
		Clock:        c,
		AudioStreams: streamid.NewRegistry(),
		VideoStreams: streamid.NewRegistry(),
		log:          log,
	}
}

// Log returns a logger tagged with module, sharing this Context's clock and
// output destination.
func (ctx *Context) Log(module string) *logging.Logger {
	return ctx.log.WithTag(module)
}
