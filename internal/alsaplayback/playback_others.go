//go:build !linux

// Stub for operating systems on which ALSA is not supported, matching
// alsacapture's own non-linux stand-in.
package alsaplayback

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/packetstream"
)

var errNotSupported = errors.New("alsaplayback: ALSA playback is only supported on linux")

// Player is a non-functional stand-in on non-Linux platforms.
type Player struct{}

// NewPlayer returns a Player whose Run always fails on non-Linux
// platforms.
func NewPlayer(log *logging.Logger, in *packetstream.Buffer, deviceName string, silence time.Duration) *Player {
	return &Player{}
}

func (p *Player) Run() error { return errNotSupported }
