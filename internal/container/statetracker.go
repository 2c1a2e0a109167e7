package container

import (
	"sync"

	"github.com/lanikai/glcs/internal/message"
	"github.com/lanikai/glcs/internal/streamid"
)

// StateTracker remembers the latest VIDEO_FORMAT, AUDIO_FORMAT, and COLOR
// message per stream id, so a resumed segment can replay them and remain
// self-contained: every *_FRAME/*_DATA packet's format must either have
// appeared earlier on the same buffer or be replayed at the start of the
// new segment. AUDIO_FORMAT replay is included alongside VIDEO_FORMAT/
// COLOR since AUDIO_DATA needs the same guarantee VIDEO_FRAME does.
type StateTracker struct {
	mu           sync.Mutex
	videoFormats map[streamid.ID]message.VideoFormatMsg
	audioFormats map[streamid.ID]message.AudioFormatMsg
	colors       map[streamid.ID]message.ColorMsg
}

func NewStateTracker() *StateTracker {
	return &StateTracker{
		videoFormats: make(map[streamid.ID]message.VideoFormatMsg),
		audioFormats: make(map[streamid.ID]message.AudioFormatMsg),
		colors:       make(map[streamid.ID]message.ColorMsg),
	}
}

// Observe updates the tracker from a packet that has just been written
// (or read); packets of other types are ignored.
func (st *StateTracker) Observe(pkt message.Packet) {
	switch pkt.Type {
	case message.VideoFormat:
		if m, err := message.UnmarshalVideoFormat(pkt.Payload); err == nil {
			st.mu.Lock()
			st.videoFormats[m.ID] = m
			st.mu.Unlock()
		}
	case message.AudioFormat:
		if m, err := message.UnmarshalAudioFormat(pkt.Payload); err == nil {
			st.mu.Lock()
			st.audioFormats[m.ID] = m
			st.mu.Unlock()
		}
	case message.Color:
		if m, err := message.UnmarshalColor(pkt.Payload); err == nil {
			st.mu.Lock()
			st.colors[m.ID] = m
			st.mu.Unlock()
		}
	}
}

// Replay returns every tracked format/color message as packets, grouped
// by kind (video formats, then audio formats, then colors; the order of
// stream ids within a kind is not defined), ready
// to be written at the start of a resumed segment.
func (st *StateTracker) Replay() []message.Packet {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]message.Packet, 0, len(st.videoFormats)+len(st.audioFormats)+len(st.colors))
	for _, m := range st.videoFormats {
		out = append(out, message.Packet{Type: message.VideoFormat, Payload: m.Marshal()})
	}
	for _, m := range st.audioFormats {
		out = append(out, message.Packet{Type: message.AudioFormat, Payload: m.Marshal()})
	}
	for _, m := range st.colors {
		out = append(out, message.Packet{Type: message.Color, Payload: m.Marshal()})
	}
	return out
}
