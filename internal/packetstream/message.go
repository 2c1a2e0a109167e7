package packetstream

import "github.com/lanikai/glcs/internal/message"

// WritePacket is a convenience wrapper that writes a complete
// {header, payload} packet in one open/write/close bracket, used by
// producers and workers that build the whole packet in memory first.
func WritePacket(b *Buffer, t message.Type, payload []byte) error {
	h, err := b.OpenWrite()
	if err != nil {
		return err
	}
	if err := h.Write(message.Packet{Type: t, Payload: payload}.Encode()); err != nil {
		h.Cancel()
		return err
	}
	return h.Close()
}

// TryWritePacket behaves like WritePacket but never blocks: if the
// buffer cannot currently accommodate the whole encoded packet, it
// cancels the reservation and returns ok=false instead of waiting for a
// reader to free space. Used by producers that would rather drop a
// packet silently than stall a downstream consumer that is behind.
func TryWritePacket(b *Buffer, t message.Type, payload []byte) (ok bool, err error) {
	h, ok, err := b.TryOpenWrite()
	if err != nil || !ok {
		return false, err
	}

	data := message.Packet{Type: t, Payload: payload}.Encode()
	region, ok, err := h.TryDMA(len(data))
	if err != nil {
		h.Cancel()
		return false, err
	}
	if !ok {
		h.Cancel()
		return false, nil
	}
	copy(region, data)
	if err := h.Close(); err != nil {
		return false, err
	}
	return true, nil
}

// ReadPacket is a convenience wrapper that claims the oldest packet,
// decodes its header, and releases the handle, returning the decoded
// Packet. The returned Packet's Payload is a copy, safe to use after this
// call returns.
func ReadPacket(b *Buffer) (message.Packet, error) {
	h, err := b.OpenRead()
	if err != nil {
		return message.Packet{}, err
	}
	defer h.Close()

	raw, err := h.Bytes()
	if err != nil {
		return message.Packet{}, err
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return message.DecodePacket(cp)
}
