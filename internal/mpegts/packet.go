package mpegts

import (
	"errors"
	"fmt"
)

// ErrSync reports a packet that does not start with SyncByte.
var ErrSync = errors.New("mpegts: lost sync")

// ParsePacket decodes a single 188-byte packet. The payload aliases buf.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet is %d bytes, want %d", len(buf), PacketSize)
	}
	if buf[0] != SyncByte {
		return nil, fmt.Errorf("%w: got 0x%02X", ErrSync, buf[0])
	}

	p := &Packet{PCR: TimestampNone}
	h := &p.Header
	h.TransportErrorIndicator = buf[1]&0x80 != 0
	h.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	h.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	h.HasAdaptationField = buf[3]&0x20 != 0
	h.HasPayload = buf[3]&0x10 != 0
	h.ContinuityCounter = buf[3] & 0x0F

	pos := 4
	if h.HasAdaptationField {
		afLen := int(buf[4])
		af := buf[5:min(5+afLen, PacketSize)]
		if len(af) > 0 {
			h.DiscontinuityIndicator = af[0]&0x80 != 0
			h.RandomAccessIndicator = af[0]&0x40 != 0
			if af[0]&0x10 != 0 && len(af) >= 7 {
				p.PCR = parsePCR(af[1:7])
			}
		}
		pos = min(5+afLen, PacketSize)
	}

	if h.HasPayload && pos < PacketSize {
		p.Payload = buf[pos:]
	}
	return p, nil
}

// parsePCR decodes the 33-bit base and 9-bit extension into 27 MHz ticks.
func parsePCR(b []byte) int64 {
	base := int64(b[0])<<25 | int64(b[1])<<17 | int64(b[2])<<9 | int64(b[3])<<1 | int64(b[4])>>7
	ext := int64(b[4]&0x01)<<8 | int64(b[5])
	return base*300 + ext
}

// FindSync returns the index of the first plausible packet start in data,
// or -1. A candidate is confirmed by a sync byte one packet later when data
// is long enough to contain it.
func FindSync(data []byte) int {
	for i, b := range data {
		if b != SyncByte {
			continue
		}
		next := i + PacketSize
		if next >= len(data) || data[next] == SyncByte {
			return i
		}
	}
	return -1
}
