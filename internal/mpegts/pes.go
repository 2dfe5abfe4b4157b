package mpegts

import (
	"bytes"
	"fmt"
)

var pesStartCode = []byte{0x00, 0x00, 0x01}

// isPES checks for the PES start code prefix.
func isPES(data []byte) bool {
	return bytes.HasPrefix(data, pesStartCode)
}

// hasPESHeader reports whether stream id carries the optional PES header.
// Padding, private_stream_2, ECM, EMM, DSMCC, H.222.1 type E and the
// program stream directory do not.
func hasPESHeader(streamID uint8) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(payload []byte) (*PES, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPES(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	pes := &PES{StreamID: payload[3], PTS: TimestampNone, DTS: TimestampNone}
	end := len(payload)
	if n := int(payload[4])<<8 | int(payload[5]); n > 0 && 6+n < end {
		end = 6 + n
	}

	if !hasPESHeader(pes.StreamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}
	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES header too short")
	}

	flags := payload[7] >> 6
	start := min(9+int(payload[8]), end)
	if flags&0x2 != 0 && len(payload) >= 14 {
		pes.PTS = parseTimestamp(payload[9:14])
	}
	if flags == 0x3 && len(payload) >= 19 {
		pes.DTS = parseTimestamp(payload[14:19])
	}
	pes.Data = payload[start:end]
	return pes, nil
}

// parseTimestamp extracts a 33-bit PTS or DTS from its 5-byte encoding.
func parseTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}
