package mpegts

import "encoding/binary"

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = SyncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | cc&0x0F
	if pusi {
		buf[1] |= 0x40
	}
	n := copy(buf[4:], payload)
	for i := 4 + n; i < PacketSize; i++ {
		buf[i] = 0xFF
	}
	return buf
}

func makePacketWithAF(pid uint16, cc uint8, af []byte, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = SyncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x20 | cc&0x0F
	if payload != nil {
		buf[3] |= 0x10
	}
	buf[4] = byte(len(af))
	copy(buf[5:], af)
	copy(buf[5+len(af):], payload)
	return buf
}

type program struct{ num, pid uint16 }

type esEntry struct {
	streamType uint8
	pid        uint16
	info       []byte
}

func withCRC(section []byte) []byte {
	return binary.BigEndian.AppendUint32(section, CRC32(section))
}

func buildPAT(tsID uint16, programs []program) []byte {
	sectionLength := 5 + 4*len(programs) + 4
	s := []byte{
		tableIDPAT, 0xB0 | byte(sectionLength>>8)&0x0F, byte(sectionLength),
		byte(tsID >> 8), byte(tsID), 0xC1, 0x00, 0x00,
	}
	for _, p := range programs {
		s = append(s, byte(p.num>>8), byte(p.num), 0xE0|byte(p.pid>>8)&0x1F, byte(p.pid))
	}
	return withCRC(s)
}

func buildPMT(programNum, pcrPID uint16, streams []esEntry) []byte {
	esLen := 0
	for _, es := range streams {
		esLen += 5 + len(es.info)
	}
	sectionLength := 9 + esLen + 4
	s := []byte{
		tableIDPMT, 0xB0 | byte(sectionLength>>8)&0x0F, byte(sectionLength),
		byte(programNum >> 8), byte(programNum), 0xC3, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID), 0xF0, 0x00,
	}
	for _, es := range streams {
		s = append(s, es.streamType, 0xE0|byte(es.pid>>8)&0x1F, byte(es.pid),
			0xF0|byte(len(es.info)>>8)&0x0F, byte(len(es.info)))
		s = append(s, es.info...)
	}
	return withCRC(s)
}

// withPointer prefixes a section with a zero pointer field.
func withPointer(section []byte) []byte {
	return append([]byte{0x00}, section...)
}

func encodeTimestamp(marker byte, v int64) []byte {
	return []byte{
		marker<<4 | byte(v>>29&0x0E) | 0x01,
		byte(v >> 22),
		byte(v>>14&0xFE) | 0x01,
		byte(v >> 7),
		byte(v<<1&0xFE) | 0x01,
	}
}

// buildPES builds a PES packet. Negative timestamps are omitted. Video
// stream ids get an unbounded packet length.
func buildPES(streamID byte, pts, dts int64, data []byte) []byte {
	var opt []byte
	var indicator byte
	switch {
	case pts >= 0 && dts >= 0:
		indicator = 3
		opt = append(encodeTimestamp(0x03, pts), encodeTimestamp(0x01, dts)...)
	case pts >= 0:
		indicator = 2
		opt = encodeTimestamp(0x02, pts)
	}
	length := 3 + len(opt) + len(data)
	if streamID&0xF0 == 0xE0 {
		length = 0
	}
	buf := []byte{0x00, 0x00, 0x01, streamID, byte(length >> 8), byte(length), 0x80, indicator << 6, byte(len(opt))}
	buf = append(buf, opt...)
	return append(buf, data...)
}
