// Package mpegtstest builds transport stream packets for tests.
package mpegtstest

import (
	"encoding/binary"

	"github.com/zsiec/basedemux/internal/mpegts"
)

// Stream is one elementary stream entry of a PMT.
type Stream struct {
	Type uint8
	PID  uint16
}

// Packet builds a 188-byte packet with payload, padded with 0xFF.
func Packet(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, mpegts.PacketSize)
	buf[0] = mpegts.SyncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | cc&0x0F
	if pusi {
		buf[1] |= 0x40
	}
	n := copy(buf[4:], payload)
	for i := 4 + n; i < mpegts.PacketSize; i++ {
		buf[i] = 0xFF
	}
	return buf
}

// Section appends the CRC to s and prefixes a zero pointer field.
func Section(s []byte) []byte {
	s = binary.BigEndian.AppendUint32(s, mpegts.CRC32(s))
	return append([]byte{0x00}, s...)
}

// PAT builds a PAT packet announcing one program.
func PAT(program, pmtPID uint16) []byte {
	s := []byte{0x00, 0xB0, 13, 0x00, 0x01, 0xC1, 0x00, 0x00,
		byte(program >> 8), byte(program), 0xE0 | byte(pmtPID>>8)&0x1F, byte(pmtPID)}
	return Packet(0, 0, true, Section(s))
}

// PMT builds a PMT packet for program with the given version and streams.
// The first stream carries the PCR.
func PMT(pmtPID, program uint16, version, cc uint8, streams ...Stream) []byte {
	var pcr uint16 = 0x1FFF
	if len(streams) > 0 {
		pcr = streams[0].PID
	}
	length := 9 + 5*len(streams) + 4
	s := []byte{0x02, 0xB0, byte(length), byte(program >> 8), byte(program), 0xC1 | version&0x1F<<1, 0x00, 0x00,
		0xE0 | byte(pcr>>8)&0x1F, byte(pcr), 0xF0, 0x00}
	for _, e := range streams {
		s = append(s, e.Type, 0xE0|byte(e.PID>>8)&0x1F, byte(e.PID), 0xF0, 0x00)
	}
	return Packet(pmtPID, cc, true, Section(s))
}

func timestamp(marker byte, v int64) []byte {
	return []byte{
		marker<<4 | byte(v>>29&0x0E) | 0x01,
		byte(v >> 22),
		byte(v>>14&0xFE) | 0x01,
		byte(v >> 7),
		byte(v<<1&0xFE) | 0x01,
	}
}

// PES builds a PES packet with a PTS in 90 kHz ticks. Video stream ids get
// an unbounded packet length.
func PES(streamID byte, pts int64, data []byte) []byte {
	ts := timestamp(0x02, pts)
	length := 3 + len(ts) + len(data)
	if streamID&0xF0 == 0xE0 {
		length = 0
	}
	buf := []byte{0x00, 0x00, 0x01, streamID, byte(length >> 8), byte(length), 0x80, 0x80, byte(len(ts))}
	buf = append(buf, ts...)
	return append(buf, data...)
}

// ADTS returns one AAC-LC frame at 48 kHz with n zero payload bytes.
func ADTS(n int) []byte {
	frameLen := 7 + n
	hdr := []byte{
		0xFF, 0xF1,
		0x40 | 3<<2,
		0x80 | byte(frameLen>>11&0x03),
		byte(frameLen >> 3),
		byte(frameLen&0x07)<<5 | 0x1F,
		0xFC,
	}
	return append(hdr, make([]byte, n)...)
}

// Minimal H.264 access units.
var (
	IDR   = []byte{0, 0, 0, 1, 0x09, 0xF0, 0, 0, 0, 1, 0x65, 0x88, 0x84, 0x00}
	Slice = []byte{0, 0, 0, 1, 0x09, 0xF0, 0, 0, 0, 1, 0x41, 0x9A, 0x02, 0x00}
)

// Concat joins packets.
func Concat(packets ...[]byte) []byte {
	var out []byte
	for _, p := range packets {
		out = append(out, p...)
	}
	return out
}
