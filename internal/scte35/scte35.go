// Package scte35 decodes SCTE-35 splice_info_sections carried on a
// transport stream PID. Only the fields needed to place a splice on the
// program timeline are kept: the command, its splice time and break
// duration, and segmentation descriptors.
package scte35

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/icza/bitio"

	"github.com/zsiec/basedemux/internal/mpegts"
)

const tableID = 0xFC

// Command is a splice_command_type.
type Command uint8

// Splice command types.
const (
	SpliceNull           Command = 0x00
	SpliceSchedule       Command = 0x04
	SpliceInsert         Command = 0x05
	TimeSignal           Command = 0x06
	BandwidthReservation Command = 0x07
	PrivateCommand       Command = 0xFF
)

func (c Command) String() string {
	switch c {
	case SpliceNull:
		return "splice_null"
	case SpliceSchedule:
		return "splice_schedule"
	case SpliceInsert:
		return "splice_insert"
	case TimeSignal:
		return "time_signal"
	case BandwidthReservation:
		return "bandwidth_reservation"
	case PrivateCommand:
		return "private_command"
	}
	return fmt.Sprintf("command(0x%02x)", uint8(c))
}

// Errors returned by Decode.
var (
	ErrNotSplice = errors.New("scte35: not a splice_info_section")
	ErrShort     = errors.New("scte35: section truncated")
	ErrEncrypted = errors.New("scte35: encrypted section")
)

// NoTime marks an absent splice time or duration.
const NoTime int64 = -1

const ptsMask = 1<<33 - 1

// Splice is a decoded splice_info_section. Times are 90 kHz ticks.
type Splice struct {
	Command       Command
	PTSAdjustment uint64
	Tier          uint16
	// PTS is the splice time with the PTS adjustment applied, NoTime for
	// immediate splices and commands without a time.
	PTS int64

	// splice_insert fields
	EventID      uint32
	Cancel       bool
	OutOfNetwork bool
	Immediate    bool
	// Duration is the break duration, NoTime when absent.
	Duration int64

	Segmentations []Segmentation
}

// Segmentation is a segmentation_descriptor.
type Segmentation struct {
	EventID  uint32
	Cancel   bool
	TypeID   uint8
	Duration int64
	UPIDType uint8
	UPID     []byte
	Num      uint8
	Expected uint8
}

// reader wraps a bit reader, keeping the first error and the number of
// bits consumed.
type reader struct {
	r   *bitio.Reader
	n   int
	err error
}

func newReader(data []byte) *reader {
	return &reader{r: bitio.NewReader(bytes.NewReader(data))}
}

func (r *reader) bits(n uint8) uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.r.ReadBits(n)
	if err != nil {
		r.err = ErrShort
		return 0
	}
	r.n += int(n)
	return v
}

func (r *reader) flag() bool {
	return r.bits(1) == 1
}

// spliceTime reads a splice_time(), returning NoTime when no time is
// specified.
func (r *reader) spliceTime() int64 {
	if !r.flag() {
		r.bits(7)
		return NoTime
	}
	r.bits(6)
	return int64(r.bits(33))
}

// Decode parses a complete section, from table_id through CRC_32.
func Decode(section []byte) (*Splice, error) {
	if len(section) < 3 || section[0] != tableID {
		return nil, ErrNotSplice
	}
	length := 3 + int(binary.BigEndian.Uint16(section[1:3])&0x0FFF)
	if length < 20 || len(section) < length {
		return nil, ErrShort
	}
	section = section[:length]
	body := section[:length-4]
	if got, want := mpegts.CRC32(body), binary.BigEndian.Uint32(section[length-4:]); got != want {
		return nil, fmt.Errorf("scte35: %w", mpegts.ErrCRC)
	}

	r := newReader(body)
	r.bits(24) // table_id, indicators, section_length
	r.bits(8)  // protocol_version
	if r.flag() {
		return nil, ErrEncrypted
	}
	r.bits(6) // encryption_algorithm
	sp := &Splice{PTS: NoTime, Duration: NoTime}
	sp.PTSAdjustment = r.bits(33)
	r.bits(8) // cw_index
	sp.Tier = uint16(r.bits(12))
	cmdLen := int(r.bits(12))
	sp.Command = Command(r.bits(8))
	if r.err != nil {
		return nil, r.err
	}

	const cmdStart = 14
	cmd := body[cmdStart:]
	if cmdLen != 0xFFF {
		if cmdLen > len(cmd) {
			return nil, ErrShort
		}
		cmd = cmd[:cmdLen]
	}
	used, err := sp.decodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("scte35: %s: %w", sp.Command, err)
	}
	if cmdLen == 0xFFF {
		cmdLen = used
	}

	rest := body[cmdStart+cmdLen:]
	if len(rest) < 2 {
		return nil, ErrShort
	}
	loopLen := int(binary.BigEndian.Uint16(rest))
	if loopLen > len(rest)-2 {
		return nil, ErrShort
	}
	if err := sp.decodeDescriptors(rest[2 : 2+loopLen]); err != nil {
		return nil, err
	}

	if sp.PTS != NoTime {
		sp.PTS = int64((uint64(sp.PTS) + sp.PTSAdjustment) & ptsMask)
	}
	return sp, nil
}

// decodeCommand returns the number of bytes the command occupies.
func (sp *Splice) decodeCommand(data []byte) (int, error) {
	r := newReader(data)
	switch sp.Command {
	case SpliceNull:
		return 0, nil
	case TimeSignal:
		sp.PTS = r.spliceTime()
	case SpliceInsert:
		sp.decodeInsert(r)
	default:
		// Opaque; its length must be explicit.
		return len(data), nil
	}
	if r.err != nil {
		return 0, r.err
	}
	return r.n / 8, nil
}

func (sp *Splice) decodeInsert(r *reader) {
	sp.EventID = uint32(r.bits(32))
	sp.Cancel = r.flag()
	r.bits(7)
	if sp.Cancel {
		return
	}
	sp.OutOfNetwork = r.flag()
	program := r.flag()
	hasDuration := r.flag()
	sp.Immediate = r.flag()
	r.bits(4)

	if program {
		if !sp.Immediate {
			sp.PTS = r.spliceTime()
		}
	} else {
		// Component splices: the first component's time stands for the
		// whole program.
		count := int(r.bits(8))
		for i := range count {
			r.bits(8) // component_tag
			if !sp.Immediate {
				t := r.spliceTime()
				if i == 0 {
					sp.PTS = t
				}
			}
		}
	}
	if hasDuration {
		r.bits(7) // auto_return, reserved
		sp.Duration = int64(r.bits(33))
	}
	r.bits(32) // unique_program_id, avail_num, avails_expected
}

func (sp *Splice) decodeDescriptors(data []byte) error {
	for len(data) >= 2 {
		tag, n := data[0], int(data[1])
		if 2+n > len(data) {
			return ErrShort
		}
		body := data[2 : 2+n]
		data = data[2+n:]
		// Only CUEI segmentation descriptors are decoded.
		if tag != 0x02 || n < 4 || string(body[:4]) != "CUEI" {
			continue
		}
		seg, err := decodeSegmentation(body[4:])
		if err != nil {
			return fmt.Errorf("scte35: segmentation descriptor: %w", err)
		}
		sp.Segmentations = append(sp.Segmentations, seg)
	}
	return nil
}

func decodeSegmentation(data []byte) (Segmentation, error) {
	r := newReader(data)
	seg := Segmentation{Duration: NoTime}
	seg.EventID = uint32(r.bits(32))
	seg.Cancel = r.flag()
	r.bits(7)
	if seg.Cancel {
		return seg, r.err
	}
	program := r.flag()
	hasDuration := r.flag()
	r.bits(6) // delivery restrictions
	if !program {
		count := int(r.bits(8))
		for range count {
			r.bits(48) // component_tag, reserved, pts_offset
		}
	}
	if hasDuration {
		seg.Duration = int64(r.bits(40))
	}
	seg.UPIDType = uint8(r.bits(8))
	upidLen := int(r.bits(8))
	if r.err == nil {
		start := r.n / 8
		if start+upidLen > len(data) {
			return seg, ErrShort
		}
		seg.UPID = append([]byte(nil), data[start:start+upidLen]...)
		for range upidLen {
			r.bits(8)
		}
	}
	seg.TypeID = uint8(r.bits(8))
	seg.Num = uint8(r.bits(8))
	seg.Expected = uint8(r.bits(8))
	return seg, r.err
}
