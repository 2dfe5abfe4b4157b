package mpegts

import "slices"

const pidPAT = 0x0000

// programMap records which PIDs carry sections rather than PES packets.
type programMap struct {
	pmt      map[uint16]bool
	sections map[uint16]bool
}

func newProgramMap() *programMap {
	return &programMap{pmt: make(map[uint16]bool), sections: make(map[uint16]bool)}
}

func (pm *programMap) isPMT(pid uint16) bool { return pm.pmt[pid] }

// carriesSections reports whether pid holds PSI or private sections.
func (pm *programMap) carriesSections(pid uint16) bool {
	return pid == pidPAT || pm.pmt[pid] || pm.sections[pid]
}

func (pm *programMap) reset() {
	clear(pm.pmt)
	clear(pm.sections)
}

// pidBuffer collects the packets of one PID until a payload unit is
// complete.
type pidBuffer struct {
	pid      uint16
	packets  []*Packet
	programs *programMap

	// lost is set when packets were dropped and reported on the next unit.
	lost bool
	// ccErrors counts continuity counter jumps.
	ccErrors int
}

func newPIDBuffer(pid uint16, pm *programMap) *pidBuffer {
	return &pidBuffer{pid: pid, programs: pm}
}

// add appends p and returns a completed unit's packets, if any.
func (b *pidBuffer) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		b.packets = nil
		b.lost = true
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	if n := len(b.packets); n > 0 && !p.Header.DiscontinuityIndicator {
		prev := b.packets[n-1].Header.ContinuityCounter
		switch p.Header.ContinuityCounter {
		case (prev + 1) & 0x0F:
		case prev:
			return nil
		default:
			b.packets = nil
			b.lost = true
			b.ccErrors++
		}
	}

	// A unit cannot start mid-payload.
	if len(b.packets) == 0 && !p.Header.PayloadUnitStartIndicator {
		return nil
	}

	var done []*Packet
	if p.Header.PayloadUnitStartIndicator && len(b.packets) > 0 {
		done = b.packets
		b.packets = nil
	}
	b.packets = append(b.packets, p)

	if done == nil && b.programs.carriesSections(b.pid) && sectionsComplete(b.packets) {
		done = b.packets
		b.packets = nil
	}
	return done
}

func (b *pidBuffer) flush() []*Packet {
	done := b.packets
	b.packets = nil
	return done
}

// takeLost returns and clears the packet-loss flag.
func (b *pidBuffer) takeLost() bool {
	lost := b.lost
	b.lost = false
	return lost
}

// sectionsComplete reports whether the joined payloads hold only whole
// sections.
func sectionsComplete(packets []*Packet) bool {
	payload := joinPayloads(packets)
	if len(payload) < 1 {
		return false
	}
	pos := 1 + int(payload[0])
	if pos >= len(payload) {
		return false
	}
	for pos < len(payload) {
		if payload[pos] == 0xFF {
			return true
		}
		if pos+3 > len(payload) {
			return false
		}
		if payload[pos+1]&0x80 == 0 && payload[pos] != 0xFC {
			return true
		}
		end := pos + 3 + (int(payload[pos+1]&0x0F)<<8 | int(payload[pos+2]))
		if end > len(payload) {
			return false
		}
		pos = end
	}
	return true
}

func joinPayloads(packets []*Packet) []byte {
	if len(packets) == 1 {
		return packets[0].Payload
	}
	n := 0
	for _, p := range packets {
		n += len(p.Payload)
	}
	out := make([]byte, 0, n)
	for _, p := range packets {
		out = append(out, p.Payload...)
	}
	return out
}

// pidBuffers owns one pidBuffer per PID seen.
type pidBuffers struct {
	byPID    map[uint16]*pidBuffer
	programs *programMap
}

func newPIDBuffers(pm *programMap) *pidBuffers {
	return &pidBuffers{byPID: make(map[uint16]*pidBuffer), programs: pm}
}

func (bs *pidBuffers) get(pid uint16) *pidBuffer {
	b, ok := bs.byPID[pid]
	if !ok {
		b = newPIDBuffer(pid, bs.programs)
		bs.byPID[pid] = b
	}
	return b
}

// drain flushes every buffer in PID order so the PAT precedes the PMTs.
func (bs *pidBuffers) drain() []*pidBuffer {
	pids := make([]uint16, 0, len(bs.byPID))
	for pid := range bs.byPID {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	out := make([]*pidBuffer, 0, len(pids))
	for _, pid := range pids {
		out = append(out, bs.byPID[pid])
	}
	return out
}

func (bs *pidBuffers) ccErrors() int {
	n := 0
	for _, b := range bs.byPID {
		n += b.ccErrors
	}
	return n
}

func (bs *pidBuffers) reset() {
	clear(bs.byPID)
}
