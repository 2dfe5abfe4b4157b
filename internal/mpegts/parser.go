package mpegts

import (
	"log/slog"
)

// Stats counts what a Parser has seen since its last Reset.
type Stats struct {
	Packets        int
	CorruptPackets int
	CCErrors       int
	Units          int
}

// Parser reassembles payload units from individually fed packets. It is not
// safe for concurrent use.
type Parser struct {
	log      *slog.Logger
	programs *programMap
	buffers  *pidBuffers
	stats    Stats
}

// NewParser creates a parser. A nil logger uses slog.Default().
func NewParser(log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	pm := newProgramMap()
	return &Parser{
		log:      log.With("component", "mpegts"),
		programs: pm,
		buffers:  newPIDBuffers(pm),
	}
}

// Feed parses one 188-byte packet and returns the units it completed. The
// parser keeps references to pkt until the units are returned.
func (p *Parser) Feed(pkt []byte) ([]*Unit, error) {
	p.stats.Packets++
	packet, err := ParsePacket(pkt)
	if err != nil {
		p.stats.CorruptPackets++
		return nil, err
	}

	buf := p.buffers.get(packet.Header.PID)
	done := buf.add(packet)
	if done == nil {
		return nil, nil
	}
	return p.process(buf, done), nil
}

// Drain flushes every partially accumulated unit, as at end of stream.
func (p *Parser) Drain() []*Unit {
	var units []*Unit
	for _, buf := range p.buffers.drain() {
		if done := buf.flush(); done != nil {
			units = append(units, p.process(buf, done)...)
		}
	}
	return units
}

// Reset forgets all accumulated packets and program information.
func (p *Parser) Reset() {
	p.programs.reset()
	p.buffers.reset()
	p.stats = Stats{}
}

// Stats returns the parser counters.
func (p *Parser) Stats() Stats {
	s := p.stats
	s.CCErrors = p.buffers.ccErrors()
	return s
}

// IsPMTPID reports whether pid was announced by a PAT.
func (p *Parser) IsPMTPID(pid uint16) bool {
	return p.programs.isPMT(pid)
}

func (p *Parser) process(buf *pidBuffer, packets []*Packet) []*Unit {
	pid := buf.pid
	lost := buf.takeLost()
	payload := joinPayloads(packets)
	if len(payload) == 0 {
		return nil
	}

	var units []*Unit
	if p.programs.carriesSections(pid) {
		err := splitSections(payload, func(tableID byte, section []byte) error {
			u, err := p.section(pid, tableID, section)
			if u != nil {
				units = append(units, u)
			}
			return err
		})
		if err != nil {
			p.log.Debug("dropping section", "pid", pid, "error", err)
		}
	} else if isPES(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			p.log.Debug("dropping PES", "pid", pid, "error", err)
			return nil
		}
		pes.RandomAccess = packets[0].Header.RandomAccessIndicator
		units = append(units, &Unit{PID: pid, PES: pes})
	}

	if len(units) > 0 {
		units[0].Discont = lost
	}
	p.stats.Units += len(units)
	return units
}

func (p *Parser) section(pid uint16, tableID byte, s []byte) (*Unit, error) {
	switch {
	case pid == pidPAT && tableID == tableIDPAT:
		pat, err := parsePAT(s)
		if err != nil {
			return nil, err
		}
		for _, prog := range pat.Programs {
			p.programs.pmt[prog.PMTPID] = true
		}
		return &Unit{PID: pid, PAT: pat}, nil

	case p.programs.isPMT(pid) && tableID == tableIDPMT:
		pmt, err := parsePMT(s)
		if err != nil {
			return nil, err
		}
		for _, es := range pmt.Streams {
			if es.StreamType == StreamTypeSCTE35 {
				p.programs.sections[es.PID] = true
			}
		}
		return &Unit{PID: pid, PMT: pmt}, nil

	case p.programs.sections[pid]:
		return &Unit{PID: pid, Section: append([]byte(nil), s...)}, nil
	}
	return nil, nil
}
