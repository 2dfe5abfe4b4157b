// Package tsdemux demultiplexes MPEG transport streams into one output per
// elementary stream, plus optional CEA-608 and CEA-708 caption outputs.
package tsdemux

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/basedemux/adapter"
	"github.com/zsiec/basedemux/demux"
	"github.com/zsiec/basedemux/internal/mpegts"
	"github.com/zsiec/basedemux/internal/scte35"
	"github.com/zsiec/ccx"
)

// Track is the per-stream state kept in demux.Stream.Payload.
type Track struct {
	PID        uint16
	StreamType uint8
	Codec      string
	Language   string
	// Params is the RFC 6381 codec string, known once the first sequence
	// parameter set or ADTS header has been seen.
	Params     string
	SampleRate int
	Channels   int
	// Channel is the caption channel of a caption stream, 0 otherwise: 1-4
	// for CEA-608, 7-12 for CEA-708 services.
	Channel int

	segmented bool
}

// Config configures a Demuxer.
type Config struct {
	Log *slog.Logger
	// Captions enables CEA-608 and CEA-708 extraction from H.264 and H.265 SEI.
	Captions bool
	// Link returns the downstream for a newly committed stream. Streams
	// for which it returns nil stay unlinked.
	Link func(s *demux.Stream[Track]) demux.Downstream
	// Engine is passed to demux.New. Its Log defaults to Log.
	Engine demux.Config
}

// Demuxer is an MPEG-TS handler for the demux engine. Only the first program
// of the PAT is demultiplexed.
type Demuxer struct {
	log    *slog.Logger
	cfg    Config
	engine *demux.Demuxer[Track]

	// streaming-thread state
	parser     *mpegts.Parser
	captions   *captionDecoder
	synced     bool
	program    uint16
	pmtPID     uint16
	pmtVersion int
	byPID      map[uint16]*demux.Stream[Track]
	dropped    int64

	// mu guards the rate estimate, which is read by duration and seek
	// handling on other goroutines.
	mu        sync.Mutex
	firstPTS  int64
	lastPTS   int64
	lastBytes int64
}

// New creates a Demuxer and its engine.
func New(cfg Config) *Demuxer {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Engine.Log == nil {
		cfg.Engine.Log = cfg.Log
	}
	if cfg.Engine.Name == "" {
		cfg.Engine.Name = "tsdemux"
	}
	t := &Demuxer{
		log:        cfg.Log.With("component", "tsdemux"),
		cfg:        cfg,
		parser:     mpegts.NewParser(cfg.Log),
		captions:   newCaptionDecoder(),
		pmtVersion: -1,
		byPID:      make(map[uint16]*demux.Stream[Track]),
		firstPTS:   mpegts.TimestampNone,
		lastPTS:    mpegts.TimestampNone,
	}
	t.engine = demux.New[Track](t, cfg.Engine)
	return t
}

// Engine returns the underlying demuxer.
func (t *Demuxer) Engine() *demux.Demuxer[Track] {
	return t.engine
}

// Stats returns the parser counters.
func (t *Demuxer) Stats() mpegts.Stats {
	return t.parser.Stats()
}

// Start implements demux.Starter.
func (t *Demuxer) Start(*demux.Demuxer[Track]) error {
	t.log.Debug("starting", "captions", t.cfg.Captions)
	return nil
}

// Stop implements demux.Stopper.
func (t *Demuxer) Stop(*demux.Demuxer[Track]) error {
	st := t.parser.Stats()
	t.log.Info("stopped",
		"packets", st.Packets,
		"corrupt", st.CorruptPackets,
		"cc_errors", st.CCErrors,
		"units", st.Units,
		"resync_bytes", t.dropped,
	)
	return nil
}

// Reset implements demux.Resetter. A soft reset follows a flush and keeps
// the stream layout; a hard reset forgets it.
func (t *Demuxer) Reset(d *demux.Demuxer[Track], hard bool) {
	t.parser.Reset()
	t.captions.reset()
	t.synced = false
	for _, s := range d.Streams() {
		s.Payload.segmented = false
	}
	if !hard {
		return
	}
	t.program = 0
	t.pmtPID = 0
	t.pmtVersion = -1
	t.dropped = 0
	clear(t.byPID)
	d.CommitPendingStreams()

	t.mu.Lock()
	t.firstPTS = mpegts.TimestampNone
	t.lastPTS = mpegts.TimestampNone
	t.lastBytes = 0
	t.mu.Unlock()
}

// HandleBuffer implements demux.Handler. Input is split into 188-byte
// packets, resynchronizing on the sync byte after a discontinuity or
// corruption.
func (t *Demuxer) HandleBuffer(d *demux.Demuxer[Track], buf *demux.Buffer) (demux.FlowReturn, int) {
	if buf.Discont {
		t.synced = false
	}

	var packets [][]byte
	d.WithAdapter(func(a *adapter.Adapter) {
		a.Push(buf.Data)
		for a.Available() >= mpegts.PacketSize {
			if !t.synced {
				all := a.Peek(a.Available())
				i := mpegts.FindSync(all)
				if i < 0 {
					// keep a possible partial packet start
					n := len(all) - mpegts.PacketSize + 1
					a.Flush(n)
					t.dropped += int64(n)
					return
				}
				a.Flush(i)
				t.dropped += int64(i)
				t.synced = true
				continue
			}
			pkt := a.Peek(mpegts.PacketSize)
			if pkt[0] != mpegts.SyncByte {
				t.log.Debug("lost sync", "offset", buf.Offset)
				t.synced = false
				continue
			}
			a.Flush(mpegts.PacketSize)
			packets = append(packets, pkt)
		}
	})

	for _, pkt := range packets {
		units, err := t.parser.Feed(pkt)
		if err != nil {
			t.log.Debug("bad packet", "error", err)
			continue
		}
		for _, u := range units {
			if ret := t.handleUnit(d, u, buf.Offset); ret != demux.FlowOK && ret != demux.FlowNotLinked {
				return ret, 0
			}
		}
	}
	return demux.FlowOK, 0
}

// SinkEvent implements demux.SinkEventHandler. Units still being
// accumulated are pushed out before end-of-stream.
func (t *Demuxer) SinkEvent(d *demux.Demuxer[Track], ev *demux.Event) bool {
	if ev.Type == demux.EventEOS {
		for _, u := range t.parser.Drain() {
			t.handleUnit(d, u, d.ByteOffset())
		}
	}
	return d.SinkEventDefault(ev)
}

// SrcEvent implements demux.SrcEventHandler. Byte and time seeks are turned
// into a packet-aligned byte seek; time seeks need an observed bitrate.
func (t *Demuxer) SrcEvent(d *demux.Demuxer[Track], s *demux.Stream[Track], ev *demux.Event) bool {
	if ev.Type != demux.EventSeek || ev.Seek == nil {
		return d.SrcEventDefault(s, ev)
	}
	seek := ev.Seek
	if seek.StartType != demux.SeekTypeSet || seek.Start < 0 {
		return false
	}

	var off int64
	switch seek.Format {
	case demux.FormatBytes:
		off = seek.Start
	case demux.FormatTime:
		rate, ok := t.byteRate()
		if !ok {
			t.log.Debug("time seek without bitrate estimate")
			return false
		}
		off = int64(float64(seek.Start) * rate)
	default:
		return false
	}
	off -= off % mpegts.PacketSize
	t.log.Debug("seek", "format", seek.Format, "start", seek.Start, "offset", off)
	return d.SeekToByteOffset(uint64(off))
}

// Duration implements demux.DurationGetter from the upstream size and the
// observed bitrate.
func (t *Demuxer) Duration(d *demux.Demuxer[Track]) (int64, bool) {
	rate, ok := t.byteRate()
	if !ok {
		return -1, false
	}
	q := demux.NewDurationQuery(demux.FormatBytes)
	if !d.SrcQueryDefault(nil, q) || q.Value <= 0 {
		return -1, false
	}
	return int64(float64(q.Value) / rate), true
}

// byteRate returns input bytes per nanosecond of PTS.
func (t *Demuxer) byteRate() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstPTS < 0 || t.lastPTS <= t.firstPTS || t.lastBytes <= 0 {
		return 0, false
	}
	span := ticksToDuration(t.lastPTS - t.firstPTS)
	return float64(t.lastBytes) / float64(span), true
}

func (t *Demuxer) observePTS(pts, offset int64) {
	if pts < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstPTS < 0 {
		t.firstPTS = pts
		return
	}
	if pts > t.lastPTS && offset > t.lastBytes {
		t.lastPTS = pts
		t.lastBytes = offset
	}
}

func (t *Demuxer) handleUnit(d *demux.Demuxer[Track], u *mpegts.Unit, offset int64) demux.FlowReturn {
	switch {
	case u.PAT != nil:
		t.onPAT(u.PAT)
	case u.PMT != nil:
		t.onPMT(d, u.PID, u.PMT)
	case u.PES != nil:
		return t.onPES(d, u, offset)
	case u.Section != nil:
		return t.onSection(d, u)
	}
	return demux.FlowOK
}

func (t *Demuxer) onPAT(pat *mpegts.PAT) {
	for _, p := range pat.Programs {
		if p.Number == 0 {
			continue // network PID
		}
		if t.program == 0 {
			t.log.Info("program selected", "program", p.Number, "pmt_pid", p.PMTPID)
			t.program, t.pmtPID = p.Number, p.PMTPID
		}
		if p.Number == t.program {
			t.pmtPID = p.PMTPID
			return
		}
	}
}

// onPMT declares one stream per supported elementary stream and commits
// them. Streams whose PID is still present are carried over.
func (t *Demuxer) onPMT(d *demux.Demuxer[Track], pid uint16, pmt *mpegts.PMT) {
	if pid != t.pmtPID || pmt.ProgramNumber != t.program {
		return
	}
	if int(pmt.Version) == t.pmtVersion {
		return
	}
	t.pmtVersion = int(pmt.Version)

	hasVideo := false
	for _, es := range pmt.Streams {
		info, ok := codecs[es.StreamType]
		if !ok {
			t.log.Debug("unsupported stream type", "pid", es.PID, "type", fmt.Sprintf("0x%02x", es.StreamType))
			continue
		}
		var flags demux.StreamFlags
		if info.kind == demux.KindData {
			flags = demux.StreamFlagSparse
		}
		s, err := d.DeclareStream(streamID(info.kind, es.PID), info.kind, flags)
		if err != nil {
			t.log.Warn("duplicate elementary stream", "pid", es.PID, "error", err)
			continue
		}
		s.Caps = info.name
		s.Payload.PID = es.PID
		s.Payload.StreamType = es.StreamType
		s.Payload.Codec = info.name
		s.Payload.Language = es.Language
		if es.StreamType == mpegts.StreamTypeH264 || es.StreamType == mpegts.StreamTypeH265 {
			hasVideo = true
		}
	}
	if hasVideo {
		for _, s := range d.Streams() {
			if s.Payload.Channel == 0 {
				continue
			}
			if _, err := d.DeclareStream(s.ID, s.Kind, s.Flags); err != nil {
				t.log.Warn("redeclare caption stream", "stream", s.ID, "error", err)
			}
		}
	}

	d.CommitPendingStreams()
	t.published(d)
	t.log.Info("program map", "program", pmt.ProgramNumber, "version", pmt.Version, "streams", len(t.byPID))
}

// published links new streams and rebuilds the PID index.
func (t *Demuxer) published(d *demux.Demuxer[Track]) {
	clear(t.byPID)
	for _, s := range d.Streams() {
		if s.Payload.Channel == 0 {
			t.byPID[s.Payload.PID] = s
		}
		if !s.Linked() && t.cfg.Link != nil {
			if ds := t.cfg.Link(s); ds != nil {
				s.Link(ds)
			}
		}
	}
}

func (t *Demuxer) onPES(d *demux.Demuxer[Track], u *mpegts.Unit, offset int64) demux.FlowReturn {
	s, ok := t.byPID[u.PID]
	if !ok {
		return demux.FlowOK
	}
	pes := u.PES
	t.observePTS(pes.PTS, offset)

	buf := demux.NewBuffer(pes.Data)
	buf.Offset = offset
	buf.PTS = ticksToDuration(pes.PTS)
	buf.DTS = ticksToDuration(pes.DTS)
	buf.Discont = u.Discont

	switch st := s.Payload.StreamType; st {
	case mpegts.StreamTypeH264, mpegts.StreamTypeH265:
		hevc := st == mpegts.StreamTypeH265
		nals := splitAnnexB(pes.Data, hevc)
		buf.Delta = !pes.RandomAccess && !isKeyframe(st, nals)
		if s.Payload.Params == "" {
			t.videoParams(s, nals, hevc)
		}
		if t.cfg.Captions {
			t.extractCaptions(d, nals, hevc, buf.PTS)
		}
	case mpegts.StreamTypeAAC:
		buf.Duration = adtsDuration(pes.Data)
		if s.Payload.Params == "" {
			if p, ok := adtsParams(pes.Data); ok {
				s.Payload.Params = p.codec
				s.Payload.SampleRate = p.sampleRate
				s.Payload.Channels = p.channels
				t.log.Info("audio parameters", "stream", s.ID, "codec", p.codec, "sample_rate", p.sampleRate, "channels", p.channels)
			}
		}
	}

	if !s.Payload.segmented {
		t.startSegment(s)
	}
	return d.PushBuffer(s, buf)
}

func (t *Demuxer) videoParams(s *demux.Stream[Track], nals []nalUnit, hevc bool) {
	for _, n := range nals {
		var (
			codec string
			ok    bool
		)
		switch {
		case !hevc && n.typ == nalH264SPS:
			codec, ok = avcCodecString(n.data)
		case hevc && n.typ == nalHEVCSPS:
			codec, ok = hevcCodecString(n.data)
		}
		if ok {
			s.Payload.Params = codec
			t.log.Info("video parameters", "stream", s.ID, "codec", codec)
			return
		}
	}
}

// startSegment anchors the stream's time segment at the first PTS seen in
// the program.
func (t *Demuxer) startSegment(s *demux.Stream[Track]) {
	t.mu.Lock()
	first := t.firstPTS
	t.mu.Unlock()
	if first < 0 {
		return
	}
	start := int64(ticksToDuration(first))
	s.UpdateSegment(func(seg *demux.Segment) {
		seg.Start = start
		seg.Time = 0
	})
	s.Payload.segmented = true
}

func (t *Demuxer) onSection(d *demux.Demuxer[Track], u *mpegts.Unit) demux.FlowReturn {
	s, ok := t.byPID[u.PID]
	if !ok {
		return demux.FlowOK
	}
	buf := demux.NewBuffer(u.Section)
	buf.Discont = u.Discont
	if s.Payload.StreamType == mpegts.StreamTypeSCTE35 {
		t.annotateSplice(s, buf)
	}
	return d.PushBuffer(s, buf)
}

// annotateSplice stamps a splice section with its splice time and break
// duration. Undecodable sections are passed on as they are.
func (t *Demuxer) annotateSplice(s *demux.Stream[Track], buf *demux.Buffer) {
	sp, err := scte35.Decode(buf.Data)
	if err != nil {
		t.log.Debug("undecodable splice section", "stream", s.ID, "error", err)
		return
	}
	buf.PTS = ticksToDuration(sp.PTS)
	buf.Duration = ticksToDuration(sp.Duration)
	t.log.Info("splice",
		"stream", s.ID,
		"command", sp.Command,
		"event_id", sp.EventID,
		"pts", buf.PTS,
		"duration", buf.Duration,
		"segmentations", len(sp.Segmentations),
	)
}

func (t *Demuxer) extractCaptions(d *demux.Demuxer[Track], nals []nalUnit, hevc bool, pts time.Duration) {
	for _, n := range nals {
		sei := (!hevc && n.typ == nalH264SEI) || (hevc && n.typ == nalHEVCSEIPref)
		if !sei {
			continue
		}
		for _, f := range t.captions.decode(n.data) {
			f.PTS = int64(pts)
			t.pushCaption(d, f)
		}
	}
}

func (t *Demuxer) pushCaption(d *demux.Demuxer[Track], f *ccx.CaptionFrame) {
	id := fmt.Sprintf("cc%d", f.Channel)
	s, ok := d.Stream(id)
	if !ok {
		s = t.addCaptionStream(d, id, f.Channel)
		if s == nil {
			return
		}
	}
	buf := demux.NewBuffer([]byte(f.Text))
	buf.PTS = time.Duration(f.PTS)
	d.PushBuffer(s, buf)
}

// addCaptionStream publishes a caption stream alongside the committed ones.
func (t *Demuxer) addCaptionStream(d *demux.Demuxer[Track], id string, channel int) *demux.Stream[Track] {
	for _, s := range d.Streams() {
		if _, err := d.DeclareStream(s.ID, s.Kind, s.Flags); err != nil {
			t.log.Warn("redeclare stream", "stream", s.ID, "error", err)
		}
	}
	s, err := d.DeclareStream(id, demux.KindText, demux.StreamFlagSparse)
	if err != nil {
		t.log.Warn("caption stream", "stream", id, "error", err)
		return nil
	}
	codec := "cea608"
	if channel > dtvccChannelBase {
		codec = "cea708"
	}
	s.Caps = codec
	s.Payload.Codec = codec
	s.Payload.Channel = channel
	d.CommitPendingStreams()
	t.published(d)
	t.log.Info("caption stream added", "stream", id)
	return s
}

func streamID(kind demux.StreamKind, pid uint16) string {
	return fmt.Sprintf("%s_%04x", kind, pid)
}
