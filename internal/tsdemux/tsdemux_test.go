package tsdemux

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	"github.com/zsiec/basedemux/demux"
	"github.com/zsiec/basedemux/internal/mpegts"
	"github.com/zsiec/basedemux/internal/mpegts/mpegtstest"
)

func TestDeclaresStreamsFromPMT(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	h.chain(t, concat(program()[:2]), mpegts.PacketSize)

	streams := h.ts.Engine().Streams()
	if len(streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(streams))
	}
	want := []struct {
		id, caps string
		kind     demux.StreamKind
		pid      uint16
	}{
		{"video_0100", "h264", demux.KindVideo, pidVideo},
		{"audio_0101", "aac", demux.KindAudio, pidAudio},
	}
	for i, w := range want {
		s := streams[i]
		if s.ID != w.id || s.Caps != w.caps || s.Kind != w.kind || s.Payload.PID != w.pid {
			t.Errorf("stream %d = %s/%s/%v/%#x, want %s/%s/%v/%#x",
				i, s.ID, s.Caps, s.Kind, s.Payload.PID, w.id, w.caps, w.kind, w.pid)
		}
		if !s.Linked() {
			t.Errorf("stream %s not linked", s.ID)
		}
	}
}

func TestPushesTimestampedUnits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	h.chain(t, concat(program()), mpegts.PacketSize)
	h.eos()

	video := h.out(t, "video_0100").Buffers()
	if len(video) != 2 {
		t.Fatalf("video buffers = %d, want 2", len(video))
	}
	if video[0].PTS != time.Second {
		t.Errorf("first PTS = %v, want 1s", video[0].PTS)
	}
	if video[0].Delta {
		t.Error("IDR access unit marked as delta")
	}
	if !video[0].Discont {
		t.Error("first buffer should be discontinuous")
	}
	if !bytes.HasPrefix(video[0].Data, idrAU) {
		t.Errorf("first payload = % x", video[0].Data[:len(idrAU)])
	}
	if !video[1].Delta || video[1].Discont {
		t.Errorf("second buffer delta=%v discont=%v, want delta only", video[1].Delta, video[1].Discont)
	}
	if want := ticksToDuration(93003); video[1].PTS != want {
		t.Errorf("second PTS = %v, want %v", video[1].PTS, want)
	}

	audio := h.out(t, "audio_0101").Buffers()
	if len(audio) != 1 {
		t.Fatalf("audio buffers = %d, want 1", len(audio))
	}
	if want := time.Duration(1024) * time.Second / 48000; audio[0].Duration != want {
		t.Errorf("audio duration = %v, want %v", audio[0].Duration, want)
	}
	if len(audio[0].Data) != 7+16 {
		t.Errorf("audio payload = %d bytes, want %d", len(audio[0].Data), 7+16)
	}
}

func TestSegmentStartsAtFirstPTS(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	h.chain(t, concat(program()), mpegts.PacketSize)
	h.eos()

	events := h.out(t, "video_0100").Events()
	want := []demux.EventType{demux.EventStreamStart, demux.EventSegment, demux.EventEOS}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", h.out(t, "video_0100").EventTypes(), want)
	}
	for i := range want {
		if events[i].Type != want[i] {
			t.Fatalf("events = %v, want %v", h.out(t, "video_0100").EventTypes(), want)
		}
	}
	if got := events[1].Segment.Start; got != int64(time.Second) {
		t.Errorf("segment start = %d, want %d", got, int64(time.Second))
	}
	if got := events[0].StreamID; got != "video_0100" {
		t.Errorf("stream-start id = %q", got)
	}
}

func TestResyncsAfterGarbage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	data := append(bytes.Repeat([]byte{0x00}, 57), concat(program())...)
	h.chain(t, data, 100)
	h.eos()

	if got := len(h.out(t, "video_0100").Buffers()); got != 2 {
		t.Fatalf("video buffers = %d, want 2", got)
	}
	if got := h.ts.Stats().CorruptPackets; got != 0 {
		t.Fatalf("corrupt packets = %d, want 0", got)
	}
	if h.ts.dropped != 57 {
		t.Fatalf("dropped = %d, want 57", h.ts.dropped)
	}
}

func TestPMTUpdateCarriesStreams(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	h.chain(t, concat(program()[:2]), mpegts.PacketSize)
	video, ok := h.ts.Engine().Stream("video_0100")
	if !ok {
		t.Fatal("video stream missing")
	}

	// Same version again changes nothing.
	h.chain(t, pmtPacket(0, 1, es{Type: mpegts.StreamTypeH264, PID: pidVideo}), mpegts.PacketSize)
	if got := len(h.ts.Engine().Streams()); got != 2 {
		t.Fatalf("streams after repeated PMT = %d, want 2", got)
	}

	h.chain(t, pmtPacket(1, 2, es{Type: mpegts.StreamTypeH264, PID: pidVideo}), mpegts.PacketSize)
	streams := h.ts.Engine().Streams()
	if len(streams) != 1 || streams[0] != video {
		t.Fatalf("streams after update = %v, want the original video stream", streams)
	}
	if _, ok := h.ts.Engine().Stream("audio_0101"); ok {
		t.Fatal("audio stream should have been released")
	}
}

func TestSCTE35Sections(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	splice := []byte{0xFC, 0x30, 0x11, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xF0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	h.chain(t, concat([][]byte{
		patPacket(),
		pmtPacket(0, 0, es{Type: mpegts.StreamTypeH264, PID: pidVideo}, es{Type: mpegts.StreamTypeSCTE35, PID: pidSCTE}),
		packet(pidSCTE, 0, true, append([]byte{0x00}, splice...)),
	}), mpegts.PacketSize)

	s, ok := h.ts.Engine().Stream("data_01f4")
	if !ok {
		t.Fatal("scte35 stream missing")
	}
	if s.Flags&demux.StreamFlagSparse == 0 {
		t.Error("scte35 stream should be sparse")
	}
	bufs := h.out(t, "data_01f4").Buffers()
	if len(bufs) != 1 {
		t.Fatalf("section buffers = %d, want 1", len(bufs))
	}
	if !bytes.Equal(bufs[0].Data, splice) {
		t.Fatalf("section = % x, want % x", bufs[0].Data, splice)
	}
}

func TestByteSeekIsPacketAligned(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	h.chain(t, concat(program()[:2]), mpegts.PacketSize)
	video, _ := h.ts.Engine().Stream("video_0100")

	ok := video.SendEvent(demux.NewSeekEvent(1.0, demux.FormatBytes, demux.SeekFlagFlush, demux.SeekTypeSet, 1000, demux.SeekTypeNone, -1))
	if !ok {
		t.Fatal("seek rejected")
	}
	sent := h.src.sent()
	if len(sent) != 1 || sent[0].Seek == nil {
		t.Fatalf("upstream events = %v, want one seek", sent)
	}
	if got := sent[0].Seek; got.Format != demux.FormatBytes || got.Start != 940 {
		t.Fatalf("upstream seek = %+v, want bytes at 940", got)
	}
}

func TestTimeSeekAndDurationFromBitrate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	h.chain(t, concat(program()[:2]), mpegts.PacketSize)
	video, _ := h.ts.Engine().Stream("video_0100")

	if video.SendEvent(demux.NewSeekEvent(1.0, demux.FormatTime, demux.SeekFlagFlush, demux.SeekTypeSet, int64(time.Second), demux.SeekTypeNone, -1)) {
		t.Fatal("time seek accepted without a bitrate estimate")
	}
	if len(h.src.sent()) != 0 {
		t.Fatal("nothing should have been sent upstream")
	}

	h.chain(t, concat(program()[2:]), mpegts.PacketSize)
	h.eos()

	// The second video unit completes at end of stream, after 5 packets,
	// 3003 ticks after the first.
	span := ticksToDuration(3003)
	seekTo := span * 3 / 2
	if !video.SendEvent(demux.NewSeekEvent(1.0, demux.FormatTime, demux.SeekFlagFlush, demux.SeekTypeSet, int64(seekTo), demux.SeekTypeNone, -1)) {
		t.Fatal("time seek rejected")
	}
	sent := h.src.sent()
	if len(sent) != 1 || sent[0].Seek.Start != 7*mpegts.PacketSize {
		t.Fatalf("upstream seek = %+v, want bytes at %d", sent[0].Seek, 7*mpegts.PacketSize)
	}

	h.src.size = 50 * mpegts.PacketSize
	q := demux.NewDurationQuery(demux.FormatTime)
	if !h.ts.Engine().Query(q) {
		t.Fatal("duration query unanswered")
	}
	want := 10 * span
	if diff := time.Duration(q.Value) - want; diff < -time.Millisecond || diff > time.Millisecond {
		t.Fatalf("duration = %v, want about %v", time.Duration(q.Value), want)
	}
}

func TestFlushDropsPartialUnits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	pkts := program()
	h.chain(t, concat(pkts[:3]), mpegts.PacketSize)

	e := h.ts.Engine()
	e.SinkEvent(demux.NewFlushStartEvent())
	e.SinkEvent(demux.NewFlushStopEvent())

	if got := len(e.Streams()); got != 2 {
		t.Fatalf("streams after flush = %d, want 2", got)
	}
	h.eos()
	if got := len(h.out(t, "video_0100").Buffers()); got != 0 {
		t.Fatalf("video buffers = %d, want the partial unit dropped", got)
	}
	types := h.out(t, "video_0100").EventTypes()
	want := []demux.EventType{demux.EventFlushStart, demux.EventFlushStop, demux.EventEOS}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestDeactivateReleasesStreams(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	h.chain(t, concat(program()[:2]), mpegts.PacketSize)
	if err := h.ts.Engine().Deactivate(); err != nil {
		t.Fatal(err)
	}
	if got := len(h.ts.Engine().Streams()); got != 0 {
		t.Fatalf("streams after deactivate = %d, want 0", got)
	}

	// A fresh activation rebuilds the layout from the next PMT.
	if err := h.ts.Engine().Activate(); err != nil {
		t.Fatal(err)
	}
	h.chain(t, concat(program()[:2]), mpegts.PacketSize)
	if got := len(h.ts.Engine().Streams()); got != 2 {
		t.Fatalf("streams after reactivation = %d, want 2", got)
	}
}

func TestSpliceSectionsCarrySpliceTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	// time_signal at 900000 ticks with a provider ad start descriptor.
	splice, err := hex.DecodeString("fc302700000000000000fff00506fe000dbba00011020f43554549000000017fbf0000300101ee197d02")
	if err != nil {
		t.Fatal(err)
	}
	h.chain(t, concat([][]byte{
		patPacket(),
		pmtPacket(0, 0, es{Type: mpegts.StreamTypeH264, PID: pidVideo}, es{Type: mpegts.StreamTypeSCTE35, PID: pidSCTE}),
		packet(pidSCTE, 0, true, append([]byte{0x00}, splice...)),
	}), mpegts.PacketSize)

	bufs := h.out(t, "data_01f4").Buffers()
	if len(bufs) != 1 {
		t.Fatalf("section buffers = %d, want 1", len(bufs))
	}
	if bufs[0].PTS != 10*time.Second {
		t.Errorf("splice PTS = %v, want 10s", bufs[0].PTS)
	}
	if !bytes.Equal(bufs[0].Data, splice) {
		t.Errorf("section altered")
	}
}

// cea608SEI builds an H.264 SEI NAL unit carrying field 1 CEA-608 byte
// pairs in an ATSC A/53 user data payload.
func cea608SEI(pairs ...[2]byte) []byte {
	payload := []byte{0xB5, 0x00, 0x31, 'G', 'A', '9', '4', 0x03, 0xC0 | byte(len(pairs)), 0xFF}
	for _, p := range pairs {
		payload = append(payload, 0xFC, oddParity(p[0]), oddParity(p[1]))
	}
	payload = append(payload, 0xFF)
	sei := []byte{0x06, 0x04, byte(len(payload))}
	sei = append(sei, payload...)
	return append(sei, 0x80)
}

func oddParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		b |= 0x80
	}
	return b
}

func TestCaptionStreamFromSEI(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	rollUp2 := [2]byte{0x14, 0x25}
	carriageReturn := [2]byte{0x14, 0x2D}
	au := append([]byte{0, 0, 0, 1}, cea608SEI(rollUp2, rollUp2, [2]byte{'H', 'I'}, carriageReturn, carriageReturn)...)
	au = append(au, idrAU...)

	h.chain(t, concat([][]byte{
		patPacket(),
		pmtPacket(0, 0, es{Type: mpegts.StreamTypeH264, PID: pidVideo}),
		packet(pidVideo, 0, true, mpegtstest.PES(0xE0, 90000, au)),
	}), mpegts.PacketSize)
	h.eos()

	s, ok := h.ts.Engine().Stream("cc1")
	if !ok {
		t.Fatal("caption stream not declared")
	}
	if s.Kind != demux.KindText || s.Flags&demux.StreamFlagSparse == 0 || s.Caps != "cea608" {
		t.Errorf("caption stream = kind %v flags %v caps %q", s.Kind, s.Flags, s.Caps)
	}

	found := false
	for _, b := range h.out(t, "cc1").Buffers() {
		if bytes.Contains(b.Data, []byte("HI")) {
			found = true
			if b.PTS != time.Second {
				t.Errorf("caption PTS = %v, want 1s", b.PTS)
			}
		}
	}
	if !found {
		t.Error("no caption buffer with the decoded text")
	}
	if types := h.out(t, "cc1").EventTypes(); len(types) == 0 || types[len(types)-1] != demux.EventEOS {
		t.Errorf("caption events = %v, want trailing EOS", types)
	}
}

func TestPMTUpdateKeepsCaptionStreams(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	rollUp2 := [2]byte{0x14, 0x25}
	carriageReturn := [2]byte{0x14, 0x2D}
	au := append([]byte{0, 0, 0, 1}, cea608SEI(rollUp2, rollUp2, [2]byte{'O', 'K'}, carriageReturn, carriageReturn)...)
	au = append(au, idrAU...)

	h.chain(t, concat([][]byte{
		patPacket(),
		pmtPacket(0, 0, es{Type: mpegts.StreamTypeH264, PID: pidVideo}),
		packet(pidVideo, 0, true, mpegtstest.PES(0xE0, 90000, au)),
		packet(pidVideo, 1, true, mpegtstest.PES(0xE0, 93003, sliceAU)),
	}), mpegts.PacketSize)
	before, ok := h.ts.Engine().Stream("cc1")
	if !ok {
		t.Fatal("caption stream not declared")
	}

	h.chain(t, pmtPacket(1, 1, es{Type: mpegts.StreamTypeH264, PID: pidVideo}, es{Type: mpegts.StreamTypeAAC, PID: pidAudio}), mpegts.PacketSize)

	var ids []string
	for _, s := range h.ts.Engine().Streams() {
		ids = append(ids, s.ID)
	}
	want := []string{"video_0100", "audio_0101", "cc1"}
	if len(ids) != len(want) {
		t.Fatalf("streams after update = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("streams after update = %v, want %v", ids, want)
		}
	}
	after, _ := h.ts.Engine().Stream("cc1")
	if after != before || after.Payload.Channel != 1 {
		t.Error("caption stream replaced by the program map update")
	}
}
