package tsdemux

import (
	"time"

	"github.com/zsiec/basedemux/demux"
	"github.com/zsiec/basedemux/internal/mpegts"
)

// H.264 and H.265 NAL unit types used for keyframe and caption detection.
const (
	nalH264IDR = 5
	nalH264SEI = 6
	nalH264SPS = 7

	nalHEVCBLAWLP  = 16
	nalHEVCCRA     = 21
	nalHEVCSPS     = 33
	nalHEVCSEIPref = 39
)

type codecInfo struct {
	name string
	kind demux.StreamKind
}

var codecs = map[uint8]codecInfo{
	mpegts.StreamTypeMPEG1Video: {"mpeg1video", demux.KindVideo},
	mpegts.StreamTypeMPEG2Video: {"mpeg2video", demux.KindVideo},
	mpegts.StreamTypeH264:       {"h264", demux.KindVideo},
	mpegts.StreamTypeH265:       {"h265", demux.KindVideo},
	mpegts.StreamTypeMPEG1Audio: {"mp1", demux.KindAudio},
	mpegts.StreamTypeMPEG2Audio: {"mp2", demux.KindAudio},
	mpegts.StreamTypeAAC:        {"aac", demux.KindAudio},
	mpegts.StreamTypeAACLATM:    {"aac-latm", demux.KindAudio},
	mpegts.StreamTypeAC3:        {"ac3", demux.KindAudio},
	mpegts.StreamTypeEAC3:       {"eac3", demux.KindAudio},
	mpegts.StreamTypeSCTE35:     {"scte35", demux.KindData},
}

// nalUnit is one Annex B NAL unit without its start code.
type nalUnit struct {
	typ  byte
	data []byte
}

// splitAnnexB splits an Annex B byte stream on 3- and 4-byte start codes.
func splitAnnexB(data []byte, hevc bool) []nalUnit {
	var starts [][2]int // start code offset, payload offset
	for i := 0; i+2 < len(data); {
		if data[i] == 0 && data[i+1] == 0 {
			if data[i+2] == 1 {
				starts = append(starts, [2]int{i, i + 3})
				i += 3
				continue
			}
			if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				starts = append(starts, [2]int{i, i + 4})
				i += 4
				continue
			}
		}
		i++
	}

	units := make([]nalUnit, 0, len(starts))
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		if s[1] >= end {
			continue
		}
		nal := data[s[1]:end]
		typ := nal[0] & 0x1F
		if hevc {
			if len(nal) < 2 {
				continue
			}
			typ = nal[0] >> 1 & 0x3F
		}
		units = append(units, nalUnit{typ: typ, data: nal})
	}
	return units
}

// isKeyframe reports whether an access unit can be decoded on its own.
func isKeyframe(streamType uint8, nals []nalUnit) bool {
	for _, n := range nals {
		switch streamType {
		case mpegts.StreamTypeH264:
			if n.typ == nalH264IDR || n.typ == nalH264SPS {
				return true
			}
		case mpegts.StreamTypeH265:
			if n.typ >= nalHEVCBLAWLP && n.typ <= nalHEVCCRA {
				return true
			}
		}
	}
	return false
}

var adtsSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// adtsDuration sums the durations of the ADTS frames in data. It returns
// demux.ClockTimeNone when no complete frame is found.
func adtsDuration(data []byte) time.Duration {
	var total time.Duration
	found := false
	for pos := 0; pos+7 <= len(data); {
		if data[pos] != 0xFF || data[pos+1]&0xF0 != 0xF0 {
			pos++
			continue
		}
		rate := int(data[pos+2] >> 2 & 0x0F)
		if rate >= len(adtsSampleRates) {
			break
		}
		frameLen := int(data[pos+3]&0x03)<<11 | int(data[pos+4])<<3 | int(data[pos+5]>>5)
		if frameLen < 7 || pos+frameLen > len(data) {
			break
		}
		total += time.Duration(1024) * time.Second / time.Duration(adtsSampleRates[rate])
		found = true
		pos += frameLen
	}
	if !found {
		return demux.ClockTimeNone
	}
	return total
}

// ticksToDuration converts a 90 kHz timestamp.
func ticksToDuration(ticks int64) time.Duration {
	if ticks < 0 {
		return demux.ClockTimeNone
	}
	return time.Duration(ticks) * time.Second / 90000
}
