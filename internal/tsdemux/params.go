package tsdemux

import (
	"fmt"
	"math/bits"
	"strings"
)

// avcCodecString returns the RFC 6381 codec string of an H.264 SPS NAL unit,
// e.g. "avc1.64001F".
func avcCodecString(sps []byte) (string, bool) {
	if len(sps) < 4 {
		return "", false
	}
	return fmt.Sprintf("avc1.%02X%02X%02X", sps[1], sps[2], sps[3]), true
}

// hevcCodecString returns the RFC 6381 codec string of an H.265 SPS NAL unit
// from its general profile_tier_level, e.g. "hev1.1.6.L93.B0".
func hevcCodecString(sps []byte) (string, bool) {
	if len(sps) < 3 {
		return "", false
	}
	rbsp := unescapeRBSP(sps[2:])
	// vps id, max sub layers and nesting flag take the first byte; the
	// general profile_tier_level follows byte aligned.
	if len(rbsp) < 13 {
		return "", false
	}
	ptl := rbsp[1:]
	space := ptl[0] >> 6
	tier := "L"
	if ptl[0]&0x20 != 0 {
		tier = "H"
	}
	profile := ptl[0] & 0x1F
	compat := uint32(ptl[1])<<24 | uint32(ptl[2])<<16 | uint32(ptl[3])<<8 | uint32(ptl[4])
	constraints := ptl[5:11]
	level := ptl[11]

	var sb strings.Builder
	sb.WriteString("hev1.")
	if space > 0 {
		sb.WriteByte("ABC"[space-1])
	}
	fmt.Fprintf(&sb, "%d.%X.%s%d", profile, bits.Reverse32(compat), tier, level)

	last := -1
	for i := len(constraints) - 1; i >= 0; i-- {
		if constraints[i] != 0 {
			last = i
			break
		}
	}
	for i := 0; i <= last; i++ {
		fmt.Fprintf(&sb, ".%X", constraints[i])
	}
	return sb.String(), true
}

// unescapeRBSP removes emulation prevention bytes (0x000003).
func unescapeRBSP(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// audioParams describes an ADTS stream.
type audioParams struct {
	codec      string
	sampleRate int
	channels   int
}

// adtsParams reads the first ADTS header in data.
func adtsParams(data []byte) (audioParams, bool) {
	for pos := 0; pos+7 <= len(data); pos++ {
		if data[pos] != 0xFF || data[pos+1]&0xF0 != 0xF0 {
			continue
		}
		rate := int(data[pos+2] >> 2 & 0x0F)
		if rate >= len(adtsSampleRates) {
			return audioParams{}, false
		}
		objectType := int(data[pos+2]>>6) + 1
		channels := int(data[pos+2]&0x01)<<2 | int(data[pos+3]>>6)
		return audioParams{
			codec:      fmt.Sprintf("mp4a.40.%d", objectType),
			sampleRate: adtsSampleRates[rate],
			channels:   channels,
		}, true
	}
	return audioParams{}, false
}
