package scte35

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/zsiec/basedemux/internal/mpegts"
)

var vectors = map[string]string{
	"ProviderAdStart":    "fc302700000000000000fff00506fe000dbba00011020f43554549000000017fbf0000300101ee197d02",
	"DistributorAdStart": "fc302c00000000000000fff00506fe000dbba00016021443554549000000027fff00002932e000003201031233f909",
	"SpliceInsertOut":    "fc303200000000000000fff01005000000057fbf00fe007b98a0000101010011020f43554549000000057fbf00002201017f1add87",
	"SpliceInsertIn":     "fc302d00000000000000fff00b05000000067f1f00000101010011020f43554549000000067fbf0000230101c2262974",
	"ChapterStart":       "fc302c00000000000000fff00506fe000dbba00016021443554549000000097fff00019bfcc00000200105bb3c1919",
}

func vector(t *testing.T, name string) []byte {
	t.Helper()
	data, err := hex.DecodeString(vectors[name])
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return data
}

// resign recomputes the CRC after a test modifies a section.
func resign(section []byte) []byte {
	n := len(section) - 4
	binary.BigEndian.PutUint32(section[n:], mpegts.CRC32(section[:n]))
	return section
}

func TestDecodeTimeSignal(t *testing.T) {
	t.Parallel()

	sp, err := Decode(vector(t, "ProviderAdStart"))
	if err != nil {
		t.Fatal(err)
	}
	if sp.Command != TimeSignal {
		t.Errorf("Command = %v", sp.Command)
	}
	if sp.PTS != 900000 {
		t.Errorf("PTS = %d, want 900000", sp.PTS)
	}
	if sp.Tier != 0xFFF {
		t.Errorf("Tier = %#x", sp.Tier)
	}
	if len(sp.Segmentations) != 1 {
		t.Fatalf("segmentations = %d, want 1", len(sp.Segmentations))
	}
	seg := sp.Segmentations[0]
	if seg.EventID != 1 || seg.TypeID != 0x30 || seg.Num != 1 || seg.Expected != 1 {
		t.Errorf("segmentation = %+v", seg)
	}
	if seg.Duration != NoTime {
		t.Errorf("segmentation duration = %d, want none", seg.Duration)
	}
}

func TestDecodeSegmentationDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		typeID   uint8
		duration int64
		expected uint8
	}{
		{"DistributorAdStart", 0x32, 30 * 90000, 3},
		{"ChapterStart", 0x20, 0x19bfcc0, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sp, err := Decode(vector(t, tc.name))
			if err != nil {
				t.Fatal(err)
			}
			seg := sp.Segmentations[0]
			if seg.TypeID != tc.typeID || seg.Duration != tc.duration || seg.Expected != tc.expected {
				t.Errorf("segmentation = %+v", seg)
			}
		})
	}
}

func TestDecodeSpliceInsert(t *testing.T) {
	t.Parallel()

	out, err := Decode(vector(t, "SpliceInsertOut"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Command != SpliceInsert || out.EventID != 5 {
		t.Errorf("out = %+v", out)
	}
	if !out.OutOfNetwork || !out.Immediate {
		t.Errorf("out flags: out_of_network=%v immediate=%v", out.OutOfNetwork, out.Immediate)
	}
	if out.PTS != NoTime {
		t.Errorf("immediate splice PTS = %d", out.PTS)
	}
	if out.Duration != 90*90000 {
		t.Errorf("break duration = %d, want %d", out.Duration, 90*90000)
	}

	in, err := Decode(vector(t, "SpliceInsertIn"))
	if err != nil {
		t.Fatal(err)
	}
	if in.OutOfNetwork || in.Duration != NoTime || in.EventID != 6 {
		t.Errorf("in = %+v", in)
	}
}

func TestDecodeAppliesPTSAdjustment(t *testing.T) {
	t.Parallel()

	data := vector(t, "ProviderAdStart")
	// pts_adjustment is the low bit of byte 4 and bytes 5..8.
	data[4] |= 0x01
	data[5], data[6], data[7], data[8] = 0, 0, 0, 10
	sp, err := Decode(resign(data))
	if err != nil {
		t.Fatal(err)
	}
	if sp.PTSAdjustment != 1<<32|10 {
		t.Fatalf("PTSAdjustment = %#x", sp.PTSAdjustment)
	}
	if want := int64(900000 + 1<<32 + 10); sp.PTS != want {
		t.Errorf("PTS = %d, want %d", sp.PTS, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	good := vector(t, "ProviderAdStart")

	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xFF
	if _, err := Decode(corrupt); !errors.Is(err, mpegts.ErrCRC) {
		t.Errorf("corrupt CRC: %v", err)
	}

	if _, err := Decode([]byte{0x02, 0xB0, 0x0D}); !errors.Is(err, ErrNotSplice) {
		t.Errorf("wrong table: %v", err)
	}
	if _, err := Decode(good[:20]); !errors.Is(err, ErrShort) {
		t.Errorf("truncated: %v", err)
	}

	encrypted := append([]byte(nil), good...)
	encrypted[4] |= 0x80
	if _, err := Decode(resign(encrypted)); !errors.Is(err, ErrEncrypted) {
		t.Errorf("encrypted: %v", err)
	}

	badLoop := append([]byte(nil), good...)
	// descriptor_loop_length follows the 5-byte time_signal at offset 19.
	badLoop[19], badLoop[20] = 0x00, 0x40
	if _, err := Decode(resign(badLoop)); !errors.Is(err, ErrShort) {
		t.Errorf("oversized descriptor loop: %v", err)
	}
}

func TestCommandString(t *testing.T) {
	t.Parallel()

	if got := TimeSignal.String(); got != "time_signal" {
		t.Errorf("got %q", got)
	}
	if got := Command(0x42).String(); got != "command(0x42)" {
		t.Errorf("got %q", got)
	}
}
