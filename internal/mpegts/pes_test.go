package mpegts

import (
	"bytes"
	"testing"
)

func TestParsePES(t *testing.T) {
	t.Parallel()
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	tests := []struct {
		name     string
		streamID byte
		pts, dts int64
	}{
		{"pts only", 0xC0, 90000, TimestampNone},
		{"pts and dts", 0xE0, 183003, 180000},
		{"no timestamps", 0xC0, TimestampNone, TimestampNone},
		{"33-bit pts", 0xC0, 1<<33 - 1, TimestampNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pes, err := parsePES(buildPES(tt.streamID, tt.pts, tt.dts, data))
			if err != nil {
				t.Fatal(err)
			}
			if pes.StreamID != tt.streamID {
				t.Errorf("StreamID = 0x%02X, want 0x%02X", pes.StreamID, tt.streamID)
			}
			if pes.PTS != tt.pts {
				t.Errorf("PTS = %d, want %d", pes.PTS, tt.pts)
			}
			if pes.DTS != tt.dts {
				t.Errorf("DTS = %d, want %d", pes.DTS, tt.dts)
			}
			if !bytes.Equal(pes.Data, data) {
				t.Errorf("Data = %x, want %x", pes.Data, data)
			}
		})
	}
}

func TestParsePES_BoundedLengthTrimsStuffing(t *testing.T) {
	t.Parallel()
	payload := append(buildPES(0xC0, 0, TimestampNone, []byte{1, 2, 3}), 0xFF, 0xFF, 0xFF)
	pes, err := parsePES(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pes.Data, []byte{1, 2, 3}) {
		t.Errorf("Data = %x, want 010203", pes.Data)
	}
}

func TestParsePES_PaddingStream(t *testing.T) {
	t.Parallel()
	payload := []byte{0x00, 0x00, 0x01, 0xBE, 0x00, 0x02, 0xFF, 0xFF}
	pes, err := parsePES(payload)
	if err != nil {
		t.Fatal(err)
	}
	if pes.PTS != TimestampNone || len(pes.Data) != 2 {
		t.Errorf("padding stream parsed as %+v", pes)
	}
}

func TestParsePES_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := parsePES([]byte{0x00, 0x00, 0x02, 0xE0, 0, 0}); err == nil {
		t.Error("expected error for bad start code")
	}
	if _, err := parsePES([]byte{0x00, 0x00, 0x01}); err == nil {
		t.Error("expected error for short packet")
	}
}
