package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT    = 0x00
	tableIDPMT    = 0x02
	tableIDSplice = 0xFC

	descriptorLanguage = 0x0A
)

// ErrShortSection reports a section truncated before its fixed fields.
var ErrShortSection = errors.New("mpegts: section too short")

// splitSections walks the sections of a PSI payload, skipping the pointer
// field, and calls fn with each complete section including its CRC.
func splitSections(payload []byte, fn func(tableID byte, section []byte) error) error {
	if len(payload) < 1 {
		return ErrShortSection
	}
	pos := 1 + int(payload[0])
	if pos >= len(payload) {
		return fmt.Errorf("mpegts: pointer field %d out of range", payload[0])
	}
	for pos+3 <= len(payload) {
		tableID := payload[pos]
		if tableID == 0xFF {
			break
		}
		if payload[pos+1]&0x80 == 0 && tableID != tableIDSplice {
			break
		}
		end := pos + 3 + (int(payload[pos+1]&0x0F)<<8 | int(payload[pos+2]))
		if end > len(payload) {
			return fmt.Errorf("mpegts: section 0x%02X truncated", tableID)
		}
		if err := fn(tableID, payload[pos:end]); err != nil {
			return err
		}
		pos = end
	}
	return nil
}

// parsePAT decodes a PAT section. Program 0 (the NIT) is skipped.
func parsePAT(s []byte) (*PAT, error) {
	if len(s) < 12 {
		return nil, fmt.Errorf("PAT: %w", ErrShortSection)
	}
	if err := checkCRC(s); err != nil {
		return nil, fmt.Errorf("PAT: %w", err)
	}
	pat := &PAT{
		TransportStreamID: uint16(s[3])<<8 | uint16(s[4]),
		Version:           s[5] >> 1 & 0x1F,
	}
	for i := 8; i+4 <= len(s)-4; i += 4 {
		num := uint16(s[i])<<8 | uint16(s[i+1])
		if num == 0 {
			continue
		}
		pat.Programs = append(pat.Programs, Program{
			Number: num,
			PMTPID: uint16(s[i+2]&0x1F)<<8 | uint16(s[i+3]),
		})
	}
	return pat, nil
}

// parsePMT decodes a PMT section including ISO 639 language descriptors.
func parsePMT(s []byte) (*PMT, error) {
	if len(s) < 16 {
		return nil, fmt.Errorf("PMT: %w", ErrShortSection)
	}
	if err := checkCRC(s); err != nil {
		return nil, fmt.Errorf("PMT: %w", err)
	}
	pmt := &PMT{
		ProgramNumber: uint16(s[3])<<8 | uint16(s[4]),
		Version:       s[5] >> 1 & 0x1F,
		PCRPID:        uint16(s[8]&0x1F)<<8 | uint16(s[9]),
	}
	end := len(s) - 4
	pos := 12 + (int(s[10]&0x0F)<<8 | int(s[11]))
	for pos+5 <= end {
		es := ElementaryStream{
			StreamType: s[pos],
			PID:        uint16(s[pos+1]&0x1F)<<8 | uint16(s[pos+2]),
		}
		infoLen := int(s[pos+3]&0x0F)<<8 | int(s[pos+4])
		pos += 5
		if pos+infoLen > end {
			return nil, fmt.Errorf("PMT: ES info for PID %d truncated", es.PID)
		}
		es.Language = findLanguage(s[pos : pos+infoLen])
		pmt.Streams = append(pmt.Streams, es)
		pos += infoLen
	}
	return pmt, nil
}

func findLanguage(desc []byte) string {
	for len(desc) >= 2 {
		tag, n := desc[0], int(desc[1])
		if 2+n > len(desc) {
			return ""
		}
		if tag == descriptorLanguage && n >= 3 {
			return string(desc[2:5])
		}
		desc = desc[2+n:]
	}
	return ""
}
