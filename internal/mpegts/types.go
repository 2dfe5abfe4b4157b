// Package mpegts parses MPEG transport streams one packet at a time. It
// reassembles PAT and PMT sections, private sections and PES packets per
// PID and reports them as Units.
package mpegts

// PacketSize is the size of a transport stream packet.
const PacketSize = 188

// SyncByte starts every transport stream packet.
const SyncByte = 0x47

// TimestampNone marks an absent PTS, DTS or PCR.
const TimestampNone int64 = -1

// PMT stream types.
const (
	StreamTypeMPEG1Video  uint8 = 0x01
	StreamTypeMPEG2Video  uint8 = 0x02
	StreamTypeMPEG1Audio  uint8 = 0x03
	StreamTypeMPEG2Audio  uint8 = 0x04
	StreamTypePrivateData uint8 = 0x06
	StreamTypeAAC         uint8 = 0x0F
	StreamTypeAACLATM     uint8 = 0x11
	StreamTypeH264        uint8 = 0x1B
	StreamTypeH265        uint8 = 0x24
	StreamTypeAC3         uint8 = 0x81
	StreamTypeSCTE35      uint8 = 0x86
	StreamTypeEAC3        uint8 = 0x87
)

// Packet is one parsed transport stream packet.
type Packet struct {
	Header  Header
	PCR     int64 // 27 MHz program clock reference, TimestampNone if absent
	Payload []byte
}

// Header holds the fixed header and adaptation field flags of a packet.
type Header struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// Unit is one reassembled payload unit. Exactly one of PAT, PMT, PES or
// Section is set.
type Unit struct {
	PID uint16
	// Discont is set when packets were lost on PID before this unit.
	Discont bool

	PAT     *PAT
	PMT     *PMT
	PES     *PES
	Section []byte // private section, e.g. SCTE-35
}

// PAT is a Program Association Table.
type PAT struct {
	TransportStreamID uint16
	Version           uint8
	Programs          []Program
}

// Program maps a program number to the PID of its PMT.
type Program struct {
	Number uint16
	PMTPID uint16
}

// PMT is a Program Map Table.
type PMT struct {
	ProgramNumber uint16
	Version       uint8
	PCRPID        uint16
	Streams       []ElementaryStream
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID        uint16
	StreamType uint8
	Language   string // ISO 639 language descriptor, if present
}

// PES is a reassembled Packetized Elementary Stream packet. Timestamps are
// 33-bit 90 kHz values or TimestampNone.
type PES struct {
	StreamID     uint8
	PTS          int64
	DTS          int64
	RandomAccess bool
	Data         []byte
}
