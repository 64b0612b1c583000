package xmodem

// Protocol control bytes.
const (
	SOH byte = 0x01 // start of a 128-byte block
	STX byte = 0x02 // start of a 1024-byte block
	EOT byte = 0x04 // end of transmission
	ACK byte = 0x06 // block accepted
	NAK byte = 0x15 // block rejected, or checksum-mode probe
	CAN byte = 0x18 // cancel, recognized but not acted upon

	// CRCProbe ('C') asks the sender for CRC-16 trailers.
	CRCProbe byte = 0x43

	// Filler pads the last block up to the block size.
	Filler byte = 0x1A
)

// Block payload sizes.
const (
	BlockSize   = 128
	BlockSize1K = 1024
)

// frameHeaderSize is [control][seq][0xFF-seq].
const frameHeaderSize = 3

// Protocol selects the XMODEM variant.
type Protocol uint8

const (
	// ProtocolXModem is classic XMODEM with 128-byte SOH blocks.
	ProtocolXModem Protocol = iota + 1
	// ProtocolXModem1K uses 1024-byte STX blocks.
	ProtocolXModem1K
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolXModem:
		return "xmodem"
	case ProtocolXModem1K:
		return "xmodem1k"
	default:
		return "unknown"
	}
}

// defaultBlockSize returns the nominal payload size of the variant.
func (p Protocol) defaultBlockSize() int {
	if p == ProtocolXModem1K {
		return BlockSize1K
	}

	return BlockSize
}

// Mode is the error-detection mode of a session.
type Mode uint32

const (
	// ModeCRC16 appends a 2-byte big-endian CRC-16/XMODEM.
	ModeCRC16 Mode = iota
	// ModeChecksum appends a 1-byte additive checksum.
	ModeChecksum
)

// String returns "crc" or "normal", the names reported by the start event.
func (m Mode) String() string {
	switch m {
	case ModeCRC16:
		return "crc"
	case ModeChecksum:
		return "normal"
	default:
		return "unknown"
	}
}

// TrailerLen returns the trailer length in bytes.
func (m Mode) TrailerLen() int {
	if m == ModeCRC16 {
		return 2
	}

	return 1
}

// controlFor returns the control byte that announces a payload of size n.
func controlFor(n int) (byte, bool) {
	switch n {
	case BlockSize:
		return SOH, true
	case BlockSize1K:
		return STX, true
	default:
		return 0, false
	}
}

// payloadSizeFor returns the payload size announced by a control byte.
func payloadSizeFor(control byte) (int, bool) {
	switch control {
	case SOH:
		return BlockSize, true
	case STX:
		return BlockSize1K, true
	default:
		return 0, false
	}
}

// signalName returns the mnemonic of a control byte for status events.
func signalName(b byte) string {
	switch b {
	case SOH:
		return "SOH"
	case STX:
		return "STX"
	case EOT:
		return "EOT"
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case CAN:
		return "CAN"
	case CRCProbe:
		return "C"
	default:
		return "?"
	}
}
