package xmodem

import (
	"github.com/sigurn/crc16"
)

// CRC-16/XMODEM: poly 0x1021, init 0, no reflection, no final XOR.
var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Checksum returns the 8-bit additive checksum of payload: the sum of all
// bytes modulo 256.
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}

	return sum
}

// CRC16 returns the CRC-16/XMODEM of payload.
func CRC16(payload []byte) uint16 {
	return crc16.Checksum(payload, crcTable)
}

// Trailer returns the error-detection trailer of payload for mode.
// The CRC is emitted most-significant byte first.
func Trailer(payload []byte, mode Mode) []byte {
	return appendTrailer(make([]byte, 0, mode.TrailerLen()), payload, mode)
}

func appendTrailer(dst []byte, payload []byte, mode Mode) []byte {
	if mode == ModeCRC16 {
		crc := CRC16(payload)
		return append(dst, byte(crc>>8), byte(crc))
	}

	return append(dst, Checksum(payload))
}
