package xmodem

import (
	"bytes"
	"fmt"
)

// Block is one unit of transfer: a sequence number and a fixed-size payload.
//
// Blocks are immutable once built.
type Block struct {
	Seq     byte   // wire sequence number, wraps at 256
	Payload []byte // BlockSize or BlockSize1K bytes
}

// Control returns the control byte announcing the block (SOH or STX).
func (b *Block) Control() byte {
	c, _ := controlFor(len(b.Payload))
	return c
}

// Encode serializes the block to its wire format for mode.
func (b *Block) Encode(mode Mode) ([]byte, error) {
	return EncodeBlock(b.Seq, b.Payload, mode)
}

// EncodeBlock serializes a block to its wire format:
//
//	[SOH|STX][seq][0xFF-seq][payload][trailer]
//
// The control byte follows the payload length, which must be BlockSize or
// BlockSize1K.
func EncodeBlock(seq byte, payload []byte, mode Mode) ([]byte, error) {
	control, ok := controlFor(len(payload))
	if !ok {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBlockSize, len(payload))
	}

	buf := make([]byte, 0, frameHeaderSize+len(payload)+mode.TrailerLen())
	buf = append(buf, control, seq, 0xFF-seq)
	buf = append(buf, payload...)
	buf = appendTrailer(buf, payload, mode)

	return buf, nil
}

// DecodeBlock parses a wire frame whose payload is expected to be
// expectedPayloadLen bytes long.
//
// DecodeBlock validates, in order:
//   - the control byte is SOH or STX (ErrInvalidControl),
//   - seq + complement == 0xFF (ErrIntegrity),
//   - the payload length, frame[3 : len-trailer], equals expectedPayloadLen (ErrSizeMismatch),
//   - the trailer matches the payload (ErrTrailerMismatch).
func DecodeBlock(frame []byte, expectedPayloadLen int, mode Mode) (*Block, error) {
	return decodeFrame(frame, expectedPayloadLen, mode, true)
}

func decodeFrame(frame []byte, expectedPayloadLen int, mode Mode, verifyTrailer bool) (*Block, error) {
	seq, err := frameSeq(frame)
	if err != nil {
		return nil, err
	}

	trailerLen := mode.TrailerLen()
	payloadLen := len(frame) - frameHeaderSize - trailerLen
	if payloadLen != expectedPayloadLen {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, max(payloadLen, 0), expectedPayloadLen)
	}

	payload := bytes.Clone(frame[frameHeaderSize : frameHeaderSize+payloadLen])

	if verifyTrailer {
		want := Trailer(payload, mode)
		if got := frame[len(frame)-trailerLen:]; !bytes.Equal(got, want) {
			return nil, fmt.Errorf("%w: wire=%X, computed=%X", ErrTrailerMismatch, got, want)
		}
	}

	return &Block{Seq: seq, Payload: payload}, nil
}

// frameSeq validates the frame header and returns its sequence number.
func frameSeq(frame []byte) (byte, error) {
	if len(frame) == 0 {
		return 0, fmt.Errorf("%w: empty frame", ErrInvalidControl)
	}
	if _, ok := payloadSizeFor(frame[0]); !ok {
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidControl, frame[0])
	}
	if len(frame) < frameHeaderSize {
		return 0, fmt.Errorf("%w: truncated header, %d bytes", ErrSizeMismatch, len(frame))
	}

	seq, complement := frame[1], frame[2]
	if int(seq)+int(complement) != 0xFF {
		return 0, fmt.Errorf("%w: seq=0x%02X complement=0x%02X", ErrIntegrity, seq, complement)
	}

	return seq, nil
}

// SplitBlocks chunks data into blocks of blockSize bytes, numbering them from
// startSeq. The last block is padded with Filler. Empty data yields no blocks.
func SplitBlocks(data []byte, blockSize int, startSeq byte) ([]*Block, error) {
	if _, ok := controlFor(blockSize); !ok {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBlockSize, blockSize)
	}

	count := (len(data) + blockSize - 1) / blockSize
	blocks := make([]*Block, 0, count)
	seq := startSeq

	for off := 0; off < len(data); off += blockSize {
		payload := bytes.Repeat([]byte{Filler}, blockSize)
		copy(payload, data[off:min(off+blockSize, len(data))])

		blocks = append(blocks, &Block{Seq: seq, Payload: payload})
		seq++
	}

	return blocks, nil
}

// TrimFiller strips trailing Filler bytes from payload.
func TrimFiller(payload []byte) []byte {
	return bytes.TrimRight(payload, string([]byte{Filler}))
}
