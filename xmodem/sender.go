package xmodem

import (
	"fmt"
)

// sender drives outbound blocks in response to the receiver's control bytes.
//
// It never probes on its own: it waits in AwaitingMode until the receiver
// asks for a transfer. Without the sender timeout it also never retransmits
// on silence.
type sender struct {
	s      *Session
	cfg    *Config
	blocks []*Block
	size   int

	// current is the index of the block awaiting ACK.
	current  int
	timeouts int
}

func newSender(s *Session, data []byte) (*sender, error) {
	blocks, err := SplitBlocks(data, s.cfg.blockSize, byte(s.cfg.startBlock)) //nolint:gosec // validated 0-255
	if err != nil {
		return nil, err
	}

	return &sender{s: s, cfg: s.cfg, blocks: blocks, size: len(data)}, nil
}

func (sd *sender) begin() {
	sd.s.setState(StateAwaitingMode)
	sd.s.logger.Debug("xmodem: blocks ready", "blocks", len(sd.blocks), "bytes", sd.size)
	sd.s.emit(Event{Type: EventReady, Blocks: len(sd.blocks)})
	sd.armTimeout()
}

func (sd *sender) feed(data []byte) {
	for _, b := range data {
		if sd.s.State().IsTerminal() {
			return
		}
		sd.handleByte(b)
	}
}

func (sd *sender) handleByte(b byte) {
	switch st := sd.s.State(); {
	case st == StateAwaitingMode && b == CRCProbe:
		sd.s.logger.Debug("xmodem: received C byte for CRC transfer")
		sd.accepted(b)
		sd.startTransfer(ModeCRC16)

	case st == StateAwaitingMode && b == NAK:
		sd.s.logger.Debug("xmodem: received NAK byte for checksum transfer")
		sd.accepted(b)
		sd.startTransfer(ModeChecksum)

	case st == StateTransmitting && b == ACK:
		sd.accepted(b)
		sd.s.metrics.addPayloadBytes(sd.dataLen(sd.current))
		sd.current++
		if sd.current < len(sd.blocks) {
			sd.sendBlock(false)
		} else {
			sd.s.logger.Debug("xmodem: all blocks acknowledged, sending EOT")
			sd.sendEOT(false)
		}

	case st == StateTransmitting && b == NAK:
		sd.accepted(b)
		sd.s.metrics.incNakRecvCount()
		sd.s.logger.Debug("xmodem: block rejected, resending", "block", sd.blockIndex(sd.current))
		sd.sendBlock(true)

	case st == StateEOTSent && b == ACK:
		sd.accepted(b)
		sd.s.deadline.Disarm()
		sd.s.complete(sd.size)

	case st == StateEOTSent && b == NAK:
		sd.accepted(b)
		sd.s.metrics.incNakRecvCount()
		sd.s.logger.Debug("xmodem: resending EOT, receiver responded with NAK")
		sd.sendEOT(true)

	default:
		sd.s.logger.Debug("xmodem: unexpected byte ignored",
			"byte", fmt.Sprintf("0x%02X", b),
			"state", st.String(),
			"block", sd.blockIndex(sd.current),
		)
	}
}

// accepted reports a control byte that drove a transition.
func (sd *sender) accepted(b byte) {
	sd.timeouts = 0
	sd.s.status(ActionRecv, b, NoBlock)
}

func (sd *sender) startTransfer(mode Mode) {
	sd.s.setMode(mode)
	sd.s.emit(Event{Type: EventStart, Mode: mode})

	if len(sd.blocks) == 0 {
		sd.sendEOT(false)
		return
	}

	sd.current = 0
	sd.s.setState(StateTransmitting)
	sd.sendBlock(false)
}

// sendBlock writes the current block. Encoding is deterministic, so a
// retransmission is bit-identical to the first transmission.
func (sd *sender) sendBlock(retransmit bool) {
	blk := sd.blocks[sd.current]

	frame, err := blk.Encode(sd.s.Mode())
	if err != nil {
		sd.s.fail(err)
		return
	}
	if !sd.s.write(frame...) {
		return
	}

	sd.s.metrics.incBlockSendCount()
	if retransmit {
		sd.s.metrics.incBlockRetransmitCount()
	}
	sd.s.status(ActionSend, blk.Control(), sd.blockIndex(sd.current))
	sd.armTimeout()
}

func (sd *sender) sendEOT(retransmit bool) {
	if !sd.s.write(EOT) {
		return
	}
	if retransmit {
		sd.s.metrics.incBlockRetransmitCount()
	}
	sd.s.setState(StateEOTSent)
	sd.s.status(ActionSend, EOT, NoBlock)
	sd.armTimeout()
}

func (sd *sender) armTimeout() {
	if sd.cfg.senderTimeout {
		sd.s.deadline.Arm(sd.cfg.timeout)
	}
}

// timeout only fires when the sender timeout is enabled.
func (sd *sender) timeout() {
	sd.timeouts++
	sd.s.metrics.incTimeoutCount()

	if sd.timeouts >= sd.cfg.maxTimeouts {
		sd.s.fail(fmt.Errorf("%w: %d consecutive timeouts in state %s", ErrSenderTimeout, sd.timeouts, sd.s.State()))
		return
	}

	sd.s.logger.Debug("xmodem: sender timeout", "timeouts", sd.timeouts, "state", sd.s.State().String())

	switch sd.s.State() {
	case StateTransmitting:
		sd.sendBlock(true)
	case StateEOTSent:
		sd.sendEOT(true)
	default:
		sd.armTimeout()
	}
}

func (sd *sender) stop() {}

// blockIndex returns the block number reported in status events.
func (sd *sender) blockIndex(i int) int {
	return sd.cfg.startBlock + i
}

// dataLen returns the number of source bytes carried by block i.
func (sd *sender) dataLen(i int) int {
	return min(sd.cfg.blockSize, sd.size-i*sd.cfg.blockSize)
}
