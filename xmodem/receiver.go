package xmodem

import (
	"bytes"
	"errors"
	"fmt"
)

// receiver probes for a transfer, accepts blocks in sequence and writes the
// assembled file to its sink on EOT.
type receiver struct {
	s    *Session
	cfg  *Config
	sink Sink
	sup  *Supervisor

	// buf holds inbound bytes not consumed yet; it starts with a control
	// byte whenever a frame is pending.
	buf    []byte
	blocks [][]byte

	expected   byte
	tries      int
	started    bool
	sinkClosed bool
}

func newReceiver(s *Session, sink Sink) *receiver {
	return &receiver{
		s:        s,
		cfg:      s.cfg,
		sink:     sink,
		sup:      NewSupervisor(s.post),
		expected: byte(s.cfg.startBlock), //nolint:gosec // validated 0-255
	}
}

func (r *receiver) begin() {
	r.s.setState(StateInitiating)

	if r.cfg.mode == ModeCRC16 && r.cfg.crcProbes() > 0 {
		r.s.setMode(ModeCRC16)
		r.schedule(CRCProbe, r.cfg.crcProbes(), r.startNakProbes)

		return
	}

	r.startNakProbes()
}

// startNakProbes downgrades to checksum mode and probes with NAK.
func (r *receiver) startNakProbes() {
	if r.s.State() != StateInitiating {
		return
	}

	r.s.logger.Debug("xmodem: falling back to checksum mode")
	r.s.setMode(ModeChecksum)
	r.schedule(NAK, r.cfg.nakProbes(), func() {
		r.s.fail(fmt.Errorf("%w: no response to %d NAK probes", ErrNegotiationTimeout, r.cfg.nakProbes()))
	})
}

func (r *receiver) schedule(probe byte, count int, exhausted func()) {
	if count < 1 {
		exhausted()
		return
	}

	err := r.sup.ScheduleRepeating(func() {
		if r.s.State() != StateInitiating {
			return
		}
		r.s.logger.Debug("xmodem: probe sent", "signal", signalName(probe))
		r.s.metrics.incProbeCount()
		r.s.write(probe)
	}, r.cfg.probeInterval, count, WithImmediate(), WithExhausted(exhausted))
	if err != nil {
		r.s.fail(err)
	}
}

func (r *receiver) feed(data []byte) {
	r.buf = append(r.buf, data...)
	r.process()
}

// process consumes every complete unit in buf.
func (r *receiver) process() {
	for len(r.buf) > 0 && !r.s.State().IsTerminal() {
		switch c := r.buf[0]; c {
		case SOH, STX:
			if !r.started {
				r.started = true
				r.sup.Cancel()
				r.s.setState(StateReceiving)
				r.s.emit(Event{Type: EventStart, Mode: r.s.Mode()})
			}

			size, _ := payloadSizeFor(c)
			frameLen := frameHeaderSize + size + r.s.Mode().TrailerLen()
			if len(r.buf) < frameLen {
				r.s.deadline.Arm(r.cfg.timeout)
				return
			}
			r.s.deadline.Disarm()

			frame := r.buf[:frameLen]
			r.buf = r.buf[frameLen:]
			r.handleFrame(frame)

		case EOT:
			r.buf = r.buf[1:]
			r.sup.Cancel()
			r.finish()

		default:
			r.buf = r.buf[1:]
			r.s.logger.Debug("xmodem: unexpected byte ignored",
				"byte", fmt.Sprintf("0x%02X", c),
				"state", r.s.State().String(),
			)
		}
	}
}

// timeout flushes a partial frame that stopped arriving.
func (r *receiver) timeout() {
	if len(r.buf) == 0 {
		return
	}

	r.s.metrics.incTimeoutCount()
	r.s.logger.Debug("xmodem: partial frame timed out", "bytes", len(r.buf))

	frame := r.buf
	r.buf = nil
	r.handleFrame(frame)
}

func (r *receiver) handleFrame(frame []byte) {
	r.tries++

	seq, err := frameSeq(frame)
	if err != nil {
		r.reject(err)
		return
	}

	if seq != r.expected {
		if r.isDuplicate(seq) {
			r.duplicate(frame)
			return
		}

		r.s.metrics.incSyncErrorCount()
		r.s.logger.Debug("xmodem: block out of sequence",
			"error", fmt.Errorf("%w: got %d, want %d", ErrSyncMismatch, seq, r.expected),
			"block", r.blockIndex(),
		)
		if r.exhausted() {
			return
		}
		if r.cfg.nakOnSyncError {
			r.nak()
		}

		return
	}

	blk, err := decodeFrame(frame, r.cfg.blockSize, r.s.Mode(), r.cfg.verifyTrailer)
	if err != nil {
		r.reject(err)
		return
	}

	r.s.status(ActionRecv, frame[0], r.blockIndex())
	if !r.s.write(ACK) {
		return
	}
	r.s.status(ActionSend, ACK, NoBlock)

	r.blocks = append(r.blocks, blk.Payload)
	r.s.metrics.incBlockRecvCount()
	r.s.metrics.addPayloadBytes(len(blk.Payload))
	r.expected++
	r.tries = 0
}

// isDuplicate reports whether seq repeats the last accepted block. Only a
// receiver that NAKs sync errors treats it apart from them.
func (r *receiver) isDuplicate(seq byte) bool {
	return r.cfg.nakOnSyncError && len(r.blocks) > 0 && seq == r.expected-1
}

// duplicate acknowledges a block again whose ACK the sender missed. The
// payload is not stored a second time.
func (r *receiver) duplicate(frame []byte) {
	if _, err := decodeFrame(frame, r.cfg.blockSize, r.s.Mode(), r.cfg.verifyTrailer); err != nil {
		r.reject(err)
		return
	}

	r.tries--
	r.s.metrics.incDuplicateCount()
	r.s.logger.Debug("xmodem: duplicate block acknowledged", "block", r.blockIndex()-1)

	r.s.status(ActionRecv, frame[0], r.blockIndex()-1)
	if !r.s.write(ACK) {
		return
	}
	r.s.status(ActionSend, ACK, NoBlock)
}

func (r *receiver) reject(err error) {
	r.s.metrics.incBlockErrorCount()
	r.s.logger.Debug("xmodem: block rejected", "error", err, "block", r.blockIndex(), "tries", r.tries)
	if r.exhausted() {
		return
	}
	r.nak()
}

// exhausted fails the session once more than maxErrors frames in a row were
// not accepted.
func (r *receiver) exhausted() bool {
	if r.tries <= r.cfg.maxErrors {
		return false
	}
	r.s.fail(fmt.Errorf("%w: %d consecutive bad blocks at block %d", ErrTooManyErrors, r.tries, r.blockIndex()))

	return true
}

func (r *receiver) nak() {
	if !r.s.write(NAK) {
		return
	}
	r.s.metrics.incNakSendCount()
	r.s.status(ActionSend, NAK, NoBlock)
}

// finish acknowledges EOT and writes the file.
func (r *receiver) finish() {
	r.s.deadline.Disarm()
	r.s.status(ActionRecv, EOT, NoBlock)
	if !r.s.write(ACK) {
		return
	}
	r.s.status(ActionSend, ACK, NoBlock)
	r.s.setState(StateFinalizing)

	if n := len(r.blocks); n > 0 {
		r.blocks[n-1] = TrimFiller(r.blocks[n-1])
	}
	data := bytes.Join(r.blocks, nil)

	if err := r.writeSink(data); err != nil {
		r.s.fail(fmt.Errorf("%w: %w", ErrSink, err))
		return
	}

	r.s.closeTransport()
	r.s.complete(len(data))
}

func (r *receiver) writeSink(data []byte) error {
	_, werr := r.sink.Write(data)
	r.sinkClosed = true
	cerr := r.sink.Close()

	return errors.Join(werr, cerr)
}

func (r *receiver) stop() {
	r.sup.Cancel()

	if !r.sinkClosed {
		r.sinkClosed = true
		if err := r.sink.Close(); err != nil {
			r.s.logger.Debug("xmodem: close sink", "error", err)
		}
	}
}

// blockIndex returns the number of the block expected next, as reported in
// status events.
func (r *receiver) blockIndex() int {
	return r.cfg.startBlock + len(r.blocks)
}
