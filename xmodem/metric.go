package xmodem

import (
	"sync/atomic"
)

// SessionMetrics contains atomic counters of a single session.
// They can back a prometheus CounterFunc or GaugeFunc.
type SessionMetrics struct {
	// BlockSendCount is the number of block transmissions, retransmissions included.
	BlockSendCount atomic.Uint64
	// BlockRetransmitCount is the number of block and EOT retransmissions.
	BlockRetransmitCount atomic.Uint64
	// BlockRecvCount is the number of blocks accepted by the receiver.
	BlockRecvCount atomic.Uint64
	// NakSendCount is the number of NAKs written by the receiver after start.
	NakSendCount atomic.Uint64
	// NakRecvCount is the number of NAKs received by the sender after start.
	NakRecvCount atomic.Uint64
	// SyncErrorCount is the number of out-of-sequence blocks dropped.
	SyncErrorCount atomic.Uint64
	// DuplicateCount is the number of repeated blocks acknowledged again.
	DuplicateCount atomic.Uint64
	// BlockErrorCount is the number of frames rejected with NAK.
	BlockErrorCount atomic.Uint64
	// ProbeCount is the number of start probes written.
	ProbeCount atomic.Uint64
	// TimeoutCount is the number of sender timeouts and partial frames flushed by the receiver.
	TimeoutCount atomic.Uint64
	// PayloadBytes is the number of payload bytes accepted or acknowledged.
	PayloadBytes atomic.Uint64
}

func (m *SessionMetrics) incBlockSendCount()       { m.BlockSendCount.Add(1) }
func (m *SessionMetrics) incBlockRetransmitCount() { m.BlockRetransmitCount.Add(1) }
func (m *SessionMetrics) incBlockRecvCount()       { m.BlockRecvCount.Add(1) }
func (m *SessionMetrics) incNakSendCount()         { m.NakSendCount.Add(1) }
func (m *SessionMetrics) incNakRecvCount()         { m.NakRecvCount.Add(1) }
func (m *SessionMetrics) incSyncErrorCount()       { m.SyncErrorCount.Add(1) }
func (m *SessionMetrics) incDuplicateCount()       { m.DuplicateCount.Add(1) }
func (m *SessionMetrics) incBlockErrorCount()      { m.BlockErrorCount.Add(1) }
func (m *SessionMetrics) incProbeCount()           { m.ProbeCount.Add(1) }
func (m *SessionMetrics) incTimeoutCount()         { m.TimeoutCount.Add(1) }

func (m *SessionMetrics) addPayloadBytes(n int) {
	m.PayloadBytes.Add(uint64(n)) //nolint:gosec // n is a block size
}
