// Package xmodem implements the XMODEM file-transfer protocol over any
// byte stream, such as a serial line or a raw TCP socket.
//
// XMODEM is a half-duplex, block-oriented, acknowledgment-driven protocol.
// The receiver drives the start of a transfer by probing the line, the
// sender answers with fixed-size blocks and waits for a single-byte verdict
// on each one:
//
//   - SOH (0x01): start of a 128-byte block
//   - STX (0x02): start of a 1024-byte block (XMODEM-1K)
//   - EOT (0x04): end of transmission
//   - ACK (0x06): block accepted
//   - NAK (0x15): block rejected, or checksum-mode start probe
//   - 'C' (0x43): CRC-mode start probe
//
// A frame on the wire is
//
//	[SOH|STX][seq][0xFF-seq][payload][checksum(1) | CRC-16 hi, lo]
//
// # Sessions
//
// A [Modem] carries the configuration and event handlers. [Modem.Send] and
// [Modem.Receive] attach a [Session] to a [Transport] and return at once; the
// session owns every byte read from the transport until it reaches a
// terminal state. Completion is reported by the "stop" event and failures by
// the "error" event, see [Event].
//
// Each session processes inbound bytes, probe ticks and timeouts one at a
// time on its own goroutine, so handlers never observe concurrent state
// changes.
//
// # Error detection
//
// The receiver selects the error-detection mode. It first probes with 'C'
// for CRC-16/XMODEM and falls back to NAK probes (8-bit additive checksum)
// when the sender stays silent.
package xmodem
