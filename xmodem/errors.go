package xmodem

import "errors"

// Frame codec errors.
var (
	// ErrInvalidControl indicates a frame that does not start with SOH or STX.
	ErrInvalidControl = errors.New("xmodem: invalid frame control byte")

	// ErrIntegrity indicates that the sequence number and its complement do
	// not add up to 0xFF.
	ErrIntegrity = errors.New("xmodem: block integrity check failed")

	// ErrSizeMismatch indicates a payload whose length differs from the
	// session's block size.
	ErrSizeMismatch = errors.New("xmodem: block size mismatch")

	// ErrTrailerMismatch indicates a checksum or CRC that does not match the payload.
	ErrTrailerMismatch = errors.New("xmodem: block trailer mismatch")

	// ErrInvalidBlockSize indicates a payload size other than 128 or 1024 bytes.
	ErrInvalidBlockSize = errors.New("xmodem: block size must be 128 or 1024")
)

// Session errors.
var (
	// ErrSyncMismatch indicates a well-formed block carrying an unexpected
	// sequence number. It is not fatal; the block is dropped.
	ErrSyncMismatch = errors.New("xmodem: block sequence out of sync")

	// ErrNegotiationTimeout indicates that the receiver exhausted its start
	// probes without seeing a block.
	ErrNegotiationTimeout = errors.New("xmodem: negotiation timeout, no response from sender")

	// ErrTooManyErrors indicates that the receiver rejected more consecutive
	// frames than allowed by the max errors setting.
	ErrTooManyErrors = errors.New("xmodem: too many block errors")

	// ErrSenderTimeout indicates that the sender saw no reply within the
	// allowed number of timeouts. Only raised when the sender timeout is enabled.
	ErrSenderTimeout = errors.New("xmodem: sender timeout, no reply from receiver")

	// ErrTransport wraps a read or write failure of the underlying transport.
	ErrTransport = errors.New("xmodem: transport error")

	// ErrAborted indicates a session cancelled by its owner.
	ErrAborted = errors.New("xmodem: session aborted")

	// ErrSessionActive indicates that a transport already has an active session.
	ErrSessionActive = errors.New("xmodem: transport already has an active session")

	// ErrSink wraps a failure writing the received file.
	ErrSink = errors.New("xmodem: failed to write destination")

	// ErrConfigNil indicates a nil *Config.
	ErrConfigNil = errors.New("xmodem: config is nil")

	// ErrTransportNil indicates a nil Transport.
	ErrTransportNil = errors.New("xmodem: transport is nil")

	// ErrSinkNil indicates a nil Sink.
	ErrSinkNil = errors.New("xmodem: sink is nil")
)
