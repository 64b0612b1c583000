package xmodem

import (
	"errors"
	"fmt"
	"time"

	"github.com/vipoo/xmodem-cli/logger"
)

// Default protocol settings.
const (
	DefaultMaxTimeouts   = 5
	DefaultMaxErrors     = 10
	DefaultCRCAttempts   = 3
	DefaultStartBlock    = 1
	DefaultTimeout       = 10 * time.Second
	DefaultProbeInterval = 3 * time.Second
)

// Setting limits.
const (
	MaxStartBlock    = 255
	MinTimeout       = time.Second
	MaxTimeout       = 10 * time.Minute
	MinProbeInterval = time.Millisecond
)

// Config holds the protocol settings shared by every session of a Modem.
type Config struct {
	protocol  Protocol
	blockSize int

	// maxTimeouts bounds consecutive sender timeouts when the sender
	// timeout is enabled.
	maxTimeouts int
	// maxErrors bounds consecutive rejected frames on the receiver, and
	// scales the number of NAK start probes.
	maxErrors int
	// crcAttempts: the receiver writes crcAttempts-1 'C' probes before
	// falling back to NAK.
	crcAttempts int

	mode       Mode
	startBlock int

	// timeout is the partial frame timeout; its whole seconds scale the
	// number of NAK start probes.
	timeout       time.Duration
	probeInterval time.Duration

	nakOnSyncError bool
	senderTimeout  bool
	verifyTrailer  bool

	logger logger.Logger
}

// NewConfig creates a configuration with the defaults overridden by opts.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		protocol:      ProtocolXModem,
		maxTimeouts:   DefaultMaxTimeouts,
		maxErrors:     DefaultMaxErrors,
		crcAttempts:   DefaultCRCAttempts,
		mode:          ModeCRC16,
		startBlock:    DefaultStartBlock,
		timeout:       DefaultTimeout,
		probeInterval: DefaultProbeInterval,
		verifyTrailer: true,
		logger:        logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.blockSize == 0 {
		cfg.blockSize = cfg.protocol.defaultBlockSize()
	}

	return cfg, nil
}

// Protocol returns the protocol variant.
func (cfg *Config) Protocol() Protocol { return cfg.protocol }

// BlockSize returns the block payload size.
func (cfg *Config) BlockSize() int { return cfg.blockSize }

// MaxTimeouts returns the number of consecutive sender timeouts tolerated.
func (cfg *Config) MaxTimeouts() int { return cfg.maxTimeouts }

// MaxErrors returns the number of consecutive block errors tolerated by the receiver.
func (cfg *Config) MaxErrors() int { return cfg.maxErrors }

// CRCAttempts returns the CRC negotiation attempts setting.
func (cfg *Config) CRCAttempts() int { return cfg.crcAttempts }

// Mode returns the receiver's preferred error-detection mode.
func (cfg *Config) Mode() Mode { return cfg.mode }

// StartBlock returns the number of the first block.
func (cfg *Config) StartBlock() int { return cfg.startBlock }

// Timeout returns the timeout interval.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// ProbeInterval returns the interval between receiver start probes.
func (cfg *Config) ProbeInterval() time.Duration { return cfg.probeInterval }

// NakOnSyncError reports whether out-of-sequence blocks are answered with NAK.
func (cfg *Config) NakOnSyncError() bool { return cfg.nakOnSyncError }

// SenderTimeout reports whether the sender retransmits on silence.
func (cfg *Config) SenderTimeout() bool { return cfg.senderTimeout }

// VerifyTrailer reports whether the receiver checks block trailers.
func (cfg *Config) VerifyTrailer() bool { return cfg.verifyTrailer }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// crcProbes returns the number of 'C' probes before the NAK fallback.
func (cfg *Config) crcProbes() int {
	return cfg.crcAttempts - 1
}

// nakProbes returns the number of NAK probes before negotiation fails:
// maxErrors × timeout seconds × 3.
func (cfg *Config) nakProbes() int {
	return cfg.maxErrors * int(cfg.timeout/time.Second) * 3
}

// --- Option ---

// Option is a functional option for NewConfig.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithProtocol selects the protocol variant. The block size follows the
// variant unless WithBlockSize is given.
func WithProtocol(p Protocol) Option {
	return optFunc(func(cfg *Config) error {
		if p != ProtocolXModem && p != ProtocolXModem1K {
			return fmt.Errorf("xmodem: unknown protocol %d", p)
		}
		cfg.protocol = p

		return nil
	})
}

// WithBlockSize sets the block payload size, BlockSize or BlockSize1K.
func WithBlockSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if _, ok := controlFor(n); !ok {
			return fmt.Errorf("%w: got %d", ErrInvalidBlockSize, n)
		}
		cfg.blockSize = n

		return nil
	})
}

// WithMaxTimeouts sets how many timeouts in a row the sender tolerates.
func WithMaxTimeouts(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("xmodem: max timeouts %d must be >= 1", n)
		}
		cfg.maxTimeouts = n

		return nil
	})
}

// WithMaxErrors sets how many consecutive block errors the receiver tolerates.
func WithMaxErrors(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("xmodem: max errors %d must be >= 1", n)
		}
		cfg.maxErrors = n

		return nil
	})
}

// WithCRCAttempts sets the CRC negotiation attempts. The receiver writes
// n-1 'C' probes before falling back to checksum mode; 1 skips CRC probing.
func WithCRCAttempts(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("xmodem: CRC attempts %d must be >= 1", n)
		}
		cfg.crcAttempts = n

		return nil
	})
}

// WithMode sets the receiver's preferred error-detection mode. ModeCRC16
// is the default; ModeChecksum goes straight to NAK probing.
func WithMode(m Mode) Option {
	return optFunc(func(cfg *Config) error {
		if m != ModeCRC16 && m != ModeChecksum {
			return fmt.Errorf("xmodem: unknown mode %d", m)
		}
		cfg.mode = m

		return nil
	})
}

// WithStartBlock sets the number of the first block. Only change it to talk
// to a non-standard peer.
func WithStartBlock(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 || n > MaxStartBlock {
			return fmt.Errorf("xmodem: start block %d out of range [0, %d]", n, MaxStartBlock)
		}
		cfg.startBlock = n

		return nil
	})
}

// WithTimeout sets the timeout interval.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinTimeout || d > MaxTimeout {
			return fmt.Errorf("xmodem: timeout %v out of range [%v, %v]", d, MinTimeout, MaxTimeout)
		}
		cfg.timeout = d

		return nil
	})
}

// WithProbeInterval sets the interval between receiver start probes.
func WithProbeInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinProbeInterval {
			return fmt.Errorf("xmodem: probe interval %v must be >= %v", d, MinProbeInterval)
		}
		cfg.probeInterval = d

		return nil
	})
}

// WithNakOnSyncError makes the receiver answer out-of-sequence blocks with
// NAK. By default they are dropped silently.
func WithNakOnSyncError(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.nakOnSyncError = enabled
		return nil
	})
}

// WithSenderTimeout enables the sender-side timeout. When enabled, the
// sender retransmits the pending block or EOT after Timeout of silence and
// gives up after MaxTimeouts consecutive timeouts. Disabled by default: the
// sender then only reacts to the receiver.
func WithSenderTimeout(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.senderTimeout = enabled
		return nil
	})
}

// WithVerifyTrailer enables or disables checksum/CRC verification on the
// receiver. Enabled by default.
func WithVerifyTrailer(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.verifyTrailer = enabled
		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("xmodem: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
