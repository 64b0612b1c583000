package xmodem

import (
	"fmt"
	"os"
)

// OpenFileSink creates or truncates the file at path for a receiving session.
func OpenFileSink(path string) (Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec // caller-chosen destination
	if err != nil {
		return nil, fmt.Errorf("xmodem: open sink: %w", err)
	}

	return f, nil
}

// ReadFile reads the sender input at path.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-chosen source
	if err != nil {
		return nil, fmt.Errorf("xmodem: read source: %w", err)
	}

	return data, nil
}
