//go:build !linux

package sink

import (
	"errors"
	"fmt"
)

// URingSink is unavailable outside Linux; NewURingSink always fails so
// callers can fall back to FileSink.
type URingSink struct{}

// NewURingSink reports ErrUnsupported on non-Linux platforms.
func NewURingSink(path string, queueDepth uint32, batchSize int) (*URingSink, error) {
	return nil, fmt.Errorf("sink: io_uring sink requires linux: %w", errors.ErrUnsupported)
}

func (s *URingSink) WriteLine(line string) error { return fmt.Errorf("sink: io_uring sink requires linux") }

func (s *URingSink) Flush() error { return nil }

func (s *URingSink) Close() error { return nil }
