// Package sink implements the output side of component B: writers
// that accept finished event-log lines and persist them, satisfying
// interfaces.Sink.
package sink

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dbitools/memtrace/internal/interfaces"
)

// FileSink is a synchronous interfaces.Sink backed by a raw file
// descriptor, written to with unix.Write directly rather than through
// os.File and its extra buffering.
type FileSink struct {
	mu sync.Mutex
	fd int
}

// Open creates or truncates path and returns a FileSink writing to it.
func Open(path string) (*FileSink, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{fd: fd}, nil
}

// WriteLine writes line's bytes verbatim; callers are expected to
// have already included any trailing newline.
func (s *FileSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := []byte(line)
	for len(b) > 0 {
		n, err := unix.Write(s.fd, b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Close closes the underlying descriptor.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

var _ interfaces.Sink = (*FileSink)(nil)
