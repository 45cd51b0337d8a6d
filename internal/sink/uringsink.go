//go:build linux

// Package sink's io_uring-backed writer batches event-log lines into
// a ring of fixed-size submission slots and submits them together,
// trading per-line syscall overhead for periodic SubmitAndWait calls.
// Built only on linux; see uringsink_stub.go for the fallback used
// everywhere else.
package sink

import (
	"fmt"
	"sync"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/dbitools/memtrace/internal/interfaces"
)

// URingSink batches WriteLine calls and flushes them as a single
// io_uring submission once batchSize lines have queued, or on an
// explicit Flush/Close.
type URingSink struct {
	mu        sync.Mutex
	ring      *giouring.Ring
	fd        int
	batchSize int
	pending   [][]byte
	offset    uint64 // cumulative file offset written so far, across flushes
}

// NewURingSink opens path and creates an io_uring of the given queue
// depth to batch writes to it. batchSize bounds how many lines
// accumulate before an automatic flush.
func NewURingSink(path string, queueDepth uint32, batchSize int) (*URingSink, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	ring, err := giouring.CreateRing(queueDepth)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sink: create ring: %w", err)
	}

	if batchSize <= 0 {
		batchSize = int(queueDepth)
	}

	return &URingSink{ring: ring, fd: fd, batchSize: batchSize}, nil
}

// WriteLine queues line for the next batched submission, flushing
// immediately if the batch is already full.
func (s *URingSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, []byte(line))
	if len(s.pending) >= s.batchSize {
		return s.flushLocked()
	}
	return nil
}

// Flush submits every queued line as one io_uring batch and waits for
// every submission to complete.
func (s *URingSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *URingSink) flushLocked() error {
	if len(s.pending) == 0 {
		return nil
	}

	for _, line := range s.pending {
		sqe := s.ring.GetSQE()
		if sqe == nil {
			if _, err := s.ring.Submit(); err != nil {
				return fmt.Errorf("sink: submit mid-batch: %w", err)
			}
			sqe = s.ring.GetSQE()
			if sqe == nil {
				return fmt.Errorf("sink: no SQE available after submit")
			}
		}
		sqe.PrepareWrite(s.fd, line, uint64(len(line)), s.offset, 0)
		s.offset += uint64(len(line))
	}

	n := len(s.pending)
	if _, err := s.ring.SubmitAndWaitCQE(uint32(n)); err != nil {
		return fmt.Errorf("sink: submit_and_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		cqe, err := s.ring.WaitCQE()
		if err != nil {
			return fmt.Errorf("sink: wait cqe: %w", err)
		}
		if cqe.Res < 0 {
			s.ring.CQESeen(cqe)
			return fmt.Errorf("sink: write cqe result %d", cqe.Res)
		}
		s.ring.CQESeen(cqe)
	}

	s.pending = s.pending[:0]
	return nil
}

// Close flushes any pending lines, tears down the ring, and closes the
// underlying file descriptor.
func (s *URingSink) Close() error {
	if err := s.Flush(); err != nil {
		s.ring.QueueExit()
		unix.Close(s.fd)
		return err
	}
	s.ring.QueueExit()
	return unix.Close(s.fd)
}

var _ interfaces.Sink = (*URingSink)(nil)
