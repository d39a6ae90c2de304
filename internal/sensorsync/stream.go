// Package sensorsync aligns camera, depth and segmentation samples on a
// shared simulation tick. Producers push samples as they arrive; the
// collection loop asks for one tick at a time and either gets a sample
// from every stream for exactly that tick or an error explaining why the
// tick should be skipped.
package sensorsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/lanegen/internal/geom"
	"github.com/banshee-data/lanegen/internal/monitoring"
	"github.com/banshee-data/lanegen/internal/timeutil"
)

var (
	// ErrTimeout means no sample for the target tick arrived in time.
	ErrTimeout = errors.New("timed out waiting for sensor sample")
	// ErrMissedTick means the stream already moved past the target tick.
	ErrMissedTick = errors.New("sensor stream skipped target tick")
	// ErrClosed means the stream was closed.
	ErrClosed = errors.New("sensor stream closed")
)

// DefaultCapacity bounds each stream's backlog.
const DefaultCapacity = 64

// Sample is one sensor output for a tick. Raw is a BGRA image buffer and
// Pose is the sensor's World pose at capture time.
type Sample struct {
	Tick   uint64
	Pose   geom.Transform
	Width  int
	Height int
	Raw    []byte
}

// Stream is a bounded FIFO of samples from one sensor. It is safe for a
// single producer and a single consumer to use concurrently.
type Stream struct {
	name     string
	capacity int
	clock    timeutil.Clock

	mu      sync.Mutex
	buf     []Sample
	dropped int
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

// NewStream creates a stream. A non-positive capacity selects
// DefaultCapacity; a nil clock selects the real clock.
func NewStream(name string, capacity int, clock timeutil.Clock) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Stream{
		name:     name,
		capacity: capacity,
		clock:    clock,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Name returns the stream name used in log lines.
func (s *Stream) Name() string { return s.name }

// Push enqueues a sample. When the backlog is full the oldest sample is
// discarded.
func (s *Stream) Push(sample Sample) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.buf = append(s.buf, sample)
	if len(s.buf) > s.capacity {
		s.buf = s.buf[1:]
		s.dropped++
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of queued samples.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Dropped returns how many samples were discarded because the backlog
// was full.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close wakes any waiter and rejects further pushes. Queued samples stay
// readable.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// take scans the queue for target. Older samples are discarded. A newer
// sample is left at the head for a later tick.
func (s *Stream) take(target uint64) (Sample, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) > 0 {
		head := s.buf[0]
		switch {
		case head.Tick < target:
			s.buf = s.buf[1:]
		case head.Tick > target:
			return Sample{}, false, fmt.Errorf("%s: %w: want %d, got %d", s.name, ErrMissedTick, target, head.Tick)
		default:
			s.buf = s.buf[1:]
			return head, true, nil
		}
	}
	if s.closed {
		return Sample{}, false, fmt.Errorf("%s: %w", s.name, ErrClosed)
	}
	return Sample{}, false, nil
}

// Await blocks until the sample for target arrives, the stream shows it
// has moved past target, timeout elapses, or ctx is done.
func (s *Stream) Await(ctx context.Context, target uint64, timeout time.Duration) (Sample, error) {
	timer := s.clock.NewTimer(timeout)
	defer timer.Stop()

	for {
		sample, ok, err := s.take(target)
		if err != nil {
			if errors.Is(err, ErrMissedTick) {
				monitoring.Logf("[sync] %v", err)
			}
			return Sample{}, err
		}
		if ok {
			return sample, nil
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-timer.C():
			monitoring.Logf("[sync] %s: timeout waiting for tick %d", s.name, target)
			return Sample{}, fmt.Errorf("%s: %w (tick %d)", s.name, ErrTimeout, target)
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		}
	}
}
