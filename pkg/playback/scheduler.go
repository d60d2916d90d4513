// Package playback schedules decoded response audio for gapless output.
//
// Every chunk starts exactly where the previous one ends unless the device
// clock has already passed that point, in which case it starts now:
//
//	startAt = max(cursor, now)
//	cursor  = startAt + duration
//
// Chunks play in arrival order; nothing is reordered.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-live/pkg/audioio"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Stats contains scheduler counters.
type Stats struct {
	Scheduled int64         `json:"scheduled"`
	Underruns int64         `json:"underruns"`
	Stopped   int64         `json:"stopped"`
	Pending   int           `json:"pending"`
	Queued    time.Duration `json:"queued"`
}

// Scheduler owns the playback cursor and the set of pending buffers.
type Scheduler struct {
	sink   audioio.Sink
	logger *slog.Logger

	mu      sync.Mutex
	next    time.Time
	pending map[audioio.Playing]struct{}
	stats   Stats
}

// New creates a scheduler that plays through sink.
func New(sink audioio.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:    sink,
		logger:  slog.Default(),
		pending: make(map[audioio.Playing]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "playback")
	return s
}

// Schedule queues chunk right after everything already scheduled and
// returns its start time. It never waits for playback.
func (s *Scheduler) Schedule(chunk audioio.AudioChunk) (time.Time, error) {
	if chunk.Empty() {
		return time.Time{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.sink.Now()
	start := s.next
	if start.Before(now) {
		if !start.IsZero() && len(s.pending) == 0 && s.stats.Scheduled > 0 {
			s.stats.Underruns++
		}
		start = now
	}

	p, err := s.sink.Play(chunk, start)
	if err != nil {
		return time.Time{}, fmt.Errorf("playback: schedule: %w", err)
	}

	s.next = start.Add(chunk.Duration())
	s.pending[p] = struct{}{}
	s.stats.Scheduled++

	go s.watch(p)
	return start, nil
}

// watch removes p from the pending set once it finishes.
func (s *Scheduler) watch(p audioio.Playing) {
	<-p.Done()
	s.mu.Lock()
	delete(s.pending, p)
	s.mu.Unlock()
}

// StopAll force-stops every pending buffer and clears the set.
// The cursor is left where it was; call Reset or Interrupt to move it.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[audioio.Playing]struct{})
	s.stats.Stopped += int64(len(pending))
	s.mu.Unlock()

	for p := range pending {
		p.Stop()
	}
	if len(pending) > 0 {
		s.logger.Debug("stopped pending audio", "count", len(pending))
	}
	return len(pending)
}

// Interrupt drops all queued audio and moves the cursor to now so the next
// response starts immediately.
func (s *Scheduler) Interrupt() int {
	n := s.StopAll()
	s.mu.Lock()
	s.next = s.sink.Now()
	s.mu.Unlock()
	return n
}

// Reset moves the cursor to start. A zero start means "now".
func (s *Scheduler) Reset(start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if start.IsZero() {
		start = s.sink.Now()
	}
	s.next = start
}

// Pending returns the number of buffers scheduled but not finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Cursor returns the start time the next chunk would get if the device
// clock has not passed it.
func (s *Scheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Pending = len(s.pending)
	if q := s.next.Sub(s.sink.Now()); q > 0 {
		st.Queued = q
	}
	return st
}
