package session

import (
	"sync"
	"time"
)

const turnHistory = 100

// TurnMetrics tracks latency for one conversational turn.
// Latencies are measured from the last local transcript update, the
// closest signal the live endpoint gives for "user stopped talking".
type TurnMetrics struct {
	// Timestamps for key events
	SpeechTime     time.Time `json:"speech_time"`      // Last local transcript update
	FirstAudioTime time.Time `json:"first_audio_time"` // First response audio scheduled
	DoneTime       time.Time `json:"done_time"`        // Turn complete or interrupted

	// Computed latencies (from SpeechTime)
	FirstAudio time.Duration `json:"first_audio"`
	Total      time.Duration `json:"total"`

	// Counts for this turn
	AudioChunksIn int  `json:"audio_chunks_in"`
	Interrupted   bool `json:"interrupted"`
}

// Counters are per-session totals.
type Counters struct {
	FramesCaptured int64 `json:"frames_captured"`
	FramesSent     int64 `json:"frames_sent"`
	EncodeErrors   int64 `json:"encode_errors"`
	SendErrors     int64 `json:"send_errors"`
	ChunksReceived int64 `json:"chunks_received"`
	DecodeErrors   int64 `json:"decode_errors"`
	Turns          int64 `json:"turns"`
	Interruptions  int64 `json:"interruptions"`
	ToolCalls      int64 `json:"tool_calls"`
	ToolCancels    int64 `json:"tool_cancels"`
}

// MetricsCollector collects per-turn latency and session counters.
// It is goroutine-safe; the capture pump and the event loop both write.
type MetricsCollector struct {
	mu       sync.Mutex
	current  TurnMetrics
	history  []TurnMetrics
	counters Counters
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]TurnMetrics, 0, turnHistory),
	}
}

// Reset clears everything for a new session.
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = TurnMetrics{}
	m.history = m.history[:0]
	m.counters = Counters{}
}

// MarkSpeech records a local transcript update. It is the reference point
// for the next response.
func (m *MetricsCollector) MarkSpeech() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.FirstAudioTime.IsZero() {
		// Speech after the response started belongs to the next turn.
		m.archiveLocked()
	}
	m.current.SpeechTime = time.Now()
}

// MarkAudioIn records one received response chunk.
func (m *MetricsCollector) MarkAudioIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.ChunksReceived++
	m.current.AudioChunksIn++
	if m.current.FirstAudioTime.IsZero() {
		m.current.FirstAudioTime = time.Now()
		if !m.current.SpeechTime.IsZero() {
			m.current.FirstAudio = m.current.FirstAudioTime.Sub(m.current.SpeechTime)
		}
	}
}

// MarkTurnComplete archives the current turn.
func (m *MetricsCollector) MarkTurnComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Turns++
	m.archiveLocked()
}

// MarkInterrupted archives the current turn as interrupted.
func (m *MetricsCollector) MarkInterrupted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Interruptions++
	m.current.Interrupted = true
	m.archiveLocked()
}

func (m *MetricsCollector) archiveLocked() {
	if m.current.SpeechTime.IsZero() && m.current.FirstAudioTime.IsZero() {
		m.current = TurnMetrics{}
		return
	}
	m.current.DoneTime = time.Now()
	if !m.current.SpeechTime.IsZero() {
		m.current.Total = m.current.DoneTime.Sub(m.current.SpeechTime)
	}
	m.history = append(m.history, m.current)
	if len(m.history) > turnHistory {
		m.history = m.history[1:]
	}
	m.current = TurnMetrics{}
}

// Count applies fn to the counters under the lock.
func (m *MetricsCollector) Count(fn func(c *Counters)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.counters)
}

// Counters returns a snapshot of the session counters.
func (m *MetricsCollector) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Last returns the most recently archived turn.
func (m *MetricsCollector) Last() (TurnMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return TurnMetrics{}, false
	}
	return m.history[len(m.history)-1], true
}

// Average returns average latencies over recent turns that produced audio.
func (m *MetricsCollector) Average() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		avg TurnMetrics
		n   time.Duration
	)
	for _, h := range m.history {
		if h.FirstAudio == 0 {
			continue
		}
		avg.FirstAudio += h.FirstAudio
		avg.Total += h.Total
		avg.AudioChunksIn += h.AudioChunksIn
		n++
	}
	if n == 0 {
		return TurnMetrics{}
	}
	avg.FirstAudio /= n
	avg.Total /= n
	avg.AudioChunksIn /= int(n)
	return avg
}

// FormatLatency returns a one-line summary of a turn.
func (t *TurnMetrics) FormatLatency() string {
	return formatDuration(t.FirstAudio) + " first audio | " +
		formatDuration(t.Total) + " total"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
