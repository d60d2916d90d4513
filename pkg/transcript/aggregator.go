// Package transcript keeps the latest partial transcript for each speaker.
package transcript

import "sync"

// Speaker identifies whose speech a transcript belongs to.
type Speaker int

const (
	// Local is the user at the microphone.
	Local Speaker = iota
	// Remote is the model.
	Remote
)

func (s Speaker) String() string {
	switch s {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "unknown"
	}
}

// State is a snapshot of both speakers' current text.
type State struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// Aggregator stores the most recent partial per speaker. Each update
// replaces the previous string; it never appends.
type Aggregator struct {
	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{subs: make(map[int]chan State)}
}

// Update replaces the text for speaker and notifies subscribers.
func (a *Aggregator) Update(speaker Speaker, text string) State {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch speaker {
	case Local:
		a.state.Local = text
	case Remote:
		a.state.Remote = text
	default:
		return a.state
	}
	a.publishLocked()
	return a.state
}

// State returns the current snapshot.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Reset clears both speakers.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = State{}
	a.publishLocked()
}

// Subscribe returns a channel of state changes and a cancel func.
// A subscriber that falls behind skips intermediate states and sees
// the latest one; the publisher never blocks.
func (a *Aggregator) Subscribe() (<-chan State, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextID
	a.nextID++
	ch := make(chan State, 1)
	a.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if c, ok := a.subs[id]; ok {
				delete(a.subs, id)
				close(c)
			}
		})
	}
}

func (a *Aggregator) publishLocked() {
	for _, ch := range a.subs {
		// Drain a stale value so the newest state always fits.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- a.state:
		default:
		}
	}
}
