package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// State is a phase of an ask request
type State string

const (
	StateReceived        State = "received"
	StateSearching       State = "searching"
	StateSearchCompleted State = "search_completed"
	StateResponding      State = "responding"
	StateStreaming       State = "streaming"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// phases lists the forward path of a request. Streaming is optional, so
// responding may also jump straight to completed.
var phases = []State{
	StateReceived,
	StateSearching,
	StateSearchCompleted,
	StateResponding,
	StateStreaming,
	StateCompleted,
}

func phaseIndex(s State) int {
	for i, p := range phases {
		if p == s {
			return i
		}
	}
	return -1
}

func terminal(s State) bool {
	return s == StateCompleted || s == StateFailed
}

func canTransition(from, to State) bool {
	if terminal(from) {
		return false
	}
	if to == StateFailed {
		return true
	}
	i, j := phaseIndex(from), phaseIndex(to)
	if i < 0 || j < 0 {
		return false
	}
	return j == i+1 || (from == StateResponding && to == StateCompleted)
}

// StateTransition records a state change
type StateTransition struct {
	From      State
	To        State
	Timestamp time.Time
	Metadata  map[string]any
}

// StateTracker tracks request lifecycle state
type StateTracker interface {
	Current() State
	Transition(to State, metadata map[string]any) error
	History() []StateTransition
	Duration(state State) time.Duration
	Summary() string
}

// Lifecycle is the in-memory StateTracker of one request
type Lifecycle struct {
	mu      sync.RWMutex
	start   time.Time
	current State
	history []StateTransition
}

// NewStateTracker creates a lifecycle starting at StateReceived
func NewStateTracker() *Lifecycle {
	return &Lifecycle{start: time.Now(), current: StateReceived}
}

func (l *Lifecycle) Current() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Transition moves forward along the request phases or to failed
func (l *Lifecycle) Transition(to State, metadata map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !canTransition(l.current, to) {
		return fmt.Errorf("invalid state transition from %s to %s", l.current, to)
	}

	l.history = append(l.history, StateTransition{
		From:      l.current,
		To:        to,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
	l.current = to
	return nil
}

// History returns a copy of all transitions
func (l *Lifecycle) History() []StateTransition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]StateTransition, len(l.history))
	copy(out, l.history)
	return out
}

// Duration returns the time spent in state, counting up to now while it is
// current. Unvisited states report zero.
func (l *Lifecycle) Duration(state State) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.duration(state, time.Now())
}

func (l *Lifecycle) duration(state State, now time.Time) time.Duration {
	entered := l.start
	visited := state == StateReceived
	for _, tr := range l.history {
		if visited && tr.From == state {
			return tr.Timestamp.Sub(entered)
		}
		if tr.To == state {
			entered = tr.Timestamp
			visited = true
		}
	}
	if visited && l.current == state && !terminal(state) {
		return now.Sub(entered)
	}
	return 0
}

// Summary renders the time spent per visited phase, e.g.
// "searching=412ms responding=2.1s".
func (l *Lifecycle) Summary() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := time.Now()
	var parts []string
	for _, p := range phases {
		if terminal(p) || p == StateReceived {
			continue
		}
		if d := l.duration(p, now); d > 0 {
			parts = append(parts, fmt.Sprintf("%s=%s", p, d.Round(time.Millisecond)))
		}
	}
	parts = append(parts, fmt.Sprintf("total=%s", now.Sub(l.start).Round(time.Millisecond)))
	return strings.Join(parts, " ")
}
