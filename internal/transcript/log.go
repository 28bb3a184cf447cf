package transcript

import (
	"sync"
	"time"
)

// Log is the append-only conversation record for one call. Timestamps are
// kept monotonic: an entry arriving with a clock earlier than the previous
// entry is nudged forward so readers always see the spoken order.
type Log struct {
	mu      sync.Mutex
	entries []Utterance
	last    time.Time
}

func NewLog() *Log {
	return &Log{}
}

// Append adds an utterance to the record and returns the stored entry.
func (l *Log) Append(u Utterance) (Utterance, error) {
	if u.Text == "" {
		return Utterance{}, ErrEmptyText
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !u.Timestamp.After(l.last) {
		u.Timestamp = l.last.Add(time.Microsecond)
	}
	l.last = u.Timestamp
	l.entries = append(l.entries, u)
	return u, nil
}

// Entries returns a snapshot copy of the record.
func (l *Log) Entries() []Utterance {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Utterance, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries in the record.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset clears the record for a new call.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.last = time.Time{}
}
