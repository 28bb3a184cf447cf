package transcript

import (
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Direction identifies who produced an utterance.
type Direction string

const (
	Learner  Direction = "learner"
	Prospect Direction = "prospect"
	System   Direction = "system"
)

// ErrEmptyText is returned when an utterance carries no text.
var ErrEmptyText = errors.New("utterance text is empty")

// Utterance is a single line of the conversation record. Entries are
// append-only and never mutated once created.
type Utterance struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an utterance with a fresh ULID and the current time.
func New(direction Direction, text string) (Utterance, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Utterance{}, ErrEmptyText
	}
	return Utterance{
		ID:        ulid.Make().String(),
		Direction: direction,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}, nil
}
