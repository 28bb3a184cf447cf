package ui

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type TranscriptLineEvent struct {
	Event
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Text      string `json:"text"`
}

type LiveTranscriptEvent struct {
	Event
	Text string `json:"text"`
}

type TurnStateEvent struct {
	Event
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
}

type MicStateEvent struct {
	Event
	State string `json:"state"`
}

type CallTickEvent struct {
	Event
	Seconds int `json:"seconds"`
}

type BannerEvent struct {
	Event
	Text  string `json:"text"`
	TTLMs int64  `json:"ttl_ms"`
}

type CooldownEvent struct {
	Event
	Active bool `json:"active"`
}

type FeedbackEvent struct {
	Event
	Coaching     string             `json:"coaching"`
	OverallScore float64            `json:"overall_score"`
	Breakdown    map[string]float64 `json:"breakdown,omitempty"`
	Synthetic    bool               `json:"synthetic,omitempty"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
