package transport

import "encoding/json"

// StartResult is the outcome of opening a roleplay session.
type StartResult struct {
	SessionID        string
	InitialUtterance string
	Metadata         map[string]any
}

// Reply is the backend's reaction to one learner input.
type Reply struct {
	ProspectUtterance string
	ContinueCall      bool
	Evaluation        map[string]any
	SessionID         string
}

// Feedback is the end-of-call coaching payload. Synthetic is set when the
// transport could not reach the backend and substituted a neutral result.
type Feedback struct {
	Coaching     string             `json:"coaching"`
	OverallScore float64            `json:"overall_score"`
	Breakdown    map[string]float64 `json:"breakdown,omitempty"`
	Synthetic    bool               `json:"synthetic,omitempty"`
}

// SessionStatus reports whether the backend still holds an active session.
type SessionStatus struct {
	Active    bool
	SessionID string
}

// Scenario is the practice scenario metadata.
type Scenario struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Mode          string `json:"mode"`
	Description   string `json:"description"`
	Interruptions bool   `json:"interruptions"`
}

type startRequest struct {
	RoleplayID string `json:"roleplay_id"`
	Mode       string `json:"mode"`
}

type startResponse struct {
	SessionID       string         `json:"session_id"`
	InitialResponse string         `json:"initial_response"`
	Metadata        map[string]any `json:"metadata"`
}

type respondRequest struct {
	UserInput string `json:"user_input"`
}

type respondResponse struct {
	AIResponse     string         `json:"ai_response"`
	CallContinues  bool           `json:"call_continues"`
	Evaluation     map[string]any `json:"evaluation"`
	SessionID      string         `json:"session_id"`
	SessionExpired bool           `json:"session_expired"`
}

type endRequest struct {
	ForcedEnd bool `json:"forced_end"`
}

// endResponse tolerates both coaching shapes the backend has been seen to
// emit: a flat string, or an object nesting the text under "coaching".
type endResponse struct {
	Coaching     json.RawMessage    `json:"coaching"`
	OverallScore float64            `json:"overall_score"`
	Breakdown    map[string]float64 `json:"breakdown"`
}

type ttsRequest struct {
	Text string `json:"text"`
}

type statusResponse struct {
	Active  bool `json:"active"`
	Session *struct {
		SessionID string `json:"session_id"`
	} `json:"session"`
}
