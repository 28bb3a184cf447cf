package ui

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pitchloop/pitchloop/internal/transcript"
)

// ControlHooks are the call controls the HTTP layer exposes. Nil hooks
// are ignored so tests can wire only what they exercise.
type ControlHooks struct {
	StartCall     func()
	EndCall       func()
	MicTap        func()
	SetVisibility func(hidden bool)
	Warnings      func() []string
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

func registerAPIRoutes(mux *http.ServeMux, presenter *Presenter, record *transcript.Log, controls ControlHooks) {
	mux.HandleFunc("POST /api/call/start", func(w http.ResponseWriter, r *http.Request) {
		if controls.StartCall != nil {
			controls.StartCall()
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/call/end", func(w http.ResponseWriter, r *http.Request) {
		if controls.EndCall != nil {
			controls.EndCall()
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/mic", func(w http.ResponseWriter, r *http.Request) {
		if controls.MicTap != nil {
			controls.MicTap()
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/visibility", func(w http.ResponseWriter, r *http.Request) {
		var req visibilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid visibility payload")
			return
		}
		if controls.SetVisibility != nil {
			controls.SetVisibility(req.Hidden)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		state, sessionID, mic, seconds := presenter.Snapshot()

		var warnings []string
		if controls.Warnings != nil {
			warnings = controls.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}

		lines := []map[string]string{}
		if record != nil {
			for _, u := range record.Entries() {
				lines = append(lines, map[string]string{
					"id":        u.ID,
					"direction": string(u.Direction),
					"text":      u.Text,
					"timestamp": u.Timestamp.Format(time.RFC3339Nano),
				})
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"state":        state,
			"session_id":   sessionID,
			"mic":          mic,
			"scenario":     presenter.Scenario(),
			"call_seconds": seconds,
			"warnings":     warnings,
			"transcript":   lines,
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
