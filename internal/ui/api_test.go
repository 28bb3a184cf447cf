package ui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/pitchloop/pitchloop/internal/transcript"
	"github.com/pitchloop/pitchloop/internal/turn"
)

type recordedControls struct {
	starts, ends, taps int
	visibility         []bool
}

func newTestServer(t *testing.T, record *transcript.Log) (*httptest.Server, *recordedControls, *Presenter) {
	t.Helper()

	hub := NewHub()
	presenter := NewPresenter(hub)
	rc := &recordedControls{}

	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>pitchloop</html>")},
	}

	handler := Handler(staticFS, hub, presenter, record, ControlHooks{
		StartCall:     func() { rc.starts++ },
		EndCall:       func() { rc.ends++ },
		MicTap:        func() { rc.taps++ },
		SetVisibility: func(hidden bool) { rc.visibility = append(rc.visibility, hidden) },
		Warnings:      func() []string { return []string{"test warning"} },
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, rc, presenter
}

func TestCallControlRoutes(t *testing.T) {
	srv, rc, _ := newTestServer(t, transcript.NewLog())

	for _, path := range []string{"/api/call/start", "/api/call/end", "/api/mic"} {
		res, err := http.Post(srv.URL+path, "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		_ = res.Body.Close()
		if res.StatusCode != http.StatusNoContent {
			t.Errorf("POST %s = %d, want 204", path, res.StatusCode)
		}
	}

	if rc.starts != 1 || rc.ends != 1 || rc.taps != 1 {
		t.Fatalf("hooks = %+v", rc)
	}
}

func TestVisibilityRoute(t *testing.T) {
	srv, rc, _ := newTestServer(t, transcript.NewLog())

	res, err := http.Post(srv.URL+"/api/visibility", "application/json", strings.NewReader(`{"hidden":true}`))
	if err != nil {
		t.Fatal(err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", res.StatusCode)
	}

	if len(rc.visibility) != 1 || !rc.visibility[0] {
		t.Fatalf("visibility hooks = %v", rc.visibility)
	}
}

func TestVisibilityRouteRejectsBadPayload(t *testing.T) {
	srv, _, _ := newTestServer(t, transcript.NewLog())

	res, err := http.Post(srv.URL+"/api/visibility", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatal(err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestStateSnapshot(t *testing.T) {
	record := transcript.NewLog()
	u, err := transcript.New(transcript.Prospect, "Hello, this is Alex.")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := record.Append(u); err != nil {
		t.Fatal(err)
	}

	srv, _, presenter := newTestServer(t, record)
	presenter.StateChanged(turn.AwaitingLearner, "sess-1")
	presenter.MicState(turn.MicListening)
	presenter.SetScenario("Gatekeeper warm-up")

	res, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = res.Body.Close() }()

	var snap struct {
		State      string   `json:"state"`
		SessionID  string   `json:"session_id"`
		Mic        string   `json:"mic"`
		Scenario   string   `json:"scenario"`
		Warnings   []string `json:"warnings"`
		Transcript []struct {
			Direction string `json:"direction"`
			Text      string `json:"text"`
		} `json:"transcript"`
	}
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}

	if snap.State != "awaiting_learner" || snap.SessionID != "sess-1" || snap.Mic != "listening" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Scenario != "Gatekeeper warm-up" {
		t.Fatalf("scenario = %q", snap.Scenario)
	}
	if len(snap.Warnings) != 1 || snap.Warnings[0] != "test warning" {
		t.Fatalf("warnings = %v", snap.Warnings)
	}
	if len(snap.Transcript) != 1 || snap.Transcript[0].Text != "Hello, this is Alex." {
		t.Fatalf("transcript = %+v", snap.Transcript)
	}
}

func TestSPAFallback(t *testing.T) {
	srv, _, _ := newTestServer(t, transcript.NewLog())

	for _, path := range []string{"/", "/call"} {
		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		_ = res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, res.StatusCode)
		}
	}

	res, err := http.Get(srv.URL + "/api/unknown")
	if err != nil {
		t.Fatal(err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown api route = %d, want 404", res.StatusCode)
	}
}
