package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

func staticTokens(t *testing.T) oauth2.TokenSource {
	t.Helper()
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token", TokenType: "Bearer"})
}

func TestStartSession(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/roleplay/start" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotBody = req["roleplay_id"] + "/" + req["mode"]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id":       "sess-1",
			"initial_response": "  Hello, this is Alex.  ",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	res, err := c.StartSession(context.Background(), "1.1", "practice")
	if err != nil {
		t.Fatal(err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("authorization header = %q", gotAuth)
	}
	if gotBody != "1.1/practice" {
		t.Errorf("request body = %q", gotBody)
	}
	if res.SessionID != "sess-1" {
		t.Errorf("session id = %q", res.SessionID)
	}
	if res.InitialUtterance != "Hello, this is Alex." {
		t.Errorf("initial utterance not trimmed: %q", res.InitialUtterance)
	}
}

func TestStartSessionMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"initial_response": "hi"})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	_, err := c.StartSession(context.Background(), "1.1", "practice")
	if !IsKind(err, KindProtocol) {
		t.Fatalf("expected KindProtocol, got %v", err)
	}
}

func TestRespond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ai_response":    "Go on.",
			"call_continues": true,
			"session_id":     "sess-2",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	reply, err := c.Respond(context.Background(), "hi, quick question")
	if err != nil {
		t.Fatal(err)
	}
	if reply.ProspectUtterance != "Go on." || !reply.ContinueCall || reply.SessionID != "sess-2" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestRespond404IsSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	_, err := c.Respond(context.Background(), "hi")
	if !IsKind(err, KindSessionExpired) {
		t.Fatalf("expected KindSessionExpired, got %v", err)
	}
}

func TestRespondExpiredFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"session_expired": true})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	_, err := c.Respond(context.Background(), "hi")
	if !IsKind(err, KindSessionExpired) {
		t.Fatalf("expected KindSessionExpired, got %v", err)
	}
}

func TestUnauthorizedFiresHookOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	hookCalls := 0
	c := New(srv.URL, staticTokens(t), WithUnauthorizedHook(func() { hookCalls++ }))

	_, err := c.Respond(context.Background(), "hi")
	if !IsKind(err, KindUnauthorized) {
		t.Fatalf("expected KindUnauthorized, got %v", err)
	}
	if hookCalls != 1 {
		t.Fatalf("hook fired %d times, want 1", hookCalls)
	}
}

func TestEndSessionFlatCoaching(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"coaching":      "Strong open, weak close.",
			"overall_score": 72.5,
			"breakdown":     map[string]float64{"opening": 85},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	fb := c.EndSession(context.Background(), false)

	if fb.Coaching != "Strong open, weak close." {
		t.Errorf("coaching = %q", fb.Coaching)
	}
	if fb.OverallScore != 72.5 {
		t.Errorf("score = %v", fb.OverallScore)
	}
	if fb.Synthetic {
		t.Error("real feedback marked synthetic")
	}
}

func TestEndSessionNestedCoaching(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"coaching": map[string]any{"coaching": "Ask more questions.", "extra": 1},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	fb := c.EndSession(context.Background(), true)

	if fb.Coaching != "Ask more questions." {
		t.Errorf("coaching = %q", fb.Coaching)
	}
}

func TestEndSessionNeverFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	fb := c.EndSession(context.Background(), false)

	if !fb.Synthetic {
		t.Error("expected synthetic feedback on backend failure")
	}
	if fb.Coaching == "" {
		t.Error("synthetic feedback has no coaching text")
	}
}

func TestSynthesizeFailureIsNoAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	_, err := c.Synthesize(context.Background(), "hello")
	if !IsKind(err, KindNoAudio) {
		t.Fatalf("expected KindNoAudio, got %v", err)
	}
}

func TestSynthesizeReturnsClip(t *testing.T) {
	clip := []byte("mp3-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(clip)
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	got, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(clip) {
		t.Fatalf("clip = %q", got)
	}
}

func TestSessionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"active":  true,
			"session": map[string]string{"session_id": "sess-9"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	status, err := c.SessionStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !status.Active || status.SessionID != "sess-9" {
		t.Fatalf("status = %+v", status)
	}
}

func TestSessionStatusActiveWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"active": true})
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens(t))
	_, err := c.SessionStatus(context.Background())
	if !IsKind(err, KindProtocol) {
		t.Fatalf("expected KindProtocol, got %v", err)
	}
}

func TestNetworkErrorKind(t *testing.T) {
	c := New("http://127.0.0.1:1", staticTokens(t))
	_, err := c.Respond(context.Background(), "hi")
	if !IsKind(err, KindNetwork) {
		t.Fatalf("expected KindNetwork, got %v", err)
	}
}
