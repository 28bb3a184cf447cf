package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	requestTimeout = 30 * time.Second

	// neutralCoaching stands in for real feedback when /end is unreachable.
	neutralCoaching = "We couldn't reach the coaching service for this call. Your conversation still counts as practice — try another round."
)

// Client speaks the roleplay backend protocol. Requests are one-shot: the
// client never retries on its own; the session manager runs the only bounded
// retry loop in the system.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource

	onUnauthorized func()
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithUnauthorizedHook registers the global re-authenticate signal. It fires
// at most once per 401 response; the client does not retry afterwards.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

func New(baseURL string, tokens oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartSession opens a roleplay session for the given scenario and mode.
func (c *Client) StartSession(ctx context.Context, scenarioID, mode string) (StartResult, error) {
	var resp startResponse
	err := c.postJSON(ctx, "/api/roleplay/start", startRequest{RoleplayID: scenarioID, Mode: mode}, &resp)
	if err != nil {
		return StartResult{}, err
	}
	if resp.SessionID == "" {
		return StartResult{}, newError(KindProtocol, 0, "start response missing session_id", nil)
	}
	return StartResult{
		SessionID:        resp.SessionID,
		InitialUtterance: strings.TrimSpace(resp.InitialResponse),
		Metadata:         resp.Metadata,
	}, nil
}

// Respond submits one learner input and returns the prospect's reaction.
// A 404 status or a session_expired flag in the body both surface as
// KindSessionExpired.
func (c *Client) Respond(ctx context.Context, userInput string) (Reply, error) {
	var resp respondResponse
	err := c.postJSON(ctx, "/api/roleplay/respond", respondRequest{UserInput: userInput}, &resp)
	if err != nil {
		var te *Error
		if asTransport(err, &te) && te.Status == http.StatusNotFound {
			te.Kind = KindSessionExpired
		}
		return Reply{}, err
	}
	if resp.SessionExpired {
		return Reply{}, newError(KindSessionExpired, 0, "backend flagged session as expired", nil)
	}
	return Reply{
		ProspectUtterance: strings.TrimSpace(resp.AIResponse),
		ContinueCall:      resp.CallContinues,
		Evaluation:        resp.Evaluation,
		SessionID:         resp.SessionID,
	}, nil
}

// EndSession closes the session and fetches coaching. It never fails: any
// transport problem yields a synthetic neutral result so the call can still
// finish cleanly on screen.
func (c *Client) EndSession(ctx context.Context, forced bool) Feedback {
	var resp endResponse
	if err := c.postJSON(ctx, "/api/roleplay/end", endRequest{ForcedEnd: forced}, &resp); err != nil {
		log.Printf("warning: end session failed, using neutral feedback: %v", err)
		return Feedback{Coaching: neutralCoaching, Synthetic: true}
	}

	return Feedback{
		Coaching:     normalizeCoaching(resp.Coaching),
		OverallScore: resp.OverallScore,
		Breakdown:    resp.Breakdown,
	}
}

// Synthesize fetches TTS audio for a prospect utterance. Any failure is
// KindNoAudio; the speaker must fall back to a simulated duration.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(ttsRequest{Text: text})
	if err != nil {
		return nil, newError(KindNoAudio, 0, "encode tts request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/roleplay/tts", bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindNoAudio, 0, "build tts request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return nil, newError(KindNoAudio, 0, "credential unavailable", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, newError(KindNoAudio, 0, "tts request failed", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, newError(KindNoAudio, res.StatusCode, "tts returned non-200", nil)
	}

	clip, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, newError(KindNoAudio, 0, "read tts body", err)
	}
	return clip, nil
}

// SessionStatus asks the backend whether a session is still active.
func (c *Client) SessionStatus(ctx context.Context) (SessionStatus, error) {
	var resp statusResponse
	if err := c.getJSON(ctx, "/api/roleplay/session/status", &resp); err != nil {
		return SessionStatus{}, err
	}

	status := SessionStatus{Active: resp.Active}
	if resp.Session != nil {
		status.SessionID = resp.Session.SessionID
	}
	if status.Active && status.SessionID == "" {
		return SessionStatus{}, newError(KindProtocol, 0, "active status without session id", nil)
	}
	return status, nil
}

// ScenarioInfo fetches practice scenario metadata.
func (c *Client) ScenarioInfo(ctx context.Context, id string) (Scenario, error) {
	var scenario Scenario
	if err := c.getJSON(ctx, "/api/roleplay/info/"+url.PathEscape(id), &scenario); err != nil {
		return Scenario{}, err
	}
	return scenario, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return newError(KindProtocol, 0, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return newError(KindNetwork, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return newError(KindNetwork, 0, "build request", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.authorize(req); err != nil {
		c.signalUnauthorized()
		return newError(KindUnauthorized, 0, "credential unavailable", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return newError(KindNetwork, 0, fmt.Sprintf("%s %s", req.Method, req.URL.Path), err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusUnauthorized {
		c.signalUnauthorized()
		return newError(KindUnauthorized, res.StatusCode, "credential rejected", nil)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return newError(KindBackend, res.StatusCode, backendMessage(res.Body), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return newError(KindProtocol, res.StatusCode, "decode response", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) error {
	if c.tokens == nil {
		return fmt.Errorf("no token source configured")
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	return nil
}

func (c *Client) signalUnauthorized() {
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

func backendMessage(body io.Reader) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&payload); err != nil {
		return "backend returned non-2xx"
	}
	if payload.Error != "" {
		return payload.Error
	}
	if payload.Message != "" {
		return payload.Message
	}
	return "backend returned non-2xx"
}

// normalizeCoaching flattens the two coaching shapes seen in the wild:
// a bare string, or {"coaching": "...", ...} nested one level deeper.
func normalizeCoaching(raw json.RawMessage) string {
	if len(raw) == 0 {
		return neutralCoaching
	}

	var flat string
	if err := json.Unmarshal(raw, &flat); err == nil {
		if strings.TrimSpace(flat) != "" {
			return flat
		}
		return neutralCoaching
	}

	var nested struct {
		Coaching string `json:"coaching"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && strings.TrimSpace(nested.Coaching) != "" {
		return nested.Coaching
	}
	return neutralCoaching
}

func asTransport(err error, target **Error) bool {
	te, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = te
	return true
}
