package ui

import (
	"sync"
	"time"

	"github.com/pitchloop/pitchloop/internal/transcript"
	"github.com/pitchloop/pitchloop/internal/transport"
	"github.com/pitchloop/pitchloop/internal/turn"
)

// Presenter renders controller events onto the hub. It holds no call
// logic: its only private state is the cached snapshot for late-joining
// clients and the one-per-second call timer.
type Presenter struct {
	hub *Hub

	mu        sync.Mutex
	state     turn.State
	sessionID string
	mic       turn.MicState
	scenario  string
	startedAt time.Time
	stopTick  chan struct{}
}

func NewPresenter(hub *Hub) *Presenter {
	return &Presenter{hub: hub, mic: turn.MicIdle}
}

var _ turn.Presenter = (*Presenter)(nil)

func (p *Presenter) TranscriptLine(u transcript.Utterance) {
	p.hub.BroadcastTranscriptLine(u)
}

func (p *Presenter) LiveTranscript(text string) {
	p.hub.BroadcastLiveTranscript(text)
}

func (p *Presenter) StateChanged(s turn.State, sessionID string) {
	p.mu.Lock()
	p.state = s
	p.sessionID = sessionID

	switch s {
	case turn.Dialing:
		if p.stopTick == nil {
			p.startedAt = time.Now()
			p.stopTick = make(chan struct{})
			go p.tick(p.stopTick, p.startedAt)
		}
	case turn.Idle, turn.Ended:
		if p.stopTick != nil {
			close(p.stopTick)
			p.stopTick = nil
		}
	}
	p.mu.Unlock()

	p.hub.BroadcastTurnState(s.String(), sessionID)
}

func (p *Presenter) MicState(m turn.MicState) {
	p.mu.Lock()
	p.mic = m
	p.mu.Unlock()

	p.hub.BroadcastMicState(string(m))
}

func (p *Presenter) Banner(text string, ttl time.Duration) {
	p.hub.BroadcastBanner(text, ttl)
}

func (p *Presenter) CooldownHint(active bool) {
	p.hub.BroadcastCooldown(active)
}

func (p *Presenter) Feedback(fb transport.Feedback) {
	p.hub.BroadcastFeedback(fb)
}

// SetScenario records the scenario title shown alongside the call state.
func (p *Presenter) SetScenario(name string) {
	p.mu.Lock()
	p.scenario = name
	p.mu.Unlock()
}

func (p *Presenter) Scenario() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scenario
}

// Snapshot returns the current state for late-joining clients.
func (p *Presenter) Snapshot() (state string, sessionID string, mic string, callSeconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seconds := 0
	if p.stopTick != nil {
		seconds = int(time.Since(p.startedAt) / time.Second)
	}
	return p.state.String(), p.sessionID, string(p.mic), seconds
}

func (p *Presenter) tick(stop chan struct{}, startedAt time.Time) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			p.hub.BroadcastCallTick(int(now.Sub(startedAt) / time.Second))
		}
	}
}
