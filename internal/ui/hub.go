package ui

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/pitchloop/pitchloop/internal/transcript"
	"github.com/pitchloop/pitchloop/internal/transport"
)

// Hub fans controller events out to connected UI clients. Slow clients
// drop messages rather than stall the controller.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastTranscriptLine(u transcript.Utterance) {
	h.broadcastEvent(TranscriptLineEvent{
		Event:     newEvent("transcript_line", u.Timestamp),
		ID:        u.ID,
		Direction: string(u.Direction),
		Text:      u.Text,
	})
}

func (h *Hub) BroadcastLiveTranscript(text string) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event: newEvent("live_transcript", time.Now().UTC()),
		Text:  text,
	})
}

func (h *Hub) BroadcastTurnState(state, sessionID string) {
	h.broadcastEvent(TurnStateEvent{
		Event:     newEvent("turn_state", time.Now().UTC()),
		State:     state,
		SessionID: sessionID,
	})
}

func (h *Hub) BroadcastMicState(state string) {
	h.broadcastEvent(MicStateEvent{
		Event: newEvent("mic_state", time.Now().UTC()),
		State: state,
	})
}

func (h *Hub) BroadcastCallTick(seconds int) {
	h.broadcastEvent(CallTickEvent{
		Event:   newEvent("call_tick", time.Now().UTC()),
		Seconds: seconds,
	})
}

func (h *Hub) BroadcastBanner(text string, ttl time.Duration) {
	h.broadcastEvent(BannerEvent{
		Event: newEvent("banner", time.Now().UTC()),
		Text:  text,
		TTLMs: ttl.Milliseconds(),
	})
}

func (h *Hub) BroadcastCooldown(active bool) {
	h.broadcastEvent(CooldownEvent{
		Event:  newEvent("cooldown", time.Now().UTC()),
		Active: active,
	})
}

func (h *Hub) BroadcastFeedback(fb transport.Feedback) {
	h.broadcastEvent(FeedbackEvent{
		Event:        newEvent("feedback", time.Now().UTC()),
		Coaching:     fb.Coaching,
		OverallScore: fb.OverallScore,
		Breakdown:    fb.Breakdown,
		Synthetic:    fb.Synthetic,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
