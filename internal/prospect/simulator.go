package prospect

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/pitchloop/pitchloop/internal/transport"
	"github.com/pitchloop/pitchloop/internal/turn"
)

// maxTurns bounds an offline call so rehearsals always reach coaching.
const maxTurns = 12

const persona = "You are a busy prospect receiving an unsolicited sales call. " +
	"Stay in character: skeptical but not rude, short answers, occasionally " +
	"raise an objection. Never mention that you are an AI."

var cannedReplies = []string{
	"Sure, go ahead — but make it quick.",
	"We already have a vendor for that.",
	"What's this going to cost me?",
	"I don't have budget for this quarter.",
	"Hmm. Send me something in writing.",
	"Why should I switch from what we use today?",
}

var cannedOpeners = []string{
	"Hello, this is Alex speaking.",
	"Yes? Who's calling?",
	"Alex here, you've got thirty seconds.",
}

// Simulator is an in-process stand-in for the roleplay backend so the
// engine can run without network access. With an OpenAI key it generates
// prospect replies; without one it cycles canned lines.
type Simulator struct {
	llm   *openai.Client
	model string

	mu        sync.Mutex
	sessionID string
	turns     int
	history   []openai.ChatCompletionMessage
	hungUp    bool
}

func NewSimulator(apiKey, model string) *Simulator {
	s := &Simulator{model: model}
	if strings.TrimSpace(apiKey) != "" {
		s.llm = openai.NewClient(apiKey)
	}
	return s
}

// NewSimulatorWithConfig exists for tests that point the client at a
// local server.
func NewSimulatorWithConfig(cfg openai.ClientConfig, model string) *Simulator {
	return &Simulator{llm: openai.NewClientWithConfig(cfg), model: model}
}

var _ turn.Backend = (*Simulator)(nil)

func (s *Simulator) StartSession(_ context.Context, scenarioID, mode string) (transport.StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = ulid.Make().String()
	s.turns = 0
	s.hungUp = false
	opener := cannedOpeners[0]
	s.history = []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: persona},
		{Role: openai.ChatMessageRoleAssistant, Content: opener},
	}

	return transport.StartResult{
		SessionID:        s.sessionID,
		InitialUtterance: opener,
		Metadata:         map[string]any{"scenario_id": scenarioID, "mode": mode, "offline": true},
	}, nil
}

func (s *Simulator) Respond(ctx context.Context, userInput string) (transport.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == "" || s.hungUp {
		return transport.Reply{}, &transport.Error{Kind: transport.KindSessionExpired, Message: "no active offline session"}
	}

	s.turns++

	switch userInput {
	case turn.SentinelImpatience:
		reply := "Hello? Are you still there? I don't have all day."
		s.history = append(s.history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply})
		return transport.Reply{ProspectUtterance: reply, ContinueCall: true, SessionID: s.sessionID}, nil
	case turn.SentinelHangup:
		s.hungUp = true
		return transport.Reply{ProspectUtterance: "", ContinueCall: false, SessionID: s.sessionID}, nil
	}

	s.history = append(s.history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userInput})

	reply := s.nextReply(ctx)
	s.history = append(s.history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply})

	return transport.Reply{
		ProspectUtterance: reply,
		ContinueCall:      s.turns < maxTurns,
		SessionID:         s.sessionID,
	}, nil
}

func (s *Simulator) EndSession(_ context.Context, _ bool) transport.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.turns
	s.sessionID = ""
	s.history = nil

	score := 40.0 + float64(turns)*5
	if score > 90 {
		score = 90
	}
	coaching := fmt.Sprintf(
		"Offline rehearsal: you held the prospect for %d turns. Work on opening with a concrete reason for the call and asking for a specific next step.",
		turns,
	)

	return transport.Feedback{
		Coaching:     coaching,
		OverallScore: score,
		Breakdown:    map[string]float64{"persistence": score, "structure": score - 10},
	}
}

func (s *Simulator) Synthesize(context.Context, string) ([]byte, error) {
	// No TTS offline; the speaker simulates the utterance duration.
	return nil, &transport.Error{Kind: transport.KindNoAudio, Message: "offline mode has no tts"}
}

func (s *Simulator) ScenarioInfo(_ context.Context, id string) (transport.Scenario, error) {
	return transport.Scenario{
		ID:          id,
		Name:        "Offline rehearsal",
		Mode:        "practice",
		Description: "A skeptical prospect simulated locally, no remote service required.",
	}, nil
}

func (s *Simulator) SessionStatus(context.Context) (transport.SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == "" {
		return transport.SessionStatus{}, nil
	}
	return transport.SessionStatus{Active: true, SessionID: s.sessionID}, nil
}

// nextReply asks the model for the prospect's line, falling back to the
// canned rotation when no client is configured or the request fails.
func (s *Simulator) nextReply(ctx context.Context) string {
	if s.llm == nil {
		return cannedReplies[(s.turns-1)%len(cannedReplies)]
	}

	model := s.model
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}

	resp, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  s.history,
		MaxTokens: 120,
	})
	if err != nil || len(resp.Choices) == 0 {
		if err != nil {
			log.Printf("warning: offline prospect completion failed, using canned reply: %v", err)
		}
		return cannedReplies[(s.turns-1)%len(cannedReplies)]
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return cannedReplies[(s.turns-1)%len(cannedReplies)]
	}
	return reply
}
