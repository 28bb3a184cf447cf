package turn

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/pitchloop/pitchloop/internal/recognizer"
	"github.com/pitchloop/pitchloop/internal/silence"
	"github.com/pitchloop/pitchloop/internal/speaker"
	"github.com/pitchloop/pitchloop/internal/transcript"
	"github.com/pitchloop/pitchloop/internal/transport"
)

// Sentinel inputs the silence monitor submits on the learner's behalf.
// These exact strings are the contract with the backend.
const (
	SentinelImpatience = "[SILENCE_IMPATIENCE]"
	SentinelHangup     = "[SILENCE_HANGUP]"
)

const neutralCoaching = "This call ended before coaching could be generated. The practice still counts — dial again when you're ready."

// MicState is the microphone affordance shown to the learner.
type MicState string

const (
	MicIdle      MicState = "idle"
	MicListening MicState = "listening"
	MicDisabled  MicState = "disabled"
)

// Backend is the slice of the transport the controller drives directly.
type Backend interface {
	StartSession(ctx context.Context, scenarioID, mode string) (transport.StartResult, error)
	Respond(ctx context.Context, userInput string) (transport.Reply, error)
	EndSession(ctx context.Context, forced bool) transport.Feedback
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Sessions owns the remote session identifier and the recovery protocol.
type Sessions interface {
	ID() string
	Begin(sessionID, scenarioID string)
	Adopt(sessionID string) bool
	NotePending(input string)
	End()
	Recover(ctx context.Context, originalInput string) (transport.Reply, error)
}

// Speaker plays one prospect clip at a time.
type Speaker interface {
	Play(ctx context.Context, clip []byte, text string, mode speaker.Mode) speaker.Reason
	Stop()
}

// Presenter receives everything the learner should see. It performs no
// state changes of its own.
type Presenter interface {
	TranscriptLine(u transcript.Utterance)
	LiveTranscript(text string)
	StateChanged(s State, sessionID string)
	MicState(m MicState)
	Banner(text string, ttl time.Duration)
	CooldownHint(active bool)
	Feedback(fb transport.Feedback)
}

// Config is the per-scenario policy the controller runs under.
type Config struct {
	ScenarioID           string
	Mode                 string
	InterruptionsEnabled bool
	Mobile               bool

	EouSilence         time.Duration
	Impatience         time.Duration
	Hangup             time.Duration
	RestartMinInterval time.Duration
	RestartCooldown    time.Duration
	MaxRestartFailures int
}

func (c Config) speakerMode() speaker.Mode {
	if c.Mode == "rapid_fire" {
		return speaker.ModeRapidFire
	}
	return speaker.ModePractice
}

// Controller is the conversational turn-taking engine: a single goroutine
// that owns the turn state, drives the recognizer and speaker, reacts to
// silence, and calls the backend at the right moments.
type Controller struct {
	cfg       Config
	backend   Backend
	rec       recognizer.Recognizer
	spk       Speaker
	sessions  Sessions
	presenter Presenter
	record    *transcript.Log

	events  chan event
	monitor *silence.Monitor

	// Everything below is touched only from the run loop.
	state State
	gen   int

	finals        []string
	submitting    bool
	recognizerUp  bool
	recDisabled   bool
	floorOpen     bool
	lastRecStart  time.Time
	autoRestarts  int
	cooldownUntil time.Time
	feedbackShown bool
}

func New(cfg Config, backend Backend, rec recognizer.Recognizer, spk Speaker, sessions Sessions, presenter Presenter, record *transcript.Log) *Controller {
	if cfg.MaxRestartFailures <= 0 {
		cfg.MaxRestartFailures = 2
	}
	if record == nil {
		record = transcript.NewLog()
	}

	c := &Controller{
		cfg:       cfg,
		backend:   backend,
		rec:       rec,
		spk:       spk,
		sessions:  sessions,
		presenter: presenter,
		record:    record,
		events:    make(chan event, 256),
		state:     Idle,
	}
	c.monitor = silence.NewMonitor(cfg.EouSilence, cfg.Impatience, cfg.Hangup, func(ev silence.Event) {
		c.post(evSilence{ev: ev})
	})
	return c
}

// Record exposes the append-only conversation record for readers.
func (c *Controller) Record() *transcript.Log {
	return c.record
}

// StartCall, EndCall, MicTap and SetVisibility are the UI inputs. They can
// be called from any goroutine; the work happens on the run loop.
func (c *Controller) StartCall() { c.post(evStartCall{}) }
func (c *Controller) EndCall()   { c.post(evEndCall{}) }
func (c *Controller) MicTap()    { c.post(evMicTap{}) }

func (c *Controller) SetVisibility(hidden bool) {
	c.post(evVisibility{hidden: hidden})
}

// ResumeExisting seeds the controller with a session recovered at startup.
// Call before Run.
func (c *Controller) ResumeExisting(sessionID string) {
	c.sessions.Begin(sessionID, c.cfg.ScenarioID)
	c.state = AwaitingLearner
	c.appendLine(transcript.System, "Reconnected to your call in progress. The prospect is waiting.")
}

// Run consumes events until ctx is cancelled. All state transitions happen
// here, so between any two events the turn state is valid and observable.
func (c *Controller) Run(ctx context.Context) {
	c.presenter.StateChanged(c.state, c.sessions.ID())
	if c.state == AwaitingLearner {
		c.enterAwaitingLearner(ctx, true)
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
		case rev := <-c.rec.Events():
			c.handle(ctx, evRecognizer{ev: rev})
		}
	}
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	default:
		log.Printf("warning: controller queue full, dropped %T", ev)
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case evStartCall:
		c.handleStartCall(ctx)
	case evEndCall:
		c.handleEndCall(ctx)
	case evMicTap:
		c.handleMicTap(ctx)
	case evVisibility:
		c.handleVisibility(ctx, ev.hidden)
	case evRecognizer:
		c.handleRecognizer(ctx, ev.ev)
	case evSilence:
		c.handleSilence(ctx, ev.ev)
	case evRecStarted:
		c.handleRecStarted(ctx, ev)
	case evRestartDue:
		c.handleRestartDue(ctx, ev)
	case evSessionStarted:
		c.handleSessionStarted(ctx, ev)
	case evSpeakerDone:
		c.handleSpeakerDone(ctx, ev)
	case evBackendReply:
		c.handleBackendReply(ctx, ev)
	case evRecovered:
		c.handleRecovered(ctx, ev)
	case evEndAck:
		c.handleEndAck(ev)
	}
}

// --- user actions ---

func (c *Controller) handleStartCall(ctx context.Context) {
	if c.state != Idle && c.state != Ended {
		return
	}

	c.resetForNewCall()
	if !c.transitionTo(Dialing) {
		return
	}

	gen := c.gen
	go func() {
		res, err := c.backend.StartSession(ctx, c.cfg.ScenarioID, c.cfg.Mode)
		c.post(evSessionStarted{gen: gen, res: res, err: err})
	}()
}

func (c *Controller) handleEndCall(ctx context.Context) {
	switch c.state {
	case Idle, Ending, Ended:
		return
	}
	c.beginEnding(ctx, true)
}

func (c *Controller) handleMicTap(ctx context.Context) {
	switch c.state {
	case AwaitingLearner:
		// A tap always counts as user intent: it clears any cooldown.
		c.cooldownUntil = time.Time{}
		c.autoRestarts = 0
		c.presenter.CooldownHint(false)
		if !c.floorOpen {
			// The floor was closed by a background pause. Re-arm the
			// silence deadlines; speech captured before the pause is kept.
			c.floorOpen = true
			c.monitor.Open()
		}
		if !c.recognizerUp && !c.recDisabled {
			c.startRecognizer(ctx)
		}
	case LearnerSpeaking:
		c.rec.Stop()
		text := c.pendingTranscript()
		if text != "" {
			c.submit(ctx, text, false)
			return
		}
		c.enterAwaitingLearner(ctx, false)
	}
}

func (c *Controller) handleVisibility(ctx context.Context, hidden bool) {
	if !hidden {
		// Returning to visible never auto-resumes; the learner taps.
		return
	}

	switch c.state {
	case ProspectSpeaking, LearnerSpeaking, AwaitingLearner:
		c.spk.Stop()
		c.rec.Stop()
		c.recognizerUp = false
		c.monitor.Close()
		c.floorOpen = false
		if c.state != AwaitingLearner {
			c.transitionTo(AwaitingLearner)
		}
		c.presenter.MicState(MicIdle)
		c.presenter.Banner("Paused while the app was in the background. Tap the microphone when you're ready.", 8*time.Second)
	}
}

// --- recognizer ---

func (c *Controller) handleRecognizer(ctx context.Context, ev recognizer.Event) {
	switch ev.Type {
	case recognizer.Started:
		c.recognizerUp = true
		c.lastRecStart = time.Now()
		if c.state == AwaitingLearner {
			c.transitionTo(LearnerSpeaking)
		}
		if c.state == LearnerSpeaking || (c.state == ProspectSpeaking && c.cfg.InterruptionsEnabled) {
			c.presenter.MicState(MicListening)
		}

	case recognizer.SpeechStart:
		if c.state == ProspectSpeaking && c.cfg.InterruptionsEnabled {
			// The learner interrupts: cut the prospect off immediately.
			c.spk.Stop()
			if c.transitionTo(LearnerSpeaking) {
				c.openFloor()
				c.presenter.MicState(MicListening)
			}
		}

	case recognizer.Frame:
		if c.state != AwaitingLearner && c.state != LearnerSpeaking {
			return
		}
		c.autoRestarts = 0
		c.monitor.Frame()
		if ev.Final != "" {
			c.finals = append(c.finals, ev.Final)
		} else if ev.Interim != "" {
			c.presenter.LiveTranscript(ev.Interim)
		}

	case recognizer.SpeechEnd:
		// End-of-utterance is decided by the silence monitor, not here.

	case recognizer.Ended:
		c.recognizerUp = false
		c.handleRecognizerEnded(ctx, ev.ShouldRestart)

	case recognizer.Failed:
		c.handleRecognizerError(ev.Err)
	}
}

func (c *Controller) handleRecognizerEnded(ctx context.Context, shouldRestart bool) {
	if c.state == LearnerSpeaking {
		// The floor stays open: this is the same silence window.
		c.transitionTo(AwaitingLearner)
	}
	if c.state != AwaitingLearner {
		return
	}

	c.presenter.MicState(MicIdle)

	if c.cfg.Mobile {
		c.presenter.Banner("Tap the microphone to answer.", 8*time.Second)
		return
	}
	if !shouldRestart || c.recDisabled {
		return
	}

	c.autoRestarts++
	if c.autoRestarts > c.cfg.MaxRestartFailures {
		c.cooldownUntil = time.Now().Add(c.cfg.RestartCooldown)
		c.presenter.CooldownHint(true)
		return
	}

	delay := c.cfg.RestartMinInterval - time.Since(c.lastRecStart)
	if delay < 0 {
		delay = 0
	}
	gen := c.gen
	time.AfterFunc(delay, func() {
		c.post(evRestartDue{gen: gen})
	})
}

func (c *Controller) handleRecognizerError(kind recognizer.ErrorKind) {
	switch {
	case kind == recognizer.ErrNoSpeech:
		// Informational only; never counts against the restart budget.
		log.Printf("recognizer: no speech detected")
	case kind.Fatal():
		c.recDisabled = true
		c.presenter.MicState(MicDisabled)
		c.presenter.Banner("Microphone unavailable. Check your input device and permissions, then reload.", 8*time.Second)
		c.appendLine(transcript.System, "The microphone could not be used; speech input is disabled for this call.")
	default:
		c.presenter.Banner("Speech service hiccup — trying to keep the call going.", 8*time.Second)
	}
}

func (c *Controller) handleRecStarted(ctx context.Context, ev evRecStarted) {
	if ev.gen != c.gen || ev.err == nil {
		return
	}

	if errors.Is(ev.err, recognizer.ErrDisabled) {
		c.recDisabled = true
		c.presenter.MicState(MicDisabled)
		return
	}

	log.Printf("recognizer start failed: %v", ev.err)
	if c.state == AwaitingLearner {
		c.handleRecognizerEnded(ctx, true)
	}
}

func (c *Controller) handleRestartDue(ctx context.Context, ev evRestartDue) {
	if ev.gen != c.gen || c.state != AwaitingLearner {
		return
	}
	if c.recognizerUp || c.recDisabled || c.inCooldown() {
		return
	}
	c.startRecognizer(ctx)
}

// --- silence ---

func (c *Controller) handleSilence(ctx context.Context, ev silence.Event) {
	switch ev {
	case silence.EndOfUtterance:
		if c.state != LearnerSpeaking || c.submitting {
			return
		}
		text := c.pendingTranscript()
		if text == "" {
			return
		}
		c.submit(ctx, text, false)

	case silence.Impatience:
		if c.state != AwaitingLearner && c.state != LearnerSpeaking {
			return
		}
		c.appendLine(transcript.System, "The prospect is getting impatient with the silence.")
		c.submit(ctx, SentinelImpatience, true)

	case silence.Hangup:
		if c.state != AwaitingLearner && c.state != LearnerSpeaking {
			return
		}
		c.appendLine(transcript.System, "The prospect gave up waiting and hung up.")
		c.submitHangup(ctx)
	}
}

// --- backend ---

func (c *Controller) handleSessionStarted(ctx context.Context, ev evSessionStarted) {
	if c.state != Dialing || ev.gen != c.gen {
		return
	}

	if ev.err != nil {
		if transport.IsKind(ev.err, transport.KindUnauthorized) {
			c.presenter.Banner("Your session credentials were rejected. Please sign in again.", 8*time.Second)
		} else {
			c.presenter.Banner("Couldn't reach the practice service. Check your connection and try again.", 8*time.Second)
		}
		log.Printf("start session failed: %v", ev.err)
		c.transitionTo(Idle)
		return
	}

	c.sessions.Begin(ev.res.SessionID, c.cfg.ScenarioID)

	if ev.res.InitialUtterance == "" {
		// Contract failure: never invent prospect content.
		c.appendLine(transcript.System, "The call connected, but the prospect's greeting didn't arrive. Go ahead and open the call.")
		c.enterAwaitingLearner(ctx, true)
		return
	}

	c.speakProspect(ctx, ev.res.InitialUtterance)
}

func (c *Controller) handleSpeakerDone(ctx context.Context, ev evSpeakerDone) {
	if ev.gen != c.gen || c.state != ProspectSpeaking {
		return
	}
	if ev.reason == speaker.Stopped {
		// Interruption and end-of-call paths already moved the state.
		return
	}
	c.enterAwaitingLearner(ctx, true)
}

func (c *Controller) handleBackendReply(ctx context.Context, ev evBackendReply) {
	if c.state != ProcessingReply || ev.gen != c.gen {
		// A reply for an abandoned turn: discard without UI effects.
		return
	}
	c.submitting = false

	if ev.err != nil {
		switch {
		case transport.IsKind(ev.err, transport.KindSessionExpired):
			if c.transitionTo(Recovering) {
				gen := c.gen
				go func() {
					reply, err := c.sessions.Recover(ctx, ev.input)
					c.post(evRecovered{gen: gen, reply: reply, err: err})
				}()
			}
			return
		case transport.IsKind(ev.err, transport.KindUnauthorized):
			c.presenter.Banner("Your session credentials were rejected. Please sign in again.", 8*time.Second)
			c.beginEnding(ctx, true)
			return
		default:
			// Network-shaped failure: degrade gracefully, keep the call.
			log.Printf("respond failed: %v", ev.err)
			c.presenter.Banner("Connection hiccup — the prospect didn't catch that.", 8*time.Second)
			c.appendLine(transcript.System, "Sorry, could you say that again? The line crackled.")
			c.enterAwaitingLearner(ctx, true)
			return
		}
	}

	c.consumeReply(ctx, ev.reply)
}

func (c *Controller) handleRecovered(ctx context.Context, ev evRecovered) {
	if c.state != Recovering || ev.gen != c.gen {
		return
	}

	if ev.err != nil {
		log.Printf("session unrecoverable: %v", ev.err)
		c.appendLine(transcript.System, "Your session expired and couldn't be restored.")
		c.sessions.End()
		c.finishEnded(transport.Feedback{Coaching: neutralCoaching, Synthetic: true})
		return
	}

	c.appendLine(transcript.System, "Connection restored — picking up where you left off.")
	c.consumeReply(ctx, ev.reply)
}

// consumeReply applies a successful backend reply from ProcessingReply or
// Recovering. The session id is adopted before any user-visible effect.
func (c *Controller) consumeReply(ctx context.Context, reply transport.Reply) {
	c.sessions.Adopt(reply.SessionID)
	c.sessions.NotePending("")

	if !reply.ContinueCall {
		if reply.ProspectUtterance != "" {
			c.appendLine(transcript.Prospect, reply.ProspectUtterance)
		}
		c.beginEnding(ctx, false)
		return
	}

	if reply.ProspectUtterance == "" {
		c.appendLine(transcript.System, "The prospect's reply didn't arrive. Keep going.")
		c.enterAwaitingLearner(ctx, true)
		return
	}

	c.speakProspect(ctx, reply.ProspectUtterance)
}

func (c *Controller) handleEndAck(ev evEndAck) {
	if c.state != Ending {
		return
	}
	c.sessions.End()
	c.finishEnded(ev.feedback)
}

// --- shared flows ---

func (c *Controller) speakProspect(ctx context.Context, text string) {
	c.appendLine(transcript.Prospect, text)
	if !c.transitionTo(ProspectSpeaking) {
		return
	}

	if c.cfg.InterruptionsEnabled && !c.recDisabled {
		if !c.recognizerUp {
			c.startRecognizer(ctx)
		}
	} else if c.recognizerUp {
		c.rec.Stop()
		c.recognizerUp = false
	}
	c.presenter.MicState(MicIdle)

	gen := c.gen
	go func() {
		clip, err := c.backend.Synthesize(ctx, text)
		if err != nil {
			// NoAudio: the speaker simulates the duration instead.
			clip = nil
		}
		reason := c.spk.Play(ctx, clip, text, c.cfg.speakerMode())
		c.post(evSpeakerDone{gen: gen, reason: reason})
	}()
}

func (c *Controller) enterAwaitingLearner(ctx context.Context, reopenFloor bool) {
	if c.state != AwaitingLearner && !c.transitionTo(AwaitingLearner) {
		return
	}

	if reopenFloor {
		c.openFloor()
	}

	if c.recognizerUp {
		c.presenter.MicState(MicListening)
		return
	}
	c.presenter.MicState(MicIdle)

	if c.recDisabled || c.inCooldown() {
		return
	}
	if c.cfg.Mobile {
		c.presenter.Banner("Tap the microphone to answer.", 8*time.Second)
		return
	}
	c.startRecognizer(ctx)
}

func (c *Controller) openFloor() {
	c.finals = nil
	c.floorOpen = true
	c.monitor.Open()
}

func (c *Controller) submit(ctx context.Context, input string, sentinel bool) {
	if c.submitting {
		return
	}

	if !sentinel {
		c.appendLine(transcript.Learner, input)
	}

	c.monitor.Close()
	c.floorOpen = false
	c.rec.Stop()
	c.recognizerUp = false
	c.finals = nil

	if !c.transitionTo(ProcessingReply) {
		return
	}
	c.submitting = true
	c.presenter.MicState(MicIdle)
	c.sessions.NotePending(input)

	gen := c.gen
	go func() {
		reply, err := c.backend.Respond(ctx, input)
		c.post(evBackendReply{gen: gen, input: input, reply: reply, err: err})
	}()
}

// submitHangup delivers the hangup sentinel and moves straight to Ending;
// whatever the backend replies to the sentinel is irrelevant to the call.
func (c *Controller) submitHangup(ctx context.Context) {
	c.monitor.Close()
	c.floorOpen = false
	c.rec.Stop()
	c.recognizerUp = false

	input := SentinelHangup
	go func() {
		if _, err := c.backend.Respond(ctx, input); err != nil {
			log.Printf("hangup sentinel submit failed: %v", err)
		}
	}()

	c.beginEnding(ctx, false)
}

func (c *Controller) beginEnding(ctx context.Context, forced bool) {
	if c.state == Ending || c.state == Ended {
		return
	}

	c.monitor.Close()
	c.floorOpen = false
	c.rec.Stop()
	c.recognizerUp = false
	c.spk.Stop()
	c.submitting = false
	c.presenter.MicState(MicIdle)
	c.presenter.CooldownHint(false)

	if !c.transitionTo(Ending) {
		return
	}

	go func() {
		fb := c.backend.EndSession(ctx, forced)
		c.post(evEndAck{feedback: fb})
	}()
}

func (c *Controller) finishEnded(fb transport.Feedback) {
	if c.state != Ended && !c.transitionTo(Ended) {
		return
	}
	if !c.feedbackShown {
		c.feedbackShown = true
		c.presenter.Feedback(fb)
	}
}

func (c *Controller) startRecognizer(ctx context.Context) {
	c.lastRecStart = time.Now()
	gen := c.gen
	go func() {
		err := c.rec.Start(ctx)
		if err != nil {
			c.post(evRecStarted{gen: gen, err: err})
		}
	}()
}

func (c *Controller) pendingTranscript() string {
	return strings.TrimSpace(strings.Join(c.finals, " "))
}

func (c *Controller) inCooldown() bool {
	return time.Now().Before(c.cooldownUntil)
}

func (c *Controller) appendLine(direction transcript.Direction, text string) {
	u, err := transcript.New(direction, text)
	if err != nil {
		return
	}
	stored, err := c.record.Append(u)
	if err != nil {
		return
	}
	c.presenter.TranscriptLine(stored)
}

func (c *Controller) resetForNewCall() {
	c.record.Reset()
	c.finals = nil
	c.submitting = false
	c.floorOpen = false
	c.autoRestarts = 0
	c.cooldownUntil = time.Time{}
	c.feedbackShown = false
	c.presenter.CooldownHint(false)
}

// transitionTo validates the move against the transition table, bumps the
// generation so stale async completions are discarded, and notifies the
// presenter. An illegal transition ends the session with neutral feedback.
func (c *Controller) transitionTo(to State) bool {
	if !legalTransition(c.state, to) {
		log.Printf("illegal transition %s -> %s, ending call", c.state, to)
		c.invariantViolation()
		return false
	}

	c.state = to
	c.gen++
	c.presenter.StateChanged(c.state, c.sessions.ID())
	return true
}

func (c *Controller) invariantViolation() {
	c.monitor.Close()
	c.rec.Stop()
	c.recognizerUp = false
	c.spk.Stop()
	c.submitting = false
	c.sessions.End()

	c.state = Ended
	c.gen++
	c.presenter.StateChanged(c.state, c.sessions.ID())
	if !c.feedbackShown {
		c.feedbackShown = true
		c.presenter.Feedback(transport.Feedback{Coaching: neutralCoaching, Synthetic: true})
	}
}

func (c *Controller) shutdown() {
	c.monitor.Close()
	c.rec.Stop()
	c.spk.Stop()
}
