package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

func messageResponse(t *testing.T, raw string) *api.MessageResponse {
	t.Helper()
	var msg api.MessageResponse
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("build message response: %v", err)
	}
	return &msg
}

func drainEvents(d *Deepgram) []Event {
	var out []Event
	for {
		select {
		case ev := <-d.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestCallbackFinalFrame(t *testing.T) {
	d := NewDeepgram(Options{})
	cb := &deepgramCallback{r: d}

	msg := messageResponse(t, `{
		"is_final": true,
		"channel": {
			"alternatives": [{"transcript": "  hello there  ", "confidence": 0.92}]
		}
	}`)
	if err := cb.Message(msg); err != nil {
		t.Fatal(err)
	}

	events := drainEvents(d)
	if len(events) != 1 {
		t.Fatalf("events = %v", events)
	}
	ev := events[0]
	if ev.Type != Frame || ev.Final != "hello there" || ev.Interim != "" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Confidence != 0.92 {
		t.Fatalf("confidence = %v", ev.Confidence)
	}
}

func TestCallbackInterimFrame(t *testing.T) {
	d := NewDeepgram(Options{})
	cb := &deepgramCallback{r: d}

	msg := messageResponse(t, `{
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "hel"}]}
	}`)
	if err := cb.Message(msg); err != nil {
		t.Fatal(err)
	}

	events := drainEvents(d)
	if len(events) != 1 || events[0].Interim != "hel" || events[0].Final != "" {
		t.Fatalf("events = %v", events)
	}
}

func TestCallbackInterimSuppressedOnMobile(t *testing.T) {
	d := NewDeepgram(Options{Mobile: true})
	cb := &deepgramCallback{r: d}

	interim := messageResponse(t, `{
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "hel"}]}
	}`)
	final := messageResponse(t, `{
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "hello"}]}
	}`)
	_ = cb.Message(interim)
	_ = cb.Message(final)

	events := drainEvents(d)
	if len(events) != 1 || events[0].Final != "hello" {
		t.Fatalf("mobile must only see final frames, got %v", events)
	}
}

func TestCallbackEmptyTranscriptIgnored(t *testing.T) {
	d := NewDeepgram(Options{})
	cb := &deepgramCallback{r: d}

	msg := messageResponse(t, `{
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "   "}]}
	}`)
	_ = cb.Message(msg)
	_ = cb.Message(messageResponse(t, `{"is_final": true, "channel": {"alternatives": []}}`))

	if events := drainEvents(d); len(events) != 0 {
		t.Fatalf("blank transcripts produced events: %v", events)
	}
}

func TestCallbackOpenAndSpeechEvents(t *testing.T) {
	d := NewDeepgram(Options{})
	cb := &deepgramCallback{r: d}

	_ = cb.Open(&api.OpenResponse{})
	_ = cb.SpeechStarted(&api.SpeechStartedResponse{})
	_ = cb.UtteranceEnd(&api.UtteranceEndResponse{})

	events := drainEvents(d)
	if len(events) != 3 {
		t.Fatalf("events = %v", events)
	}
	if events[0].Type != Started || events[1].Type != SpeechStart || events[2].Type != SpeechEnd {
		t.Fatalf("event order = %v", events)
	}
}

func TestUnexpectedCloseAsksForRestart(t *testing.T) {
	d := NewDeepgram(Options{})
	cb := &deepgramCallback{r: d}

	_ = cb.Close(&api.CloseResponse{})

	events := drainEvents(d)
	if len(events) != 1 || events[0].Type != Ended || !events[0].ShouldRestart {
		t.Fatalf("events = %v, want one restartable Ended", events)
	}
}

func TestExplicitStopDoesNotAskForRestart(t *testing.T) {
	d := NewDeepgram(Options{})
	d.mu.Lock()
	d.active = true
	d.explicitStop = false
	d.mu.Unlock()

	d.Stop()

	events := drainEvents(d)
	if len(events) != 1 || events[0].Type != Ended || events[0].ShouldRestart {
		t.Fatalf("events = %v, want one non-restartable Ended", events)
	}

	// The SDK close callback arriving afterwards must not duplicate it.
	cb := &deepgramCallback{r: d}
	_ = cb.Close(&api.CloseResponse{})
	if events := drainEvents(d); len(events) != 0 {
		t.Fatalf("ended sent twice: %v", events)
	}
}

func TestFatalStreamErrorDisables(t *testing.T) {
	d := NewDeepgram(Options{})
	cb := &deepgramCallback{r: d}

	_ = cb.Error(&api.ErrorResponse{ErrCode: "not-allowed", Description: "forbidden"})

	events := drainEvents(d)
	if len(events) != 1 || events[0].Type != Failed || events[0].Err != ErrPermissionDenied {
		t.Fatalf("events = %v", events)
	}

	if err := d.Start(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("start after fatal error = %v, want ErrDisabled", err)
	}
}

func TestSendDropsWhenQueueFull(t *testing.T) {
	d := NewDeepgram(Options{})

	for i := 0; i < cap(d.events)+10; i++ {
		d.send(Event{Type: Frame, Interim: "x"})
	}
	if len(d.events) != cap(d.events) {
		t.Fatalf("queue = %d, want full buffer with overflow dropped", len(d.events))
	}
}

func TestClassifyDeviceError(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorKind
	}{
		{"microphone permission denied", ErrPermissionDenied},
		{"operation not allowed", ErrPermissionDenied},
		{"unsupported format", ErrUnsupported},
		{"invalid sample rate", ErrUnsupported},
		{"no such device", ErrDeviceMissing},
	}
	for _, tc := range cases {
		if got := classifyDeviceError(errors.New(tc.msg)); got != tc.want {
			t.Errorf("classifyDeviceError(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestClassifyStreamError(t *testing.T) {
	cases := []struct {
		code, desc string
		want       ErrorKind
	}{
		{"no-speech", "", ErrNoSpeech},
		{"", "no speech detected", ErrNoSpeech},
		{"not-allowed", "", ErrPermissionDenied},
		{"", "401 unauthorized", ErrPermissionDenied},
		{"1011", "server error", ErrNetwork},
	}
	for _, tc := range cases {
		if got := classifyStreamError(tc.code, tc.desc); got != tc.want {
			t.Errorf("classifyStreamError(%q, %q) = %v, want %v", tc.code, tc.desc, got, tc.want)
		}
	}
}

func TestErrorKindFatal(t *testing.T) {
	fatal := []ErrorKind{ErrPermissionDenied, ErrDeviceMissing, ErrUnsupported}
	for _, kind := range fatal {
		if !kind.Fatal() {
			t.Errorf("%v should be fatal", kind)
		}
	}
	for _, kind := range []ErrorKind{ErrNone, ErrNoSpeech, ErrNetwork} {
		if kind.Fatal() {
			t.Errorf("%v should not be fatal", kind)
		}
	}
}
