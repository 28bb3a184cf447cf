package speaker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestSimulatedDuration(t *testing.T) {
	cases := []struct {
		name string
		text string
		mode Mode
		want time.Duration
	}{
		{"empty text clamps to floor", "", ModePractice, time.Second},
		{"one word clamps to floor", "hello", ModePractice, time.Second},
		{"nine words", "one two three four five six seven eight nine", ModePractice, 3600 * time.Millisecond},
		{"long text clamps to ceiling", makeWords(40), ModePractice, 5 * time.Second},
		{"rapid fire floor", "hi", ModeRapidFire, 500 * time.Millisecond},
		{"rapid fire ceiling", makeWords(40), ModeRapidFire, 3 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SimulatedDuration(tc.text, tc.mode); got != tc.want {
				t.Fatalf("SimulatedDuration(%q, %v) = %v, want %v", tc.text, tc.mode, got, tc.want)
			}
		})
	}
}

func makeWords(n int) string {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.WriteString("word ")
	}
	return buf.String()
}

func TestPlaySimulatesWithoutClip(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	reason := s.Play(context.Background(), nil, "hi", ModeRapidFire)
	elapsed := time.Since(start)

	if reason != Completed {
		t.Fatalf("reason = %v, want Completed", reason)
	}
	if elapsed < 400*time.Millisecond {
		t.Fatalf("simulated playback returned too fast: %v", elapsed)
	}
}

func TestPlaySimulatesSubThresholdClip(t *testing.T) {
	s, err := New("ffplay -autoexit")
	if err != nil {
		t.Fatal(err)
	}
	playerCalled := false
	s.runPlayer = func(context.Context, string) error {
		playerCalled = true
		return nil
	}

	tiny := make([]byte, minClipBytes-1)
	reason := s.Play(context.Background(), tiny, "hi", ModeRapidFire)

	if playerCalled {
		t.Fatal("player invoked for sub-threshold clip")
	}
	if reason != Completed {
		t.Fatalf("reason = %v, want Completed", reason)
	}
}

func TestPlayInvokesPlayer(t *testing.T) {
	s, err := New("true")
	if err != nil {
		t.Fatal(err)
	}

	var gotPath string
	s.runPlayer = func(_ context.Context, clipPath string) error {
		gotPath = clipPath
		return nil
	}

	clip := make([]byte, minClipBytes)
	reason := s.Play(context.Background(), clip, "hello there", ModePractice)

	if reason != Completed {
		t.Fatalf("reason = %v, want Completed", reason)
	}
	if gotPath == "" {
		t.Fatal("player never invoked")
	}
	if _, err := os.Stat(gotPath); !os.IsNotExist(err) {
		t.Fatalf("temp clip not cleaned up: %v", err)
	}
}

func TestPlayerFailureFallsBackToSimulation(t *testing.T) {
	s, err := New("ffplay")
	if err != nil {
		t.Fatal(err)
	}
	s.runPlayer = func(context.Context, string) error {
		return errors.New("exec: ffplay not found")
	}

	start := time.Now()
	reason := s.Play(context.Background(), make([]byte, minClipBytes), "hi", ModeRapidFire)
	elapsed := time.Since(start)

	if reason != Completed {
		t.Fatalf("reason = %v, want Completed", reason)
	}
	if elapsed < 400*time.Millisecond {
		t.Fatalf("no simulated fallback after player failure: %v", elapsed)
	}
}

func TestStopInterruptsPlayback(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan Reason, 1)
	go func() {
		done <- s.Play(context.Background(), nil, makeWords(40), ModePractice)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case reason := <-done:
		if reason != Stopped {
			t.Fatalf("reason = %v, want Stopped", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("Play did not return after Stop")
	}
}

func TestNewPlayPreemptsOldPlay(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatal(err)
	}

	first := make(chan Reason, 1)
	go func() {
		first <- s.Play(context.Background(), nil, makeWords(40), ModePractice)
	}()
	time.Sleep(50 * time.Millisecond)

	second := make(chan Reason, 1)
	go func() {
		second <- s.Play(context.Background(), nil, "hi", ModeRapidFire)
	}()

	select {
	case reason := <-first:
		if reason != Stopped {
			t.Fatalf("first play reason = %v, want Stopped", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("first play not preempted")
	}

	select {
	case reason := <-second:
		if reason != Completed {
			t.Fatalf("second play reason = %v, want Completed", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second play never finished")
	}
}

func TestStopIdempotentWhenIdle(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	s.Stop()
	s.Stop()
}

func TestNewRejectsUnparsableCommand(t *testing.T) {
	if _, err := New(`ffplay "unterminated`); err == nil {
		t.Fatal("expected parse error for unterminated quote")
	}
}
