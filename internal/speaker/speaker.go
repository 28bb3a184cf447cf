package speaker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

// Reason explains how a playback attempt finished.
type Reason int

const (
	Completed Reason = iota
	Stopped
)

func (r Reason) String() string {
	if r == Stopped {
		return "stopped"
	}
	return "completed"
}

// Mode selects the pacing clamps for simulated playback.
type Mode int

const (
	ModePractice Mode = iota
	ModeRapidFire
)

// wordsPerMinute drives the simulated duration when no audio is available.
const wordsPerMinute = 150

// minClipBytes is the threshold below which a clip is treated as empty.
const minClipBytes = 512

// Speaker plays exactly one prospect clip at a time through an external
// player process. A clip that is missing, sub-threshold, or unplayable is
// replaced by a simulated duration so the turn still completes
// deterministically.
type Speaker struct {
	playerCmd []string

	mu      sync.Mutex
	cancel  context.CancelFunc
	playing chan struct{}

	// runPlayer is swapped out in tests.
	runPlayer func(ctx context.Context, clipPath string) error
}

func New(playerCommand string) (*Speaker, error) {
	s := &Speaker{}
	s.runPlayer = s.execPlayer

	playerCommand = strings.TrimSpace(playerCommand)
	if playerCommand == "" {
		return s, nil
	}

	args, err := shellwords.NewParser().Parse(playerCommand)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	s.playerCmd = args
	return s, nil
}

// Play blocks until the clip finishes, fails, or is stopped. A new Play
// while one is active first stops the prior clip. When clip is empty or
// sub-threshold the duration is simulated from the utterance text.
func (s *Speaker) Play(ctx context.Context, clip []byte, text string, mode Mode) Reason {
	playCtx := s.begin(ctx)
	defer s.finish()

	if len(clip) >= minClipBytes && len(s.playerCmd) > 0 {
		if reason, ok := s.playClip(playCtx, clip); ok {
			return reason
		}
		// Fall through to the simulated duration on player failure.
	}

	return s.simulate(playCtx, text, mode)
}

// Stop cancels the in-flight clip immediately. The pending Play call
// returns with reason Stopped. Idempotent.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	playing := s.playing
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if playing != nil {
		<-playing
	}
}

// SimulatedDuration estimates how long an utterance would take to speak at
// 150 words per minute, clamped per mode.
func SimulatedDuration(text string, mode Mode) time.Duration {
	words := len(strings.Fields(text))
	d := time.Duration(words) * time.Minute / wordsPerMinute

	lo, hi := time.Second, 5*time.Second
	if mode == ModeRapidFire {
		lo, hi = 500*time.Millisecond, 3*time.Second
	}
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func (s *Speaker) begin(ctx context.Context) context.Context {
	// Preempt whatever is playing before taking the slot.
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	playCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.playing = make(chan struct{})
	return playCtx
}

func (s *Speaker) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.playing != nil {
		close(s.playing)
		s.playing = nil
	}
}

func (s *Speaker) playClip(ctx context.Context, clip []byte) (Reason, bool) {
	tmp, err := os.CreateTemp("", "pitchloop-clip-*.mp3")
	if err != nil {
		log.Printf("warning: clip temp file failed: %v", err)
		return 0, false
	}
	clipPath := tmp.Name()
	defer func() { _ = os.Remove(clipPath) }()

	if _, err := tmp.Write(clip); err != nil {
		_ = tmp.Close()
		log.Printf("warning: clip write failed: %v", err)
		return 0, false
	}
	if err := tmp.Close(); err != nil {
		return 0, false
	}

	err = s.runPlayer(ctx, clipPath)
	if ctx.Err() != nil {
		return Stopped, true
	}
	if err != nil {
		log.Printf("warning: audio player failed, simulating duration: %v", err)
		return 0, false
	}
	return Completed, true
}

func (s *Speaker) execPlayer(ctx context.Context, clipPath string) error {
	base := s.playerCmd[0]
	args := append(append([]string{}, s.playerCmd[1:]...), clipPath)
	return exec.CommandContext(ctx, base, args...).Run()
}

func (s *Speaker) simulate(ctx context.Context, text string, mode Mode) Reason {
	timer := time.NewTimer(SimulatedDuration(text, mode))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Stopped
	case <-timer.C:
		return Completed
	}
}
