package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pitchloop/pitchloop/internal/storage"
	"github.com/pitchloop/pitchloop/internal/transport"
)

const (
	recoveryAttempts = 3
	recoveryDelay    = 2 * time.Second
)

// Backend is the slice of the transport the session manager needs.
type Backend interface {
	SessionStatus(ctx context.Context) (transport.SessionStatus, error)
	Respond(ctx context.Context, userInput string) (transport.Reply, error)
}

// Journal persists the active call across process restarts.
type Journal interface {
	SaveJournal(j storage.Journal) error
	LoadJournal() (storage.Journal, bool, error)
	ClearJournal() error
}

// Manager owns the opaque remote session identifier. It is the only
// component that mutates the id; everything else reads it.
type Manager struct {
	backend Backend
	journal Journal

	attempts int
	delay    time.Duration
	sleep    func(time.Duration)

	mu         sync.Mutex
	id         string
	scenarioID string
}

func NewManager(backend Backend, journal Journal) *Manager {
	return &Manager{
		backend:  backend,
		journal:  journal,
		attempts: recoveryAttempts,
		delay:    recoveryDelay,
		sleep:    time.Sleep,
	}
}

// ID returns the current session identifier, empty when no call is active.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Begin records a freshly started session.
func (m *Manager) Begin(sessionID, scenarioID string) {
	m.mu.Lock()
	m.id = sessionID
	m.scenarioID = scenarioID
	m.mu.Unlock()

	m.persist("")
}

// Adopt switches to the identifier the backend returned mid-call. It
// reports whether the identifier actually changed.
func (m *Manager) Adopt(sessionID string) bool {
	if sessionID == "" {
		return false
	}

	m.mu.Lock()
	changed := m.id != sessionID
	m.id = sessionID
	m.mu.Unlock()

	if changed {
		m.persist("")
	}
	return changed
}

// NotePending journals the submission currently in flight so a restarted
// process can re-issue it after recovery.
func (m *Manager) NotePending(input string) {
	m.persist(input)
}

// End forgets the session and clears the journal.
func (m *Manager) End() {
	m.mu.Lock()
	m.id = ""
	m.scenarioID = ""
	m.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.ClearJournal(); err != nil {
			log.Printf("warning: clear call journal: %v", err)
		}
	}
}

// Probe asks the backend for an existing active session at startup. On a
// hit the manager adopts the identifier so the controller can resume.
func (m *Manager) Probe(ctx context.Context) (string, bool, error) {
	status, err := m.backend.SessionStatus(ctx)
	if err != nil {
		return "", false, fmt.Errorf("session status: %w", err)
	}
	if !status.Active {
		if m.journal != nil {
			_ = m.journal.ClearJournal()
		}
		return "", false, nil
	}

	m.mu.Lock()
	m.id = status.SessionID
	m.mu.Unlock()
	m.persist("")

	return status.SessionID, true, nil
}

// Recover runs the bounded recovery protocol after the backend reported
// the session expired: up to three attempts, two seconds apart. Each
// attempt probes the status and, when a session is active, re-issues the
// original submission exactly once.
func (m *Manager) Recover(ctx context.Context, originalInput string) (transport.Reply, error) {
	var lastErr error

	for attempt := 1; attempt <= m.attempts; attempt++ {
		if attempt > 1 {
			m.sleep(m.delay)
		}
		if ctx.Err() != nil {
			return transport.Reply{}, ctx.Err()
		}

		status, err := m.backend.SessionStatus(ctx)
		if err != nil {
			lastErr = err
			log.Printf("recovery attempt %d/%d: status failed: %v", attempt, m.attempts, err)
			continue
		}
		if !status.Active {
			lastErr = fmt.Errorf("no active session on backend")
			log.Printf("recovery attempt %d/%d: no active session", attempt, m.attempts)
			continue
		}

		m.Adopt(status.SessionID)

		reply, err := m.backend.Respond(ctx, originalInput)
		if err != nil {
			lastErr = err
			log.Printf("recovery attempt %d/%d: resubmit failed: %v", attempt, m.attempts, err)
			continue
		}

		m.persist("")
		return reply, nil
	}

	return transport.Reply{}, fmt.Errorf("session recovery failed after %d attempts: %w", m.attempts, lastErr)
}

func (m *Manager) persist(pending string) {
	if m.journal == nil {
		return
	}

	m.mu.Lock()
	j := storage.Journal{SessionID: m.id, ScenarioID: m.scenarioID, PendingInput: pending}
	m.mu.Unlock()

	if j.SessionID == "" {
		return
	}
	if err := m.journal.SaveJournal(j); err != nil {
		log.Printf("warning: save call journal: %v", err)
	}
}
