package silence

import (
	"sync"
	"time"
)

// Event is a silence signal delivered to the turn controller.
type Event int

const (
	// EndOfUtterance fires after a short quiet gap once at least one
	// recognition frame has arrived: the learner finished their turn.
	EndOfUtterance Event = iota
	// Impatience fires once per floor-open after prolonged total silence.
	Impatience
	// Hangup fires after terminal total silence; the prospect gives up.
	Hangup
)

func (e Event) String() string {
	switch e {
	case EndOfUtterance:
		return "end_of_utterance"
	case Impatience:
		return "impatience"
	case Hangup:
		return "hangup"
	default:
		return "unknown"
	}
}

// Monitor watches two kinds of silence while the learner holds the floor.
// Timers exist only between Open and Close; a speech frame resets all of
// them, while the once-per-floor impatience latch resets only on Open.
type Monitor struct {
	eou        time.Duration
	impatience time.Duration
	hangup     time.Duration
	emit       func(Event)

	mu              sync.Mutex
	open            bool
	eouTimer        *time.Timer
	impatienceTimer *time.Timer
	hangupTimer     *time.Timer
	impatienceFired bool
}

func NewMonitor(eou, impatience, hangup time.Duration, emit func(Event)) *Monitor {
	if eou <= 0 {
		eou = 2 * time.Second
	}
	if impatience <= 0 {
		impatience = 10 * time.Second
	}
	if hangup <= 0 {
		hangup = 15 * time.Second
	}
	return &Monitor{eou: eou, impatience: impatience, hangup: hangup, emit: emit}
}

// Open arms the impatience and hangup deadlines for a fresh learner floor.
// The end-of-utterance timer stays disarmed until the first frame.
func (m *Monitor) Open() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopAllLocked()
	m.open = true
	m.impatienceFired = false
	m.armLongTimersLocked()
}

// Frame records a speech frame: the end-of-utterance timer is (re)armed and
// both total-silence deadlines start over.
func (m *Monitor) Frame() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return
	}

	if m.eouTimer != nil {
		m.eouTimer.Stop()
	}
	m.eouTimer = time.AfterFunc(m.eou, m.fire(EndOfUtterance))

	m.stopLongTimersLocked()
	m.armLongTimersLocked()
}

// Close disarms every timer. Idempotent.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopAllLocked()
	m.open = false
}

func (m *Monitor) armLongTimersLocked() {
	m.impatienceTimer = time.AfterFunc(m.impatience, m.fireImpatience)
	m.hangupTimer = time.AfterFunc(m.hangup, m.fire(Hangup))
}

func (m *Monitor) stopLongTimersLocked() {
	if m.impatienceTimer != nil {
		m.impatienceTimer.Stop()
		m.impatienceTimer = nil
	}
	if m.hangupTimer != nil {
		m.hangupTimer.Stop()
		m.hangupTimer = nil
	}
}

func (m *Monitor) stopAllLocked() {
	if m.eouTimer != nil {
		m.eouTimer.Stop()
		m.eouTimer = nil
	}
	m.stopLongTimersLocked()
}

func (m *Monitor) fire(ev Event) func() {
	return func() {
		m.mu.Lock()
		open := m.open
		m.mu.Unlock()

		if open && m.emit != nil {
			m.emit(ev)
		}
	}
}

func (m *Monitor) fireImpatience() {
	m.mu.Lock()
	fired := m.impatienceFired
	m.impatienceFired = true
	open := m.open
	m.mu.Unlock()

	if open && !fired && m.emit != nil {
		m.emit(Impatience)
	}
}
