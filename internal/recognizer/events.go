package recognizer

// EventType tags a recognizer event. Events are delivered in arrival order
// on a single channel so the turn controller can audit every transition.
type EventType int

const (
	// Started means the microphone is live and frames may follow.
	Started EventType = iota
	// SpeechStart means voice activity was detected.
	SpeechStart
	// Frame carries interim or final transcript text.
	Frame
	// SpeechEnd means voice activity stopped.
	SpeechEnd
	// Ended closes one start/stop cycle. Emitted exactly once per cycle.
	Ended
	// Failed carries a classified recognizer error.
	Failed
)

func (t EventType) String() string {
	switch t {
	case Started:
		return "started"
	case SpeechStart:
		return "speech_start"
	case Frame:
		return "frame"
	case SpeechEnd:
		return "speech_end"
	case Ended:
		return "ended"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind classifies recognizer failures. PermissionDenied, DeviceMissing
// and Unsupported are fatal for the session; NoSpeech is informational and
// must not count against restart budgets; Network is transient.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrPermissionDenied
	ErrDeviceMissing
	ErrUnsupported
	ErrNoSpeech
	ErrNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case ErrPermissionDenied:
		return "permission_denied"
	case ErrDeviceMissing:
		return "device_missing"
	case ErrUnsupported:
		return "unsupported"
	case ErrNoSpeech:
		return "no_speech"
	case ErrNetwork:
		return "network"
	default:
		return "none"
	}
}

// Fatal reports whether the kind permanently disables the recognizer.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrPermissionDenied, ErrDeviceMissing, ErrUnsupported:
		return true
	}
	return false
}

// Event is one tagged recognizer message.
type Event struct {
	Type       EventType
	Interim    string
	Final      string
	Confidence float64
	// ShouldRestart is set on Ended when the stream closed without an
	// explicit Stop and the controller may restart it.
	ShouldRestart bool
	Err           ErrorKind
}
