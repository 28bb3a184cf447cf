package turn

import (
	"github.com/pitchloop/pitchloop/internal/recognizer"
	"github.com/pitchloop/pitchloop/internal/silence"
	"github.com/pitchloop/pitchloop/internal/speaker"
	"github.com/pitchloop/pitchloop/internal/transport"
)

// All controller input arrives as tagged variant messages on one queue:
// user actions, recognizer events, silence events, and the completions of
// asynchronous backend and playback work. Completions carry the generation
// counter current when they were spawned; the controller discards any
// completion whose generation no longer matches, which is how every
// await-equivalent re-checks state before acting.
type event interface {
	isEvent()
}

type evStartCall struct{}

type evEndCall struct{}

type evMicTap struct{}

type evVisibility struct {
	hidden bool
}

type evRecognizer struct {
	ev recognizer.Event
}

type evSilence struct {
	ev silence.Event
}

type evRecStarted struct {
	gen int
	err error
}

type evRestartDue struct {
	gen int
}

type evSessionStarted struct {
	gen int
	res transport.StartResult
	err error
}

type evSpeakerDone struct {
	gen    int
	reason speaker.Reason
}

type evBackendReply struct {
	gen   int
	input string
	reply transport.Reply
	err   error
}

type evRecovered struct {
	gen   int
	reply transport.Reply
	err   error
}

type evEndAck struct {
	feedback transport.Feedback
}

func (evStartCall) isEvent()      {}
func (evEndCall) isEvent()        {}
func (evMicTap) isEvent()         {}
func (evVisibility) isEvent()     {}
func (evRecognizer) isEvent()     {}
func (evSilence) isEvent()        {}
func (evRecStarted) isEvent()     {}
func (evRestartDue) isEvent()     {}
func (evSessionStarted) isEvent() {}
func (evSpeakerDone) isEvent()    {}
func (evBackendReply) isEvent()   {}
func (evRecovered) isEvent()      {}
func (evEndAck) isEvent()         {}
