package turn

// State is the single observable phase of the call. Exactly one value is
// current at a time; transitions outside the table below are treated as
// internal invariant violations and end the session.
type State int

const (
	Idle State = iota
	Dialing
	ProspectSpeaking
	AwaitingLearner
	LearnerSpeaking
	ProcessingReply
	Recovering
	Ending
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dialing:
		return "dialing"
	case ProspectSpeaking:
		return "prospect_speaking"
	case AwaitingLearner:
		return "awaiting_learner"
	case LearnerSpeaking:
		return "learner_speaking"
	case ProcessingReply:
		return "processing_reply"
	case Recovering:
		return "recovering"
	case Ending:
		return "ending"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// legal enumerates every permitted transition so the machine stays
// auditable in one place.
var legal = map[State][]State{
	Idle:             {Dialing, AwaitingLearner},
	Dialing:          {ProspectSpeaking, AwaitingLearner, Idle, Ending},
	ProspectSpeaking: {AwaitingLearner, LearnerSpeaking, Ending},
	AwaitingLearner:  {LearnerSpeaking, ProcessingReply, Ending},
	LearnerSpeaking:  {ProcessingReply, AwaitingLearner, Ending},
	ProcessingReply:  {ProspectSpeaking, AwaitingLearner, Recovering, Ending},
	Recovering:       {ProspectSpeaking, AwaitingLearner, Ending, Ended},
	Ending:           {Ended},
	Ended:            {Idle, Dialing},
}

func legalTransition(from, to State) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}
