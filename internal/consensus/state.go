package consensus

// State is the phase of the engine.
type State int32

const (
	Idle State = iota
	Assembling
	Voting
	Committing
	Rejected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Assembling:
		return "assembling"
	case Voting:
		return "voting"
	case Committing:
		return "committing"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}
