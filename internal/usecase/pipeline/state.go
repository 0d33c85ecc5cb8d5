package pipeline

// State is a step of one recommend run.
type State string

// Run states. Failed is reachable from every other state.
const (
	StateIdle                State = "idle"
	StateIngested            State = "ingested"
	StateEmbedded            State = "embedded"
	StateCandidatesGenerated State = "candidates_generated"
	StateReranked            State = "reranked"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

var transitions = map[State]State{
	StateIdle:                StateIngested,
	StateIngested:            StateEmbedded,
	StateEmbedded:            StateCandidatesGenerated,
	StateCandidatesGenerated: StateReranked,
	StateReranked:            StateDone,
}

// run is the per-request state machine. Never shared between requests.
type run struct {
	state State
	trace []State
}

func newRun() *run {
	return &run{state: StateIdle, trace: []State{StateIdle}}
}

// advance moves to the next state. Out-of-order transitions are programming errors.
func (r *run) advance(to State) {
	if next, ok := transitions[r.state]; !ok || next != to {
		panic("pipeline: illegal transition " + string(r.state) + " -> " + string(to))
	}
	r.state = to
	r.trace = append(r.trace, to)
}

func (r *run) fail() {
	if r.state == StateDone || r.state == StateFailed {
		return
	}
	r.state = StateFailed
	r.trace = append(r.trace, StateFailed)
}
