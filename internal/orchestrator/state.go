package orchestrator

import (
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// State is the conversation state.
type State string

const (
	StateStandby      State = "STANDBY"
	StateListening    State = "LISTENING"
	StateTranscribing State = "TRANSCRIBING"
	StateResponding   State = "RESPONDING"
)

func (s State) String() string { return string(s) }

// Events that drive the state machine.
const (
	EventWake         = "wake"
	EventUtteranceEnd = "utterance_end"
	EventRespond      = "respond"
	EventDone         = "done"
	EventBargeIn      = "barge_in"
	EventNoUtterance  = "no_utterance"
	EventAbort        = "abort"
)

// HistorySize is the number of transitions kept by [Orchestrator.History].
const HistorySize = 50

var (
	standby      = string(StateStandby)
	listening    = string(StateListening)
	transcribing = string(StateTranscribing)
	responding   = string(StateResponding)
)

func newMachine(enter fsm.Callback) *fsm.FSM {
	return fsm.NewFSM(standby,
		fsm.Events{
			{Name: EventWake, Src: []string{standby}, Dst: listening},
			{Name: EventUtteranceEnd, Src: []string{listening}, Dst: transcribing},
			{Name: EventRespond, Src: []string{listening, transcribing}, Dst: responding},
			{Name: EventDone, Src: []string{responding}, Dst: standby},
			{Name: EventBargeIn, Src: []string{responding}, Dst: listening},
			{Name: EventNoUtterance, Src: []string{listening, transcribing}, Dst: standby},
			{Name: EventAbort, Src: []string{listening, transcribing, responding}, Dst: standby},
		},
		fsm.Callbacks{"enter_state": enter},
	)
}

// Transition records one state change.
type Transition struct {
	From   State
	To     State
	Event  string
	TurnID string
	At     time.Time
}

// history keeps the most recent transitions.
type history struct {
	mu    sync.Mutex
	items []Transition
}

func (h *history) add(t Transition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == HistorySize {
		copy(h.items, h.items[1:])
		h.items = h.items[:HistorySize-1]
	}
	h.items = append(h.items, t)
}

func (h *history) snapshot() []Transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Transition, len(h.items))
	copy(out, h.items)
	return out
}
