package x10

import (
	"regexp"
	"sync/atomic"
)

// heyu monitor reports one state change as two lines: an address line naming
// the unit, then a function line naming the action. Both self-issued (snd*)
// and externally observed (rcv*) traffic use the same shape:
//
//	01/02 10:14:01  rcvi addr unit       1 : hu A1  (Hall_light)
//	01/02 10:14:01  rcvi func          On : hc A
var (
	addressLine  = regexp.MustCompile(`(?:rcvi|rcvt|sndc|snds|sndm|sndt) addr unit.+hu ([A-P][0-9]+)`)
	functionLine = regexp.MustCompile(`(?:rcvi|rcvt|sndc|snds|sndm|sndt) func.*(On|Off) :`)
)

// Phase is the state of the two-line event automaton.
type Phase int

const (
	// PhaseWaitAddress means no unpaired address has been seen.
	PhaseWaitAddress Phase = iota

	// PhaseHaveAddress means an address line is waiting for its function line.
	PhaseHaveAddress
)

// String returns the phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseWaitAddress:
		return "wait_address"
	case PhaseHaveAddress:
		return "have_address"
	default:
		return "unknown"
	}
}

// Source records where a state event came from.
type Source string

const (
	// SourceBus marks events reconstructed from the monitor stream.
	SourceBus Source = "bus"

	// SourceCommand marks events produced by executing an MQTT command.
	SourceCommand Source = "command"
)

// StateEvent is an observed or commanded device state, ready to publish.
type StateEvent struct {
	HouseCode HouseCode
	Command   Command
	Source    Source
}

// MonitorState is the complete state of the two-line automaton.
// Pending is non-nil exactly when Phase is PhaseHaveAddress.
type MonitorState struct {
	Phase   Phase
	Pending *HouseCode
}

// Step is the transition function of the two-line automaton.
//
//	WaitAddress + address line  -> HaveAddress(code)
//	HaveAddress + address line  -> HaveAddress(new code)   previous code is lost
//	HaveAddress + function line -> WaitAddress, emits (code, ON|OFF)
//	WaitAddress + function line -> WaitAddress             line is dropped
//	any         + other line    -> unchanged
//
// Address recognition takes priority over function recognition.
func Step(state MonitorState, line string) (MonitorState, *StateEvent) {
	if m := addressLine.FindStringSubmatch(line); m != nil {
		hc := HouseCode(m[1])
		return MonitorState{Phase: PhaseHaveAddress, Pending: &hc}, nil
	}

	if m := functionLine.FindStringSubmatch(line); m != nil {
		if state.Phase != PhaseHaveAddress || state.Pending == nil {
			return MonitorState{Phase: PhaseWaitAddress}, nil
		}
		cmd := CommandOff
		if m[1] == "On" {
			cmd = CommandOn
		}
		ev := &StateEvent{HouseCode: *state.Pending, Command: cmd, Source: SourceBus}
		return MonitorState{Phase: PhaseWaitAddress}, ev
	}

	return state, nil
}

// EventParser threads MonitorState through a line sequence for the monitor
// loop and counts the lossy transitions.
//
// Feed must be called from a single goroutine; the counters are safe to read
// from any goroutine.
type EventParser struct {
	state MonitorState

	events      atomic.Uint64
	dropped     atomic.Uint64
	overwritten atomic.Uint64
}

// NewEventParser returns a parser in PhaseWaitAddress.
func NewEventParser() *EventParser {
	return &EventParser{}
}

// Feed advances the automaton by one line and returns the emitted event, if any.
func (p *EventParser) Feed(line string) *StateEvent {
	prev := p.state
	next, ev := Step(prev, line)

	switch {
	case ev != nil:
		p.events.Add(1)
	case next.Phase == PhaseHaveAddress && prev.Phase == PhaseHaveAddress && next.Pending != prev.Pending:
		p.overwritten.Add(1)
	case next.Phase == PhaseWaitAddress && prev.Phase == PhaseWaitAddress && functionLine.MatchString(line):
		p.dropped.Add(1)
	}

	p.state = next
	return ev
}

// ParserStats are the parser counters.
type ParserStats struct {
	Events               uint64 `json:"events"`
	DroppedFunctions     uint64 `json:"dropped_functions"`
	OverwrittenAddresses uint64 `json:"overwritten_addresses"`
}

// Stats returns a snapshot of the counters.
func (p *EventParser) Stats() ParserStats {
	return ParserStats{
		Events:               p.events.Load(),
		DroppedFunctions:     p.dropped.Load(),
		OverwrittenAddresses: p.overwritten.Load(),
	}
}
