// Package session owns per-tab conversation state and drives the
// request lifecycle against the completion gateway.
package session

import (
	"slices"
	"strings"

	"github.com/ashureev/geminichat/internal/domain"
	"github.com/ashureev/geminichat/internal/prompt"
)

const (
	// NoResponse replaces an empty reply from the gateway.
	NoResponse = "No response"
	// FailureMessage is shown to the user when a turn fails.
	FailureMessage = "Error occurred while processing your message."
)

// Phase is the lifecycle phase of a conversation: Idle, Sending or Failed.
type Phase interface {
	phase() string
}

// Idle accepts new submissions.
type Idle struct{}

// Sending has exactly one outstanding completion request. Banner keeps the
// error from a previous failed turn visible until this turn resolves.
type Sending struct {
	Turn   uint64
	Banner string
}

// Failed behaves like Idle for input but carries a visible error.
type Failed struct {
	Message string
}

func (Idle) phase() string    { return StatusIdle }
func (Sending) phase() string { return StatusSending }
func (Failed) phase() string  { return StatusError }

// Status values reported in snapshots.
const (
	StatusIdle    = "idle"
	StatusSending = "sending"
	StatusError   = "error"
)

// State is an immutable conversation state. Transitions return a new value
// and never modify the receiver.
type State struct {
	messages []domain.Message
	phase    Phase
	turn     uint64
}

// NewState returns an empty, idle conversation.
func NewState() State {
	return State{phase: Idle{}}
}

// Phase returns the current phase.
func (s State) Phase() Phase {
	if s.phase == nil {
		return Idle{}
	}
	return s.phase
}

// Messages returns a copy of the conversation in insertion order.
func (s State) Messages() []domain.Message {
	return slices.Clone(s.messages)
}

// Len returns the number of messages.
func (s State) Len() int {
	return len(s.messages)
}

// Pending reports whether a request is outstanding.
func (s State) Pending() bool {
	_, ok := s.Phase().(Sending)
	return ok
}

// LastError returns the visible error, if any.
func (s State) LastError() string {
	switch p := s.Phase().(type) {
	case Failed:
		return p.Message
	case Sending:
		return p.Banner
	}
	return ""
}

// Submit appends a user message and moves to Sending. It returns the prompt
// compiled over the updated conversation. Blank text, or a submission while
// a request is pending, is rejected and leaves the state unchanged.
func (s State) Submit(text, id string) (State, string, bool) {
	if strings.TrimSpace(text) == "" || s.Pending() {
		return s, "", false
	}

	next := State{
		messages: appendMessage(s.messages, domain.Message{ID: id, Role: domain.RoleUser, Content: text}),
		turn:     s.turn + 1,
	}
	next.phase = Sending{Turn: next.turn, Banner: s.LastError()}
	return next, prompt.Compile(next.messages), true
}

// Succeed records the assistant reply for turn and returns to Idle.
// Results for any other turn are stale and ignored.
func (s State) Succeed(turn uint64, reply, id string) (State, bool) {
	if !s.sendingTurn(turn) {
		return s, false
	}
	if reply == "" {
		reply = NoResponse
	}
	return State{
		messages: appendMessage(s.messages, domain.Message{ID: id, Role: domain.RoleAssistant, Content: reply}),
		phase:    Idle{},
		turn:     s.turn,
	}, true
}

// Fail moves a pending turn to Failed. The user's message stays in the
// conversation.
func (s State) Fail(turn uint64, message string) (State, bool) {
	if !s.sendingTurn(turn) {
		return s, false
	}
	s.phase = Failed{Message: message}
	return s, true
}

// Cancel abandons the pending turn. The eventual result of that turn is
// discarded. An error banner carried by the turn stays visible.
func (s State) Cancel() (State, bool) {
	sending, ok := s.Phase().(Sending)
	if !ok {
		return s, false
	}
	if sending.Banner != "" {
		s.phase = Failed{Message: sending.Banner}
	} else {
		s.phase = Idle{}
	}
	return s, true
}

// Dismiss clears a visible error. A pending turn keeps running.
func (s State) Dismiss() (State, bool) {
	switch p := s.Phase().(type) {
	case Failed:
		s.phase = Idle{}
		return s, true
	case Sending:
		if p.Banner == "" {
			return s, false
		}
		p.Banner = ""
		s.phase = p
		return s, true
	}
	return s, false
}

// Reset discards the conversation from any phase. The turn counter keeps
// counting so results from before the reset are recognised as stale.
func (s State) Reset() State {
	return State{phase: Idle{}, turn: s.turn}
}

// Snapshot returns the JSON view of the state.
func (s State) Snapshot() Snapshot {
	msgs := s.Messages()
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return Snapshot{
		Status:   s.Phase().phase(),
		Pending:  s.Pending(),
		Error:    s.LastError(),
		Messages: msgs,
	}
}

func (s State) sendingTurn(turn uint64) bool {
	sending, ok := s.Phase().(Sending)
	return ok && sending.Turn == turn
}

// appendMessage never writes into the backing array of msgs.
func appendMessage(msgs []domain.Message, msg domain.Message) []domain.Message {
	return append(slices.Clip(msgs), msg)
}

// Snapshot is the client-facing view of a conversation.
type Snapshot struct {
	Status   string           `json:"status"`
	Pending  bool             `json:"pending"`
	Error    string           `json:"error,omitempty"`
	Messages []domain.Message `json:"messages"`
}
