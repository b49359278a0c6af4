package voice

import (
	"strings"
	"time"
)

// State is the controller's listening state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transcript is the live display text of the current session.
type Transcript struct {
	Final   string `json:"final"`
	Interim string `json:"interim"`
}

// Text joins settled and unsettled text for display.
func (t Transcript) Text() string {
	return strings.TrimSpace(t.Final + " " + t.Interim)
}

func (t Transcript) IsFinal() bool {
	return t.Interim == "" && t.Final != ""
}

func (t Transcript) Empty() bool {
	return t.Final == "" && t.Interim == ""
}

// Status is a snapshot of the controller, emitted on every change.
type Status struct {
	SessionID  string     `json:"session_id,omitempty"`
	State      State      `json:"state"`
	Transcript Transcript `json:"transcript"`
	Err        *Error     `json:"error,omitempty"`
	Supported  bool       `json:"supported"`
}

// Utterance is one completed phrase forwarded to the caller.
type Utterance struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, bool) {
	for _, st := range []State{StateIdle, StateListening, StateProcessing, StateError} {
		if st.String() == s {
			return st, true
		}
	}
	return StateIdle, false
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, _ := ParseState(string(text))
	*s = parsed
	return nil
}
