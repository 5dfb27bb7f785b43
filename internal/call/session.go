package call

import (
	"net"
	"slices"
	"strconv"
	"time"
)

// State is the lifecycle position of a call session.
type State int

const (
	StateIdle State = iota
	StateCalling
	StateInCall
	StateEnding
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCalling:
		return "CALLING"
	case StateInCall:
		return "IN_CALL"
	case StateEnding:
		return "ENDING"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Hint is the address a peer announces for its out-of-band audio channel.
type Hint struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (h Hint) String() string {
	return net.JoinHostPort(h.IP, strconv.Itoa(h.Port))
}

// Session is a snapshot of one call. Invitees is fixed at start time.
type Session struct {
	ID         string    `json:"id"`
	Caller     string    `json:"caller"`
	Target     string    `json:"target"`
	IsGroup    bool      `json:"is_group"`
	Invitees   []string  `json:"invitees"`
	CallerHint Hint      `json:"caller_hint"`
	Callee     string    `json:"callee,omitempty"`
	CalleeHint Hint      `json:"callee_hint"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	AcceptedAt time.Time `json:"accepted_at"`
}

func (s *Session) clone() Session {
	c := *s
	c.Invitees = slices.Clone(s.Invitees)
	return c
}

func (s *Session) invited(username string) bool {
	return slices.Contains(s.Invitees, username)
}

// participant reports whether username may end the call.
func (s *Session) participant(username string) bool {
	return username == s.Caller || username == s.Callee || s.invited(username)
}

// involves reports whether username's departure ends the call: it placed
// the call, accepted it, or is the target of a direct call.
func (s *Session) involves(username string) bool {
	if username == s.Caller || (s.Callee != "" && username == s.Callee) {
		return true
	}
	return !s.IsGroup && username == s.Target
}

// recipients lists everyone told about the end of the call.
func (s *Session) recipients() []string {
	out := []string{s.Caller}
	for _, u := range s.Invitees {
		if u != s.Caller {
			out = append(out, u)
		}
	}
	return out
}
