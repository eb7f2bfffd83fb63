package match

import (
	"fmt"
	"strings"
)

// LifecycleState is the normalized status of a tracked match.
type LifecycleState int

const (
	StateUnknown LifecycleState = iota
	StateVoting
	StateOngoing
	StateFinished
	StateCancelled
	StateOther
)

func (s LifecycleState) String() string {
	switch s {
	case StateVoting:
		return "VOTING"
	case StateOngoing:
		return "ONGOING"
	case StateFinished:
		return "FINISHED"
	case StateCancelled:
		return "CANCELLED"
	case StateOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

func (s LifecycleState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the names produced by String.
func (s *LifecycleState) UnmarshalText(b []byte) error {
	for st := StateUnknown; st <= StateOther; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown lifecycle state %q", b)
}

// NormalizeStatus maps a raw FACEIT match status onto a LifecycleState.
// Lobby setup stages after the map vote count as ONGOING.
func NormalizeStatus(raw string) LifecycleState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return StateUnknown
	case "VOTING", "CAPTAIN_PICK":
		return StateVoting
	case "CONFIGURING", "READY", "ONGOING":
		return StateOngoing
	case "FINISHED":
		return StateFinished
	case "CANCELLED", "ABORTED":
		return StateCancelled
	default:
		return StateOther
	}
}

// VoteKind selects which ledger a vote goes to.
type VoteKind int

const (
	VoteRehost VoteKind = iota + 1
	VoteCancel
)

func (k VoteKind) String() string {
	switch k {
	case VoteRehost:
		return "rehost"
	case VoteCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

func (k VoteKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *VoteKind) UnmarshalText(b []byte) error {
	if len(b) == 0 || string(b) == "unknown" {
		*k = 0
		return nil
	}
	v, err := ParseVoteKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseVoteKind accepts "rehost" or "cancel", case-insensitively and with an
// optional leading "!".
func ParseVoteKind(s string) (VoteKind, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "!")) {
	case "rehost":
		return VoteRehost, nil
	case "cancel":
		return VoteCancel, nil
	default:
		return 0, fmt.Errorf("unknown vote kind %q", s)
	}
}
