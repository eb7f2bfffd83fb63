package match

import "fmt"

// Messages holds the chat texts the bot sends. Zero fields fall back to
// DefaultMessages.
type Messages struct {
	Greeting       string
	RehostPassed   string
	CancelPassed   string
	EloImbalance   string // formatted with diff and threshold
	VoteProgress   string // formatted with kind, count and threshold
	HelpText       string
	StatusTemplate string // formatted with state, rehost count, cancel count
}

// DefaultMessages is used for any field left empty.
var DefaultMessages = Messages{
	Greeting:       "Hi! I'm the hub bot. Type !rehost or !cancel to vote. Type !help for more.",
	RehostPassed:   "Rehost vote passed. An admin will rehost this match.",
	CancelPassed:   "Cancel vote passed. An admin will cancel this match.",
	EloImbalance:   "Heads up: team rating difference is %d (limit %d). Use !cancel if you want to void this match.",
	VoteProgress:   "%s vote: %d/%d",
	HelpText:       "Commands: !rehost votes to rehost, !cancel votes to cancel, !status shows vote counts.",
	StatusTemplate: "State %s. Rehost %d/%d, cancel %d/%d.",
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages
	if m.Greeting != "" {
		d.Greeting = m.Greeting
	}
	if m.RehostPassed != "" {
		d.RehostPassed = m.RehostPassed
	}
	if m.CancelPassed != "" {
		d.CancelPassed = m.CancelPassed
	}
	if m.EloImbalance != "" {
		d.EloImbalance = m.EloImbalance
	}
	if m.VoteProgress != "" {
		d.VoteProgress = m.VoteProgress
	}
	if m.HelpText != "" {
		d.HelpText = m.HelpText
	}
	if m.StatusTemplate != "" {
		d.StatusTemplate = m.StatusTemplate
	}
	return d
}

func (m Messages) passed(kind VoteKind) string {
	if kind == VoteCancel {
		return m.CancelPassed
	}
	return m.RehostPassed
}

func (m Messages) elo(diff, threshold int) string {
	return fmt.Sprintf(m.EloImbalance, diff, threshold)
}

// Progress formats a running vote count.
func (m Messages) Progress(kind VoteKind, count, threshold int) string {
	return fmt.Sprintf(m.VoteProgress, kind, count, threshold)
}
