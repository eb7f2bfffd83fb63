package chat

import (
	"strings"

	"github.com/onnwee/faceit-rehost-bot/match"
)

// CommandKind identifies a recognised chat command.
type CommandKind int

const (
	CmdRehost CommandKind = iota + 1
	CmdCancel
	CmdHelp
	CmdStatus
)

func (k CommandKind) String() string {
	switch k {
	case CmdRehost:
		return "rehost"
	case CmdCancel:
		return "cancel"
	case CmdHelp:
		return "help"
	case CmdStatus:
		return "status"
	}
	return "unknown"
}

// Command is a parsed chat command. Args holds any words after the command.
type Command struct {
	Kind CommandKind
	Args []string
}

// VoteKind maps vote commands to their ledger; ok is false for other commands.
func (c Command) VoteKind() (match.VoteKind, bool) {
	switch c.Kind {
	case CmdRehost:
		return match.VoteRehost, true
	case CmdCancel:
		return match.VoteCancel, true
	}
	return 0, false
}

// ParseCommand recognises prefix+name at the start of text, case-insensitive.
// An empty prefix means "!".
func ParseCommand(prefix, text string) (Command, bool) {
	if prefix == "" {
		prefix = "!"
	}
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], prefix) {
		return Command{}, false
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], prefix))
	var kind CommandKind
	switch name {
	case "rehost":
		kind = CmdRehost
	case "cancel":
		kind = CmdCancel
	case "help":
		kind = CmdHelp
	case "status":
		kind = CmdStatus
	default:
		return Command{}, false
	}
	return Command{Kind: kind, Args: fields[1:]}, true
}
