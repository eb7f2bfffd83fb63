package chat

import (
	"testing"

	"github.com/onnwee/faceit-rehost-bot/match"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		prefix, text string
		want         CommandKind
		ok           bool
		args         int
	}{
		{"", "!rehost", CmdRehost, true, 0},
		{"!", "  !CANCEL please", CmdCancel, true, 1},
		{"!", "!help", CmdHelp, true, 0},
		{"!", "!Status", CmdStatus, true, 0},
		{"!", "!rehosting", 0, false, 0},
		{"!", "rehost", 0, false, 0},
		{"!", "gg !rehost", 0, false, 0},
		{"!", "", 0, false, 0},
		{"?", "?rehost", CmdRehost, true, 0},
		{"?", "!rehost", 0, false, 0},
	}
	for _, tt := range tests {
		cmd, ok := ParseCommand(tt.prefix, tt.text)
		if ok != tt.ok || cmd.Kind != tt.want || len(cmd.Args) != tt.args {
			t.Errorf("ParseCommand(%q, %q) = %+v, %v", tt.prefix, tt.text, cmd, ok)
		}
	}
}

func TestCommandVoteKind(t *testing.T) {
	if k, ok := (Command{Kind: CmdRehost}).VoteKind(); !ok || k != match.VoteRehost {
		t.Errorf("rehost -> %v, %v", k, ok)
	}
	if k, ok := (Command{Kind: CmdCancel}).VoteKind(); !ok || k != match.VoteCancel {
		t.Errorf("cancel -> %v, %v", k, ok)
	}
	if _, ok := (Command{Kind: CmdHelp}).VoteKind(); ok {
		t.Error("help is not a vote")
	}
}
