package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/faceit-rehost-bot/faceitapi"
	"github.com/onnwee/faceit-rehost-bot/telemetry"
)

// ChatSender delivers a message to a FACEIT chat room.
type ChatSender interface {
	SendChatMessage(ctx context.Context, roomID, text string) error
}

// Thresholds configures the Coordinator. Zero values fall back to the
// defaults (6 rehost, 6 cancel, 70 rating points).
type Thresholds struct {
	Rehost  int
	Cancel  int
	EloDiff int
}

const (
	DefaultRehostThreshold = 6
	DefaultCancelThreshold = 6
	DefaultEloThreshold    = 70
)

func (t Thresholds) withDefaults() Thresholds {
	if t.Rehost <= 0 {
		t.Rehost = DefaultRehostThreshold
	}
	if t.Cancel <= 0 {
		t.Cancel = DefaultCancelThreshold
	}
	if t.EloDiff <= 0 {
		t.EloDiff = DefaultEloThreshold
	}
	return t
}

// For returns the threshold for kind.
func (t Thresholds) For(kind VoteKind) int {
	if kind == VoteCancel {
		return t.Cancel
	}
	return t.Rehost
}

// VoteOutcome is the structured result of a vote submission. Rejections are
// reported through Accepted and Reason, never as errors.
type VoteOutcome struct {
	Accepted  bool     `json:"accepted"`
	Reason    string   `json:"reason,omitempty"`
	MatchID   string   `json:"match_id,omitempty"`
	Kind      VoteKind `json:"kind"`
	VoteCount int      `json:"vote_count"`
	Threshold int      `json:"threshold"`
	Triggered bool     `json:"triggered"`
	// Announced is false when a triggered announcement failed to send.
	Announced bool `json:"announced,omitempty"`
}

// Coordinator runs the rehost/cancel voting state machine and the rating
// imbalance notice on top of a Registry.
type Coordinator struct {
	reg        *Registry
	chat       ChatSender
	bus        *Bus
	thresholds Thresholds
	messages   Messages
}

// NewCoordinator wires a Coordinator. bus may be nil.
func NewCoordinator(reg *Registry, chat ChatSender, bus *Bus, th Thresholds, msgs Messages) *Coordinator {
	return &Coordinator{
		reg:        reg,
		chat:       chat,
		bus:        bus,
		thresholds: th.withDefaults(),
		messages:   msgs.withDefaults(),
	}
}

// Thresholds returns the effective thresholds.
func (c *Coordinator) Thresholds() Thresholds { return c.thresholds }

// Messages returns the effective chat texts.
func (c *Coordinator) Messages() Messages { return c.messages }

// SubmitVote records userID's vote of kind for matchID. When the ledger
// reaches its threshold both ledgers are cleared and the announcement is
// sent to the match room. A failed send is logged; the threshold crossing
// stands.
func (c *Coordinator) SubmitVote(ctx context.Context, matchID, userID string, kind VoteKind) VoteOutcome {
	out := VoteOutcome{MatchID: matchID, Kind: kind, Threshold: c.thresholds.For(kind)}
	if kind != VoteRehost && kind != VoteCancel {
		out.Reason = "unknown vote kind"
		telemetry.CountVote(kind.String(), "invalid")
		return out
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "votes"), slog.String("match_id", matchID), slog.String("kind", kind.String()))

	t, err := c.reg.applyVote(matchID, userID, kind, out.Threshold)
	switch {
	case errors.Is(err, ErrNotFound):
		out.Reason = ErrNotFound.Error()
		telemetry.CountVote(kind.String(), "not_found")
		log.Debug("vote rejected", slog.String("user_id", userID), slog.String("reason", out.Reason))
		return out
	case errors.Is(err, ErrNotParticipant):
		out.Reason = ErrNotParticipant.Error()
		out.VoteCount = t.count
		telemetry.CountVote(kind.String(), "not_participant")
		log.Debug("vote rejected", slog.String("user_id", userID), slog.String("reason", out.Reason))
		return out
	case errors.Is(err, ErrStateConflict):
		out.Reason = ErrStateConflict.Error()
		telemetry.CountVote(kind.String(), "conflict")
		log.Error("vote ledger reset", slog.String("user_id", userID), slog.Any("err", err))
		return out
	case err != nil:
		out.Reason = err.Error()
		log.Error("vote failed", slog.Any("err", err))
		return out
	}

	out.Accepted = true
	out.VoteCount = t.count
	out.Triggered = t.triggered
	if !t.triggered {
		telemetry.CountVote(kind.String(), "accepted")
		log.Info("vote recorded", slog.String("user_id", userID), slog.Int("count", t.count), slog.Int("threshold", out.Threshold))
		return out
	}

	telemetry.CountVote(kind.String(), "triggered")
	telemetry.CountTrigger(kind.String())
	log.Info("vote threshold reached", slog.Int("count", t.count))
	out.Announced = c.announce(ctx, t.record, c.messages.passed(kind), kind.String())
	c.bus.Publish(Event{Kind: EventVoteTriggered, MatchID: matchID, Current: t.record.State, Vote: kind, Count: t.count})
	return out
}

// SubmitVoteByRoom routes a vote arriving from a chat room to its match.
// If no tracked match owns the room, roomID is tried as a match id.
func (c *Coordinator) SubmitVoteByRoom(ctx context.Context, roomID, userID string, kind VoteKind) VoteOutcome {
	if rec, ok := c.reg.FindByChatRoom(roomID); ok {
		return c.SubmitVote(ctx, rec.MatchID, userID, kind)
	}
	return c.SubmitVote(ctx, roomID, userID, kind)
}

// CheckElo sends the rating imbalance notice for rec when the difference
// meets the threshold and the match has not been notified yet. It reports
// whether a notice was delivered.
func (c *Coordinator) CheckElo(ctx context.Context, rec Record, ratings faceitapi.TeamRatings) bool {
	diff := ratings.Diff()
	if rec.EloNotified || diff < c.thresholds.EloDiff {
		return false
	}
	if !c.announce(ctx, rec, c.messages.elo(diff, c.thresholds.EloDiff), "elo") {
		return false
	}
	if !c.reg.MarkEloNotified(rec.MatchID) {
		return false
	}
	telemetry.CountEloNotice()
	c.bus.Publish(Event{Kind: EventEloNotice, MatchID: rec.MatchID, Current: rec.State, EloDiff: diff})
	return true
}

// StatusText renders the current tallies of a match for !status replies.
func (c *Coordinator) StatusText(matchID string) (string, error) {
	rec, ok := c.reg.Get(matchID)
	if !ok {
		return "", fmt.Errorf("status %s: %w", matchID, ErrNotFound)
	}
	return fmt.Sprintf(c.messages.StatusTemplate,
		rec.State, len(rec.Voters(VoteRehost)), c.thresholds.Rehost, len(rec.Voters(VoteCancel)), c.thresholds.Cancel), nil
}

func (c *Coordinator) announce(ctx context.Context, rec Record, text, purpose string) bool {
	room := rec.ChatRoomID
	if room == "" {
		room = faceitapi.MatchRoomID(rec.MatchID)
	}
	if err := c.chat.SendChatMessage(ctx, room, text); err != nil {
		telemetry.CountChatSendFailure(purpose)
		telemetry.LoggerWithCorr(ctx).Warn("chat send failed",
			slog.String("component", "votes"),
			slog.String("match_id", rec.MatchID),
			slog.String("room_id", room),
			slog.String("purpose", purpose),
			slog.Any("err", err))
		return false
	}
	return true
}
