// Package discord exposes the vote commands in a Discord channel and posts
// match events there.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/faceit-rehost-bot/match"
)

// Session is the part of *discordgo.Session the bot needs.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// LinkStore maps Discord users to FACEIT player ids.
type LinkStore interface {
	Link(ctx context.Context, discordUserID, faceitPlayerID string) error
	Lookup(ctx context.Context, discordUserID string) (string, bool, error)
}

// Voter is the coordinator as seen from Discord. Vote targets are resolved
// by chat room first, then by match id.
type Voter interface {
	SubmitVoteByRoom(ctx context.Context, roomID, userID string, kind match.VoteKind) match.VoteOutcome
}

// Tracker lists tracked matches for !matches.
type Tracker interface {
	Snapshot() []match.Record
}

const helpText = "Commands: `!link <faceitPlayerId>`, `!rehost <matchId|roomId>`, `!cancel <matchId|roomId>`, `!matches`, `!help`"

// Bot handles Discord commands.
type Bot struct {
	Prefix    string
	ChannelID string // event feed target; empty disables posting events

	session Session
	links   LinkStore
	votes   Voter
	tracker Tracker
	events  chan match.Event
}

// New wires a Bot around an open or openable session.
func New(session Session, links LinkStore, votes Voter, tracker Tracker, prefix, channelID string) *Bot {
	if prefix == "" {
		prefix = "!"
	}
	return &Bot{
		Prefix:    prefix,
		ChannelID: channelID,
		session:   session,
		links:     links,
		votes:     votes,
		tracker:   tracker,
		events:    make(chan match.Event, 64),
	}
}

// Open creates a discordgo session for token, registers the handler and
// connects. The caller closes the returned session.
func Open(token string, build func(*discordgo.Session) *Bot) (*discordgo.Session, *Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, nil, fmt.Errorf("discord session: %w", err)
	}
	bot := build(dg)
	dg.AddHandler(bot.MessageCreateHandler)
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	if err := dg.Open(); err != nil {
		return nil, nil, fmt.Errorf("discord open: %w", err)
	}
	return dg, bot, nil
}

// MessageCreateHandler is registered with discordgo.
func (b *Bot) MessageCreateHandler(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s != nil && s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reply := b.Handle(ctx, m.Author.ID, m.Content)
	if reply == "" {
		return
	}
	if _, err := b.session.ChannelMessageSend(m.ChannelID, reply); err != nil {
		slog.Warn("discord reply failed", slog.String("component", "discord"), slog.Any("err", err))
	}
}

// Handle runs one command and returns the reply, or "" when content is not
// a command.
func (b *Bot) Handle(ctx context.Context, authorID, content string) string {
	fields := strings.Fields(content)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], b.Prefix) {
		return ""
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], b.Prefix))
	args := fields[1:]
	log := slog.Default().With(slog.String("component", "discord"), slog.String("command", name), slog.String("discord_user", authorID))

	switch name {
	case "help":
		return helpText
	case "link":
		if len(args) != 1 {
			return "Usage: `!link <faceitPlayerId>`"
		}
		if err := b.links.Link(ctx, authorID, args[0]); err != nil {
			log.Error("link failed", slog.Any("err", err))
			return "Could not save your link, try again later."
		}
		return fmt.Sprintf("Linked to FACEIT player `%s`.", args[0])
	case "matches":
		return b.matchList()
	case "rehost", "cancel":
		kind, _ := match.ParseVoteKind(name)
		if len(args) != 1 {
			return fmt.Sprintf("Usage: `!%s <matchId>`", name)
		}
		playerID, ok, err := b.links.Lookup(ctx, authorID)
		if err != nil {
			log.Error("link lookup failed", slog.Any("err", err))
			return "Could not look up your FACEIT link, try again later."
		}
		if !ok {
			return "Link your FACEIT account first with `!link <faceitPlayerId>`."
		}
		out := b.votes.SubmitVoteByRoom(ctx, args[0], playerID, kind)
		return outcomeText(out)
	}
	return ""
}

func outcomeText(out match.VoteOutcome) string {
	switch {
	case !out.Accepted:
		return fmt.Sprintf("Vote rejected: %s.", out.Reason)
	case out.Triggered:
		return fmt.Sprintf("%s vote passed for match `%s` (%d/%d).", out.Kind, out.MatchID, out.VoteCount, out.Threshold)
	default:
		return fmt.Sprintf("%s vote recorded for match `%s` (%d/%d).", out.Kind, out.MatchID, out.VoteCount, out.Threshold)
	}
}

func (b *Bot) matchList() string {
	recs := b.tracker.Snapshot()
	if len(recs) == 0 {
		return "No tracked matches."
	}
	var sb strings.Builder
	sb.WriteString("Tracked matches:")
	for _, r := range recs {
		fmt.Fprintf(&sb, "\n`%s` %s (rehost %d, cancel %d)", r.MatchID, r.State, len(r.Voters(match.VoteRehost)), len(r.Voters(match.VoteCancel)))
	}
	return sb.String()
}

// HandleEvent queues state changes and vote triggers for the feed channel.
// It never blocks the publisher.
func (b *Bot) HandleEvent(ev match.Event) {
	if b.ChannelID == "" {
		return
	}
	if ev.Kind != match.EventStateChanged && ev.Kind != match.EventVoteTriggered {
		return
	}
	select {
	case b.events <- ev:
	default:
		slog.Warn("discord event queue full; dropping", slog.String("component", "discord"), slog.String("match_id", ev.MatchID))
	}
}

// Run posts queued events until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			if _, err := b.session.ChannelMessageSend(b.ChannelID, ev.Summary()); err != nil {
				slog.Warn("discord event post failed", slog.String("component", "discord"), slog.String("match_id", ev.MatchID), slog.Any("err", err))
			}
		}
	}
}
