package chat

import (
	"context"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/faceit-rehost-bot/match"
)

// ircClient is the part of the go-twitch-irc client the announcer uses.
type ircClient interface {
	OnConnect(func())
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

const announceQueueSize = 64

// TwitchAnnouncer says one line in a Twitch channel per match state change
// or vote trigger.
type TwitchAnnouncer struct {
	channel string
	client  ircClient
	queue   chan string
	ready   chan struct{}
}

// NewTwitchAnnouncer returns nil when any credential is missing.
func NewTwitchAnnouncer(channel, username, oauthToken string) *TwitchAnnouncer {
	if channel == "" || username == "" || oauthToken == "" {
		return nil
	}
	return newTwitchAnnouncer(channel, twitch.NewClient(username, oauthToken))
}

func newTwitchAnnouncer(channel string, client ircClient) *TwitchAnnouncer {
	return &TwitchAnnouncer{
		channel: channel,
		client:  client,
		queue:   make(chan string, announceQueueSize),
		ready:   make(chan struct{}),
	}
}

// HandleEvent queues the event summary. Events are dropped when the queue is
// full so the publisher never blocks on IRC.
func (a *TwitchAnnouncer) HandleEvent(ev match.Event) {
	if ev.Kind != match.EventStateChanged && ev.Kind != match.EventVoteTriggered {
		return
	}
	select {
	case a.queue <- ev.Summary():
	default:
		slog.Warn("twitch announce queue full; dropping", slog.String("component", "twitch"), slog.String("match_id", ev.MatchID))
	}
}

// Run connects, joins the channel and drains the queue until ctx is done.
func (a *TwitchAnnouncer) Run(ctx context.Context) {
	log := slog.Default().With(slog.String("component", "twitch"), slog.String("channel", a.channel))
	a.client.OnConnect(func() {
		log.Info("twitch connected")
		select {
		case <-a.ready:
		default:
			close(a.ready)
		}
	})
	a.client.Join(a.channel)

	connErr := make(chan error, 1)
	go func() { connErr <- a.client.Connect() }()

	select {
	case <-ctx.Done():
		_ = a.client.Disconnect()
		return
	case err := <-connErr:
		log.Error("twitch connect error", slog.Any("err", err))
		return
	case <-a.ready:
	}

	for {
		select {
		case <-ctx.Done():
			_ = a.client.Disconnect()
			<-connErr
			return
		case err := <-connErr:
			log.Warn("twitch disconnected", slog.Any("err", err))
			return
		case line := <-a.queue:
			a.client.Say(a.channel, line)
		}
	}
}
