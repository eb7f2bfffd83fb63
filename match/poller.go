package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/faceit-rehost-bot/faceitapi"
	"github.com/onnwee/faceit-rehost-bot/telemetry"
)

// Gateway is the subset of the FACEIT client the poller depends on.
type Gateway interface {
	ChatSender
	ListHubMatches(ctx context.Context, hubID, status string) ([]faceitapi.HubMatch, error)
	GetTeamRatings(ctx context.Context, matchID string) (faceitapi.TeamRatings, bool, error)
}

// ErrCycleBusy is returned by RunCycle when another cycle holds the registry.
var ErrCycleBusy = errors.New("poll cycle already running")

const (
	DefaultPollInterval = 30 * time.Second
	// DefaultStatusFilter is the hub listing type the poller asks for.
	DefaultStatusFilter = "ongoing"
)

// Poller synchronizes the Registry with the hub's active match list.
type Poller struct {
	HubID        string
	StatusFilter string
	Interval     time.Duration

	reg   *Registry
	gw    Gateway
	votes *Coordinator
	bus   *Bus

	cycle       sync.Mutex
	trigger     chan struct{}
	lastSuccess atomic.Int64
}

// NewPoller builds a poller. votes and bus may be nil; without votes the
// rating check is skipped and the default greeting is used.
func NewPoller(hubID string, interval time.Duration, reg *Registry, gw Gateway, votes *Coordinator, bus *Bus) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		HubID:        hubID,
		StatusFilter: DefaultStatusFilter,
		Interval:     interval,
		reg:          reg,
		gw:           gw,
		votes:        votes,
		bus:          bus,
		trigger:      make(chan struct{}, 1),
	}
}

// Start runs a cycle immediately and then on every tick or Trigger until ctx
// is done. Ticks that arrive while a cycle is running are dropped.
func (p *Poller) Start(ctx context.Context) {
	slog.Info("poller started", slog.String("component", "poller"), slog.String("hub_id", p.HubID), slog.Duration("interval", p.Interval))
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		if err := p.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleBusy) && ctx.Err() == nil {
			slog.Warn("poll cycle failed", slog.String("component", "poller"), slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			slog.Info("poller stopped", slog.String("component", "poller"))
			return
		case <-ticker.C:
		case <-p.trigger:
		}
	}
}

// Trigger requests an extra cycle from Start. Requests coalesce.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// LastSuccess returns the completion time of the last successful cycle.
func (p *Poller) LastSuccess() time.Time {
	ts := p.lastSuccess.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, ts)
}

// RunCycle performs one synchronization. A listing failure aborts the cycle
// before any registry mutation. Individual chat sends failing do not abort it.
func (p *Poller) RunCycle(ctx context.Context) error {
	if !p.cycle.TryLock() {
		telemetry.ObservePollCycle("skipped", 0)
		return ErrCycleBusy
	}
	defer p.cycle.Unlock()

	start := time.Now()
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "match", "poll_cycle", telemetry.HubIDAttr(p.HubID))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "poller"))

	matches, err := p.gw.ListHubMatches(ctx, p.HubID, p.StatusFilter)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.ObservePollCycle("failed", time.Since(start))
		return fmt.Errorf("list hub matches: %w", err)
	}

	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if m.MatchID == "" {
			continue
		}
		seen[m.MatchID] = struct{}{}
		p.observe(ctx, log, m)
	}
	for _, id := range p.reg.PruneMissing(seen) {
		log.Info("match removed", slog.String("match_id", id))
		p.bus.Publish(Event{Kind: EventRemoved, MatchID: id})
	}

	telemetry.SetTrackedMatches(p.reg.Len())
	telemetry.ObservePollCycle("ok", time.Since(start))
	telemetry.SetSpanSuccess(span)
	p.lastSuccess.Store(time.Now().UnixNano())
	log.Debug("poll cycle done", slog.Int("matches", len(seen)), slog.Duration("took", time.Since(start)))
	return nil
}

// Observe applies a single match update outside the periodic cycle, e.g. from
// a webhook. Pruning only happens in full cycles. When a cycle is running
// the update is deferred to a triggered cycle instead.
func (p *Poller) Observe(ctx context.Context, m faceitapi.HubMatch) {
	if m.MatchID == "" {
		return
	}
	if !p.cycle.TryLock() {
		p.Trigger()
		return
	}
	defer p.cycle.Unlock()
	p.observe(ctx, telemetry.LoggerWithCorr(ctx).With(slog.String("component", "poller")), m)
	telemetry.SetTrackedMatches(p.reg.Len())
}

func (p *Poller) observe(ctx context.Context, log *slog.Logger, m faceitapi.HubMatch) {
	room := m.ChatRoomID
	if room == "" {
		room = faceitapi.MatchRoomID(m.MatchID)
	}
	rec := p.reg.Upsert(m.MatchID, NormalizeStatus(m.Status), m.RosterPlayerIDs, room)
	mlog := log.With(slog.String("match_id", rec.MatchID))

	if rec.Changed() {
		telemetry.CountTransition(rec.PreviousState.String(), rec.State.String())
		mlog.Info("match state changed", slog.String("from", rec.PreviousState.String()), slog.String("to", rec.State.String()))
		p.bus.Publish(Event{Kind: EventStateChanged, MatchID: rec.MatchID, Previous: rec.PreviousState, Current: rec.State})
	}
	if rec.State == StateVoting && !rec.HasGreeted {
		p.greet(ctx, mlog, rec)
	}
	p.checkElo(ctx, mlog, rec, m)
}

// greet sends the welcome text and marks the match only after a successful
// send, so a failure is retried on the next cycle.
func (p *Poller) greet(ctx context.Context, log *slog.Logger, rec Record) {
	text := DefaultMessages.Greeting
	if p.votes != nil {
		text = p.votes.messages.Greeting
	}
	if err := p.gw.SendChatMessage(ctx, rec.ChatRoomID, text); err != nil {
		telemetry.CountChatSendFailure("greeting")
		log.Warn("greeting failed", slog.String("room_id", rec.ChatRoomID), slog.Any("err", err))
		return
	}
	if p.reg.MarkGreeted(rec.MatchID) {
		telemetry.CountGreeting()
		p.bus.Publish(Event{Kind: EventGreeted, MatchID: rec.MatchID, Current: rec.State})
	}
}

func (p *Poller) checkElo(ctx context.Context, log *slog.Logger, rec Record, m faceitapi.HubMatch) {
	if p.votes == nil || rec.EloNotified {
		return
	}
	ratings, ok := m.Ratings, m.HasRatings
	if !ok {
		var err error
		ratings, ok, err = p.gw.GetTeamRatings(ctx, rec.MatchID)
		if err != nil {
			log.Debug("team ratings unavailable", slog.Any("err", err))
			return
		}
	}
	if !ok {
		return
	}
	if p.votes.CheckElo(ctx, rec, ratings) {
		log.Info("rating imbalance notice sent", slog.Int("diff", ratings.Diff()))
	}
}
