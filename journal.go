package main

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/faceit-rehost-bot/db"
	"github.com/onnwee/faceit-rehost-bot/match"
)

const journalQueueSize = 256

type journalRecorder interface {
	Record(ctx context.Context, ev db.MatchEvent) error
}

// journalRow converts a bus event into a journal row.
func journalRow(ev match.Event) db.MatchEvent {
	row := db.MatchEvent{
		MatchID:   ev.MatchID,
		Kind:      string(ev.Kind),
		CreatedAt: ev.At,
	}
	switch ev.Kind {
	case match.EventStateChanged:
		row.PreviousState = ev.Previous.String()
		row.CurrentState = ev.Current.String()
	case match.EventVoteTriggered:
		row.VoteKind = ev.Vote.String()
		row.VoteCount = ev.Count
	case match.EventEloNotice:
		row.EloDiff = ev.EloDiff
	}
	return row
}

// startJournal persists bus events on a worker owned by g. Writes are best
// effort: a full queue or a failed insert is logged and skipped.
func startJournal(ctx context.Context, g *errgroup.Group, bus *match.Bus, j journalRecorder) {
	log := slog.Default().With(slog.String("component", "journal"))
	queue := make(chan match.Event, journalQueueSize)
	unsubscribe := bus.Subscribe(func(ev match.Event) {
		select {
		case queue <- ev:
		default:
			log.Warn("journal queue full; dropping event", slog.String("match_id", ev.MatchID), slog.String("kind", string(ev.Kind)))
		}
	})
	g.Go(func() error {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-queue:
				wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if err := j.Record(wctx, journalRow(ev)); err != nil {
					log.Warn("journal write failed", slog.String("match_id", ev.MatchID), slog.Any("err", err))
				}
				cancel()
			}
		}
	})
}
