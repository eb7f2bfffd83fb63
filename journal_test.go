package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/faceit-rehost-bot/db"
	"github.com/onnwee/faceit-rehost-bot/match"
)

type memJournal struct {
	mu   sync.Mutex
	rows []db.MatchEvent
	fail bool
}

func (m *memJournal) Record(_ context.Context, ev db.MatchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("insert failed")
	}
	m.rows = append(m.rows, ev)
	return nil
}

func (m *memJournal) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func TestJournalRow(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		ev   match.Event
		want db.MatchEvent
	}{
		{
			name: "state change",
			ev:   match.Event{Kind: match.EventStateChanged, MatchID: "m1", Previous: match.StateVoting, Current: match.StateOngoing, At: at},
			want: db.MatchEvent{MatchID: "m1", Kind: "match_state_changed", PreviousState: "VOTING", CurrentState: "ONGOING", CreatedAt: at},
		},
		{
			name: "trigger",
			ev:   match.Event{Kind: match.EventVoteTriggered, MatchID: "m1", Vote: match.VoteRehost, Count: 6, At: at},
			want: db.MatchEvent{MatchID: "m1", Kind: "vote_triggered", VoteKind: "rehost", VoteCount: 6, CreatedAt: at},
		},
		{
			name: "elo",
			ev:   match.Event{Kind: match.EventEloNotice, MatchID: "m2", EloDiff: 120},
			want: db.MatchEvent{MatchID: "m2", Kind: "elo_notice", EloDiff: 120},
		},
		{
			name: "removed",
			ev:   match.Event{Kind: match.EventRemoved, MatchID: "m3"},
			want: db.MatchEvent{MatchID: "m3", Kind: "match_removed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := journalRow(tt.ev); got != tt.want {
				t.Errorf("journalRow() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStartJournal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	bus := match.NewBus()
	j := &memJournal{}
	startJournal(gctx, g, bus, j)

	bus.Publish(match.Event{Kind: match.EventGreeted, MatchID: "m1"})
	bus.Publish(match.Event{Kind: match.EventRemoved, MatchID: "m1"})

	deadline := time.Now().Add(2 * time.Second)
	for j.len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("journal rows = %d, want 2", j.len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	// Unsubscribed after shutdown.
	bus.Publish(match.Event{Kind: match.EventGreeted, MatchID: "m2"})
	if j.len() != 2 {
		t.Errorf("rows after shutdown = %d", j.len())
	}
}

func TestStartJournalSurvivesWriteErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	bus := match.NewBus()
	j := &memJournal{fail: true}
	startJournal(gctx, g, bus, j)

	bus.Publish(match.Event{Kind: match.EventGreeted, MatchID: "m1"})
	time.Sleep(20 * time.Millisecond)

	j.mu.Lock()
	j.fail = false
	j.mu.Unlock()
	bus.Publish(match.Event{Kind: match.EventGreeted, MatchID: "m2"})

	deadline := time.Now().Add(2 * time.Second)
	for j.len() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("worker stopped after a failed write")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	_ = g.Wait()
}
