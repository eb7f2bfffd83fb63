package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/faceit-rehost-bot/faceitapi"
)

func hubMatch(id, status string, n int) faceitapi.HubMatch {
	return faceitapi.HubMatch{MatchID: id, Status: status, ChatRoomID: "match-" + id, RosterPlayerIDs: players(n)}
}

func newTestPoller(t *testing.T) (*Poller, *Registry, *fakeGateway, *recorder) {
	t.Helper()
	reg := NewRegistry()
	gw := &fakeGateway{}
	bus := NewBus()
	rec := &recorder{}
	bus.Subscribe(rec.add)
	votes := NewCoordinator(reg, gw, bus, Thresholds{}, Messages{})
	return NewPoller("hub-1", time.Hour, reg, gw, votes, bus), reg, gw, rec
}

func TestRunCycleGreetsOnce(t *testing.T) {
	p, reg, gw, _ := newTestPoller(t)
	gw.setMatches(hubMatch("m1", "VOTING", 10))
	for i := 0; i < 3; i++ {
		if err := p.RunCycle(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := gw.countText(DefaultMessages.Greeting); n != 1 {
		t.Errorf("greetings = %d, want 1", n)
	}
	if rec, _ := reg.Get("m1"); !rec.HasGreeted {
		t.Error("HasGreeted not set")
	}
}

func TestRunCycleGreetingRetriedAfterFailure(t *testing.T) {
	p, reg, gw, _ := newTestPoller(t)
	gw.setMatches(hubMatch("m1", "VOTING", 10))
	gw.setSendErr(errors.New("chat down"))
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("send failure aborted cycle: %v", err)
	}
	if rec, _ := reg.Get("m1"); rec.HasGreeted {
		t.Fatal("HasGreeted set after failed send")
	}
	gw.setSendErr(nil)
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := gw.countText(DefaultMessages.Greeting); n != 1 {
		t.Errorf("greetings = %d, want 1", n)
	}
}

func TestRunCycleNoGreetingOutsideVoting(t *testing.T) {
	p, _, gw, _ := newTestPoller(t)
	gw.setMatches(hubMatch("m1", "ONGOING", 10))
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(gw.messages()) != 0 {
		t.Errorf("unexpected messages: %+v", gw.messages())
	}
}

func TestRunCycleTransitionEvent(t *testing.T) {
	p, reg, gw, events := newTestPoller(t)
	var changes [][2]LifecycleState
	p.bus.OnMatchStateChanged(func(id string, prev, cur LifecycleState) {
		if id == "m1" {
			changes = append(changes, [2]LifecycleState{prev, cur})
		}
	})

	gw.setMatches(hubMatch("m1", "VOTING", 10))
	_ = p.RunCycle(context.Background())
	gw.setMatches(hubMatch("m1", "ONGOING", 10))
	_ = p.RunCycle(context.Background())
	_ = p.RunCycle(context.Background())

	want := [][2]LifecycleState{{StateUnknown, StateVoting}, {StateVoting, StateOngoing}}
	if len(changes) != len(want) || changes[0] != want[0] || changes[1] != want[1] {
		t.Errorf("changes = %v, want %v", changes, want)
	}
	if n := len(events.ofKind(EventStateChanged)); n != 2 {
		t.Errorf("state events = %d, want 2", n)
	}
	rec, _ := reg.Get("m1")
	if rec.State != StateOngoing || rec.PreviousState != StateOngoing {
		t.Errorf("record states = %v/%v", rec.PreviousState, rec.State)
	}
}

func TestRunCyclePrunesMissing(t *testing.T) {
	p, reg, gw, events := newTestPoller(t)
	gw.setMatches(hubMatch("m1", "ONGOING", 2), hubMatch("m2", "ONGOING", 2))
	_ = p.RunCycle(context.Background())
	gw.setMatches(hubMatch("m2", "ONGOING", 2))
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Get("m1"); ok {
		t.Error("m1 not pruned")
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
	if got := events.ofKind(EventRemoved); len(got) != 1 || got[0].MatchID != "m1" {
		t.Errorf("removed events = %+v", got)
	}
}

func TestRunCycleListFailureKeepsState(t *testing.T) {
	p, reg, gw, _ := newTestPoller(t)
	gw.setMatches(hubMatch("m1", "VOTING", 2))
	_ = p.RunCycle(context.Background())
	successAt := p.LastSuccess()
	if successAt.IsZero() {
		t.Fatal("LastSuccess not recorded")
	}

	gw.mu.Lock()
	gw.listErr = errors.New("503")
	gw.matches = nil
	gw.mu.Unlock()
	if err := p.RunCycle(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := reg.Get("m1"); !ok {
		t.Error("failed cycle pruned the registry")
	}
	if !p.LastSuccess().Equal(successAt) {
		t.Error("LastSuccess moved on failure")
	}
}

func TestRunCycleSkipsWhenBusy(t *testing.T) {
	p, _, gw, _ := newTestPoller(t)
	var nested error
	gw.onList = func() { nested = p.RunCycle(context.Background()) }
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(nested, ErrCycleBusy) {
		t.Errorf("nested cycle err = %v, want ErrCycleBusy", nested)
	}
	if gw.lists != 1 {
		t.Errorf("lists = %d, want 1", gw.lists)
	}
}

func TestRunCycleEloNotice(t *testing.T) {
	p, reg, gw, _ := newTestPoller(t)
	withRatings := hubMatch("m1", "ONGOING", 10)
	withRatings.Ratings = faceitapi.TeamRatings{Faction1: 2100, Faction2: 2000}
	withRatings.HasRatings = true
	gw.ratings = map[string]faceitapi.TeamRatings{"m2": {Faction1: 1500, Faction2: 1600}, "m3": {Faction1: 1500, Faction2: 1510}}
	gw.setMatches(withRatings, hubMatch("m2", "ONGOING", 10), hubMatch("m3", "ONGOING", 10))

	for i := 0; i < 2; i++ {
		if err := p.RunCycle(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	rooms := map[string]int{}
	for _, m := range gw.messages() {
		rooms[m.room]++
	}
	if rooms["match-m1"] != 1 || rooms["match-m2"] != 1 || rooms["match-m3"] != 0 {
		t.Errorf("notices per room = %v", rooms)
	}
	if rec, _ := reg.Get("m3"); rec.EloNotified {
		t.Error("m3 flagged without notice")
	}
}

func TestRunCycleDefaultsChatRoom(t *testing.T) {
	p, reg, gw, _ := newTestPoller(t)
	m := hubMatch("m1", "VOTING", 2)
	m.ChatRoomID = ""
	gw.setMatches(m)
	_ = p.RunCycle(context.Background())
	rec, _ := reg.Get("m1")
	if rec.ChatRoomID != "match-m1" {
		t.Errorf("chat room = %q", rec.ChatRoomID)
	}
	if msgs := gw.messages(); len(msgs) != 1 || msgs[0].room != "match-m1" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestObserveAppliesSingleMatch(t *testing.T) {
	p, reg, gw, _ := newTestPoller(t)
	p.Observe(context.Background(), hubMatch("m9", "VOTING", 4))
	if rec, ok := reg.Get("m9"); !ok || !rec.HasGreeted {
		t.Fatalf("record = %+v, %v", rec, ok)
	}
	if gw.lists != 0 {
		t.Error("Observe listed the hub")
	}
}

func TestStartAndTrigger(t *testing.T) {
	p, _, gw, _ := newTestPoller(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	waitLists := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			gw.mu.Lock()
			got := gw.lists
			gw.mu.Unlock()
			if got >= n {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %d list calls", n)
	}
	waitLists(1)
	p.Trigger()
	waitLists(2)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// The full flow: greet, six rehost votes, trigger, then the match leaves.
func TestScenarioVoteAndPrune(t *testing.T) {
	p, reg, gw, events := newTestPoller(t)
	ctx := context.Background()
	gw.setMatches(hubMatch("m1", "VOTING", 10))

	if err := p.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if rec, _ := reg.Get("m1"); !rec.HasGreeted {
		t.Fatal("not greeted")
	}

	var out VoteOutcome
	for i, id := range players(6) {
		out = p.votes.SubmitVote(ctx, "m1", id, VoteRehost)
		if wantTrig := i == 5; out.Triggered != wantTrig {
			t.Fatalf("vote %d triggered = %v", i+1, out.Triggered)
		}
	}
	if gw.countText(DefaultMessages.RehostPassed) != 1 {
		t.Error("rehost announcement not sent once")
	}
	if rec, _ := reg.Get("m1"); len(rec.RehostVoters) != 0 {
		t.Error("ledger not cleared")
	}

	gw.setMatches()
	if err := p.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Get("m1"); ok {
		t.Error("m1 still tracked")
	}
	if len(events.ofKind(EventVoteTriggered)) != 1 || len(events.ofKind(EventRemoved)) != 1 {
		t.Errorf("events = %+v", events.events)
	}
}
