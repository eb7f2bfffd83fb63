package match

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func roster(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "p" + string(rune('a'+i))
	}
	return ids
}

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want LifecycleState
	}{
		{"", StateUnknown},
		{"VOTING", StateVoting},
		{"captain_pick", StateVoting},
		{"CONFIGURING", StateOngoing},
		{"READY", StateOngoing},
		{" ongoing ", StateOngoing},
		{"FINISHED", StateFinished},
		{"CANCELLED", StateCancelled},
		{"ABORTED", StateCancelled},
		{"SUBSTITUTION", StateOther},
	}
	for _, tc := range cases {
		if got := NormalizeStatus(tc.raw); got != tc.want {
			t.Errorf("NormalizeStatus(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseVoteKind(t *testing.T) {
	for in, want := range map[string]VoteKind{"rehost": VoteRehost, "!REHOST": VoteRehost, "Cancel": VoteCancel} {
		got, err := ParseVoteKind(in)
		if err != nil || got != want {
			t.Errorf("ParseVoteKind(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseVoteKind("ff"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestUpsertNewRecord(t *testing.T) {
	r := NewRegistry()
	rec := r.Upsert("m1", StateVoting, []string{"p2", "p1", ""}, "match-m1")
	if rec.PreviousState != StateUnknown || rec.State != StateVoting {
		t.Fatalf("states = %v -> %v", rec.PreviousState, rec.State)
	}
	if rec.HasGreeted || len(rec.RehostVoters) != 0 || len(rec.CancelVoters) != 0 {
		t.Fatalf("new record not clean: %+v", rec)
	}
	if !reflect.DeepEqual(rec.Roster, []string{"p1", "p2"}) {
		t.Errorf("roster = %v", rec.Roster)
	}
	if !rec.Changed() {
		t.Error("first observation should count as a change")
	}
}

func TestUpsertTransition(t *testing.T) {
	r := NewRegistry()
	r.Upsert("m1", StateVoting, roster(2), "match-m1")

	rec := r.Upsert("m1", StateOngoing, roster(2), "other-room")
	if rec.PreviousState != StateVoting || rec.State != StateOngoing {
		t.Fatalf("states = %v -> %v, want VOTING -> ONGOING", rec.PreviousState, rec.State)
	}
	if rec.ChatRoomID != "match-m1" {
		t.Errorf("chat room changed to %q", rec.ChatRoomID)
	}

	rec = r.Upsert("m1", StateOngoing, roster(2), "")
	if rec.Changed() {
		t.Error("same state reported as change")
	}
}

func TestUpsertSetsChatRoomLazily(t *testing.T) {
	r := NewRegistry()
	r.Upsert("m1", StateVoting, nil, "")
	rec := r.Upsert("m1", StateVoting, nil, "match-m1")
	if rec.ChatRoomID != "match-m1" {
		t.Errorf("chat room = %q", rec.ChatRoomID)
	}
}

func TestUpsertDropsVotersOffRoster(t *testing.T) {
	r := NewRegistry()
	r.Upsert("m1", StateVoting, []string{"p1", "p2"}, "room")
	if _, err := r.applyVote("m1", "p1", VoteRehost, 6); err != nil {
		t.Fatal(err)
	}
	if _, err := r.applyVote("m1", "p2", VoteCancel, 6); err != nil {
		t.Fatal(err)
	}
	rec := r.Upsert("m1", StateVoting, []string{"p2", "p3"}, "room")
	if len(rec.RehostVoters) != 0 {
		t.Errorf("rehost voters = %v, want none", rec.RehostVoters)
	}
	if !reflect.DeepEqual(rec.CancelVoters, []string{"p2"}) {
		t.Errorf("cancel voters = %v", rec.CancelVoters)
	}
}

func TestFindByChatRoomAndRemove(t *testing.T) {
	r := NewRegistry()
	r.Upsert("m1", StateVoting, nil, "room-1")
	r.Upsert("m2", StateVoting, nil, "room-2")

	rec, ok := r.FindByChatRoom("room-2")
	if !ok || rec.MatchID != "m2" {
		t.Fatalf("FindByChatRoom = %+v, %v", rec, ok)
	}
	if _, ok := r.FindByChatRoom(""); ok {
		t.Error("empty room matched")
	}
	r.Remove("m2")
	r.Remove("missing")
	if _, ok := r.FindByChatRoom("room-2"); ok {
		t.Error("removed record still found")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestPruneMissing(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"m3", "m1", "m2"} {
		r.Upsert(id, StateOngoing, nil, "")
	}
	removed := r.PruneMissing(map[string]struct{}{"m2": {}})
	if !reflect.DeepEqual(removed, []string{"m1", "m3"}) {
		t.Errorf("removed = %v", removed)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].MatchID != "m2" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestMarkGreetedOnce(t *testing.T) {
	r := NewRegistry()
	if r.MarkGreeted("m1") {
		t.Error("marked missing match")
	}
	r.Upsert("m1", StateVoting, nil, "")
	if !r.MarkGreeted("m1") {
		t.Fatal("first mark failed")
	}
	if r.MarkGreeted("m1") {
		t.Error("second mark succeeded")
	}
	r.Upsert("m1", StateOngoing, nil, "")
	if rec, _ := r.Get("m1"); !rec.HasGreeted {
		t.Error("upsert reset HasGreeted")
	}
}

func TestApplyVoteErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.applyVote("nope", "p1", VoteRehost, 6); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	r.Upsert("m1", StateVoting, []string{"p1"}, "")
	if _, err := r.applyVote("m1", "outsider", VoteRehost, 6); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("err = %v, want ErrNotParticipant", err)
	}
	if rec, _ := r.Get("m1"); len(rec.RehostVoters) != 0 {
		t.Errorf("ledger changed: %v", rec.RehostVoters)
	}
}

func TestApplyVoteConflictResetsLedgers(t *testing.T) {
	r := NewRegistry()
	r.Upsert("m1", StateVoting, roster(4), "")
	ids := roster(4)
	for _, id := range ids[:2] {
		if _, err := r.applyVote("m1", id, VoteRehost, 10); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.applyVote("m1", ids[0], VoteCancel, 10); err != nil {
		t.Fatal(err)
	}

	// Two rehost votes already sit at a threshold of two.
	tl, err := r.applyVote("m1", ids[2], VoteRehost, 2)
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
	if tl.triggered || len(tl.record.RehostVoters) != 0 || len(tl.record.CancelVoters) != 0 {
		t.Errorf("tally = %+v", tl)
	}
	rec, _ := r.Get("m1")
	if len(rec.Voters(VoteRehost)) != 0 || len(rec.Voters(VoteCancel)) != 0 {
		t.Errorf("ledgers not reset: %+v", rec)
	}
}

func TestApplyVoteConcurrentFiresOnce(t *testing.T) {
	r := NewRegistry()
	players := roster(10)
	r.Upsert("m1", StateVoting, players, "")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fired int
	)
	for _, p := range players[:6] {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tl, err := r.applyVote("m1", id, VoteRehost, 6)
			if err != nil {
				t.Error(err)
				return
			}
			if tl.triggered {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	if fired != 1 {
		t.Errorf("triggered %d times, want 1", fired)
	}
	if rec, _ := r.Get("m1"); len(rec.RehostVoters) != 0 || len(rec.CancelVoters) != 0 {
		t.Errorf("ledgers not cleared: %+v", rec)
	}
}
