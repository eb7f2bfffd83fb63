package match

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a vote targets a match that is not tracked.
	ErrNotFound = errors.New("match not found")
	// ErrNotParticipant is returned when the voter is not on either roster.
	ErrNotParticipant = errors.New("not a participant")
	// ErrStateConflict marks a registry invariant violation: a ledger found
	// at or above its threshold before a vote is applied.
	ErrStateConflict = errors.New("match state conflict")
)

type idSet map[string]struct{}

func newIDSet(ids []string) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Record is a point-in-time copy of one tracked match. Mutating a Record
// does not affect the registry.
type Record struct {
	MatchID       string         `json:"match_id"`
	ChatRoomID    string         `json:"chat_room_id"`
	State         LifecycleState `json:"state"`
	PreviousState LifecycleState `json:"previous_state"`
	HasGreeted    bool           `json:"has_greeted"`
	EloNotified   bool           `json:"elo_notified"`
	Roster        []string       `json:"roster"`
	RehostVoters  []string       `json:"rehost_voters"`
	CancelVoters  []string       `json:"cancel_voters"`
	FirstSeen     time.Time      `json:"first_seen"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Changed reports whether the last upsert observed a state transition.
func (r Record) Changed() bool { return r.State != r.PreviousState }

// Voters returns the ledger for kind.
func (r Record) Voters(kind VoteKind) []string {
	if kind == VoteCancel {
		return r.CancelVoters
	}
	return r.RehostVoters
}

type entry struct {
	matchID       string
	chatRoomID    string
	state         LifecycleState
	previousState LifecycleState
	hasGreeted    bool
	eloNotified   bool
	roster        idSet
	rehost        idSet
	cancel        idSet
	firstSeen     time.Time
	updatedAt     time.Time
}

func (e *entry) ledger(kind VoteKind) idSet {
	if kind == VoteCancel {
		return e.cancel
	}
	return e.rehost
}

func (e *entry) snapshot() Record {
	return Record{
		MatchID:       e.matchID,
		ChatRoomID:    e.chatRoomID,
		State:         e.state,
		PreviousState: e.previousState,
		HasGreeted:    e.hasGreeted,
		EloNotified:   e.eloNotified,
		Roster:        e.roster.sorted(),
		RehostVoters:  e.rehost.sorted(),
		CancelVoters:  e.cancel.sorted(),
		FirstSeen:     e.firstSeen,
		UpdatedAt:     e.updatedAt,
	}
}

// Registry is the in-memory table of tracked matches keyed by match id.
// All methods are safe for concurrent use; each one is a single atomic step.
type Registry struct {
	mu      sync.Mutex
	records map[string]*entry
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*entry), now: time.Now}
}

// Upsert records an observation of a match. A new record starts with
// PreviousState UNKNOWN, empty ledgers and HasGreeted false. An existing
// record shifts State into PreviousState, takes the observed state and the
// current roster, and keeps its chat room id once one is known. Voters that
// left the roster are dropped from both ledgers.
func (r *Registry) Upsert(matchID string, observed LifecycleState, roster []string, chatRoomID string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	e, ok := r.records[matchID]
	if !ok {
		e = &entry{
			matchID:       matchID,
			chatRoomID:    chatRoomID,
			state:         observed,
			previousState: StateUnknown,
			roster:        newIDSet(roster),
			rehost:        idSet{},
			cancel:        idSet{},
			firstSeen:     now,
			updatedAt:     now,
		}
		r.records[matchID] = e
		return e.snapshot()
	}
	e.previousState = e.state
	e.state = observed
	e.roster = newIDSet(roster)
	if e.chatRoomID == "" {
		e.chatRoomID = chatRoomID
	}
	for _, ledger := range []idSet{e.rehost, e.cancel} {
		for id := range ledger {
			if !e.roster.has(id) {
				delete(ledger, id)
			}
		}
	}
	e.updatedAt = now
	return e.snapshot()
}

// Remove deletes the record for matchID if present.
func (r *Registry) Remove(matchID string) {
	r.mu.Lock()
	delete(r.records, matchID)
	r.mu.Unlock()
}

// Get returns the record for matchID.
func (r *Registry) Get(matchID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[matchID]
	if !ok {
		return Record{}, false
	}
	return e.snapshot(), true
}

// FindByChatRoom returns the record whose chat room is chatRoomID.
func (r *Registry) FindByChatRoom(chatRoomID string) (Record, bool) {
	if chatRoomID == "" {
		return Record{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.records {
		if e.chatRoomID == chatRoomID {
			return e.snapshot(), true
		}
	}
	return Record{}, false
}

// PruneMissing removes every record whose match id is not in current and
// returns the removed ids in sorted order.
func (r *Registry) PruneMissing(current map[string]struct{}) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id := range r.records {
		if _, ok := current[id]; !ok {
			delete(r.records, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Snapshot returns copies of all records ordered by match id.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, e := range r.records {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

// Len returns the number of tracked matches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// MarkGreeted sets HasGreeted. It returns false if the match is gone or was
// already greeted.
func (r *Registry) MarkGreeted(matchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[matchID]
	if !ok || e.hasGreeted {
		return false
	}
	e.hasGreeted = true
	return true
}

// MarkEloNotified sets EloNotified with the same semantics as MarkGreeted.
func (r *Registry) MarkEloNotified(matchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[matchID]
	if !ok || e.eloNotified {
		return false
	}
	e.eloNotified = true
	return true
}

// tally is the result of one atomic vote application.
type tally struct {
	record    Record
	count     int
	triggered bool
}

// applyVote adds userID to the kind ledger of matchID and, when the ledger
// reaches threshold, clears both ledgers in the same critical section. A
// ledger that already holds threshold votes is reset and reported as
// ErrStateConflict without recording the vote.
func (r *Registry) applyVote(matchID, userID string, kind VoteKind, threshold int) (tally, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[matchID]
	if !ok {
		return tally{}, ErrNotFound
	}
	if !e.roster.has(userID) {
		return tally{record: e.snapshot(), count: len(e.ledger(kind))}, ErrNotParticipant
	}
	ledger := e.ledger(kind)
	if n := len(ledger); n >= threshold {
		e.rehost = idSet{}
		e.cancel = idSet{}
		e.updatedAt = r.now()
		return tally{record: e.snapshot()}, fmt.Errorf("%w: %s ledger of %s holds %d/%d", ErrStateConflict, kind, matchID, n, threshold)
	}
	ledger[userID] = struct{}{}
	t := tally{count: len(ledger)}
	if t.count >= threshold {
		t.triggered = true
		e.rehost = idSet{}
		e.cancel = idSet{}
	}
	e.updatedAt = r.now()
	t.record = e.snapshot()
	return t, nil
}
