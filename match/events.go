package match

import (
	"fmt"
	"sync"
	"time"
)

// EventKind names what happened to a match.
type EventKind string

const (
	EventStateChanged  EventKind = "match_state_changed"
	EventRemoved       EventKind = "match_removed"
	EventGreeted       EventKind = "match_greeted"
	EventVoteTriggered EventKind = "vote_triggered"
	EventEloNotice     EventKind = "elo_notice"
)

// Event is published by the Poller and the Coordinator.
type Event struct {
	Kind     EventKind      `json:"kind"`
	MatchID  string         `json:"match_id"`
	Previous LifecycleState `json:"previous"`
	Current  LifecycleState `json:"current,omitempty"`
	Vote     VoteKind       `json:"vote,omitempty"`
	Count    int            `json:"count,omitempty"`
	EloDiff  int            `json:"elo_diff,omitempty"`
	At       time.Time      `json:"at"`
}

// Summary renders the event as one line for chat surfaces.
func (e Event) Summary() string {
	switch e.Kind {
	case EventStateChanged:
		return fmt.Sprintf("Match %s: %s -> %s", e.MatchID, e.Previous, e.Current)
	case EventRemoved:
		return fmt.Sprintf("Match %s left the hub", e.MatchID)
	case EventGreeted:
		return fmt.Sprintf("Match %s: voting room greeted", e.MatchID)
	case EventVoteTriggered:
		return fmt.Sprintf("Match %s: %s vote passed with %d votes", e.MatchID, e.Vote, e.Count)
	case EventEloNotice:
		return fmt.Sprintf("Match %s: team rating difference %d", e.MatchID, e.EloDiff)
	default:
		return fmt.Sprintf("Match %s: %s", e.MatchID, e.Kind)
	}
}

// Bus fans events out to subscribers. Handlers run synchronously on the
// publishing goroutine and outside any registry lock; handlers that do I/O
// should hand off to their own goroutine.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

// NewBus returns an empty bus.
func NewBus() *Bus { return &Bus{subs: make(map[int]func(Event))} }

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// OnMatchStateChanged registers a callback for state transitions only.
func (b *Bus) OnMatchStateChanged(fn func(matchID string, previous, current LifecycleState)) (unsubscribe func()) {
	return b.Subscribe(func(ev Event) {
		if ev.Kind == EventStateChanged {
			fn(ev.MatchID, ev.Previous, ev.Current)
		}
	})
}

// Publish delivers ev to every subscriber. A nil Bus drops the event.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
