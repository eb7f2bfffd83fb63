package match

import (
	"context"
	"errors"
	"sync"

	"github.com/onnwee/faceit-rehost-bot/faceitapi"
)

type sentMessage struct {
	room string
	text string
}

// fakeGateway is an in-memory Gateway. Fields are guarded by mu.
type fakeGateway struct {
	mu       sync.Mutex
	matches  []faceitapi.HubMatch
	listErr  error
	sendErr  error
	ratings  map[string]faceitapi.TeamRatings
	sent     []sentMessage
	lists    int
	onList   func()
	failRoom map[string]bool
}

func (f *fakeGateway) ListHubMatches(ctx context.Context, hubID, status string) ([]faceitapi.HubMatch, error) {
	f.mu.Lock()
	f.lists++
	hook := f.onList
	err := f.listErr
	out := append([]faceitapi.HubMatch(nil), f.matches...)
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeGateway) SendChatMessage(ctx context.Context, roomID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.failRoom[roomID] {
		return errors.New("room unavailable")
	}
	f.sent = append(f.sent, sentMessage{room: roomID, text: text})
	return nil
}

func (f *fakeGateway) GetTeamRatings(ctx context.Context, matchID string) (faceitapi.TeamRatings, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.ratings[matchID]
	return r, ok, nil
}

func (f *fakeGateway) setMatches(ms ...faceitapi.HubMatch) {
	f.mu.Lock()
	f.matches = ms
	f.mu.Unlock()
}

func (f *fakeGateway) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeGateway) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeGateway) countText(text string) int {
	n := 0
	for _, m := range f.messages() {
		if m.text == text {
			n++
		}
	}
	return n
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
