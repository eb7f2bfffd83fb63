package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/faceit-rehost-bot/match"
)

func TestEventsWebsocket(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHandlers(ctx, f.deps)
	srv := httptest.NewServer(correlate(http.HandlerFunc(h.HandleEventsWS)))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.hub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.bus.Publish(match.Event{Kind: match.EventStateChanged, MatchID: "m1", Previous: match.StateVoting, Current: match.StateOngoing})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev match.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Kind != match.EventStateChanged || ev.MatchID != "m1" || ev.Current != match.StateOngoing {
		t.Errorf("event = %+v", ev)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for h.hub.count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventHubDropsSlowClient(t *testing.T) {
	hub := newEventHub()
	c := &wsClient{send: make(chan []byte, 1)}
	hub.add(c)
	hub.publish(match.Event{Kind: match.EventGreeted, MatchID: "a"})
	hub.publish(match.Event{Kind: match.EventGreeted, MatchID: "b"})
	if hub.count() != 0 {
		t.Fatal("slow client kept")
	}
	if _, ok := <-c.send; !ok {
		t.Fatal("first message lost")
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel not closed")
	}
	// Removing an already dropped client is a no-op.
	hub.remove(c)
}

func TestEventsWebsocketOrigin(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		origins string
		origin  string
		wantOK  bool
	}{
		{name: "dev allows any", env: "dev", origin: "https://anywhere.example", wantOK: true},
		{name: "listed origin", env: "production", origins: "https://ok.example", origin: "https://ok.example", wantOK: true},
		{name: "unlisted origin", env: "production", origins: "https://ok.example", origin: "https://evil.example"},
		{name: "nothing configured", env: "production", origin: "https://ok.example"},
		{name: "no origin header", env: "production", origins: "https://ok.example", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			t.Setenv("ENV", tt.env)
			t.Setenv("CORS_ALLOWED_ORIGINS", tt.origins)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h := NewHandlers(ctx, f.deps)
			srv := httptest.NewServer(http.HandlerFunc(h.HandleEventsWS))
			defer srv.Close()

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				conn.Close()
				return
			}
			if err == nil {
				conn.Close()
				t.Fatal("upgrade accepted")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("response = %v", resp)
			}
		})
	}
}
