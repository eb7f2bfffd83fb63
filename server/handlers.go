package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/onnwee/faceit-rehost-bot/db"
	"github.com/onnwee/faceit-rehost-bot/faceitapi"
	"github.com/onnwee/faceit-rehost-bot/match"
	"github.com/onnwee/faceit-rehost-bot/oauth"
)

// Voter is the coordinator as seen by HTTP handlers.
type Voter interface {
	SubmitVote(ctx context.Context, matchID, userID string, kind match.VoteKind) match.VoteOutcome
	SubmitVoteByRoom(ctx context.Context, roomID, userID string, kind match.VoteKind) match.VoteOutcome
}

// Tracker reads the match registry.
type Tracker interface {
	Snapshot() []match.Record
	Get(matchID string) (match.Record, bool)
}

// PollControl exposes the poller to admin, webhook and readiness handlers.
type PollControl interface {
	Trigger()
	Observe(ctx context.Context, m faceitapi.HubMatch)
	LastSuccess() time.Time
}

// Journal lists persisted match events.
type Journal interface {
	List(ctx context.Context, matchID string, limit int) ([]db.MatchEvent, error)
}

// TokenSaver persists the token obtained by the OAuth callback.
type TokenSaver interface {
	SaveToken(ctx context.Context, tok *oauth2.Token) error
}

// Deps are the collaborators of the HTTP API. Nil optional fields disable
// the endpoints that need them.
type Deps struct {
	DB      *sql.DB
	Tracker Tracker
	Votes   Voter
	Poller  PollControl
	Bus     *match.Bus
	Journal Journal

	OAuth   *oauth2.Config
	States  oauth.StateStore
	Tokens  TokenSaver
	OnToken func(*oauth2.Token)

	// PollStaleAfter marks the service not ready when the last successful
	// poll is older. Zero disables the check.
	PollStaleAfter time.Duration
	CommandPrefix  string
	WebhookSecret  string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps     Deps
	hub      *eventHub
	upgrader *websocket.Upgrader
}

// NewHandlers wires the handlers and subscribes the websocket hub to the bus
// until ctx is done.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if deps.States == nil {
		deps.States = oauth.NewMemoryStateStore()
	}
	h := &Handlers{
		deps:     deps,
		hub:      newEventHub(),
		upgrader: newUpgrader(corsOptions().AllowedOrigins),
	}
	if deps.Bus != nil {
		unsubscribe := deps.Bus.Subscribe(h.hub.publish)
		go func() {
			<-ctx.Done()
			unsubscribe()
			h.hub.closeAll()
		}()
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.String("component", "http"), slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
