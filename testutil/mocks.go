package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockFaceitServer mocks the FACEIT Data, Chat and OAuth endpoints. Handlers
// are keyed by "METHOD /path"; unmatched requests get 404.
type MockFaceitServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []*http.Request
	posted   []PostedMessage
}

// PostedMessage is a chat message captured by MockChatSink.
type PostedMessage struct {
	RoomID string
	Body   string
	Auth   string
}

// NewMockFaceitServer starts a mock server that is closed on test cleanup.
func NewMockFaceitServer(t *testing.T) *MockFaceitServer {
	t.Helper()
	m := &MockFaceitServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, r.Clone(r.Context()))
		h, ok := m.Handlers[r.Method+" "+r.URL.Path]
		m.mu.Unlock()
		if ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers h for method and path.
func (m *MockFaceitServer) Handle(method, path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[method+" "+path] = h
	m.mu.Unlock()
}

// Requests returns how many requests hit path.
func (m *MockFaceitServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.URL.Path == path {
			n++
		}
	}
	return n
}

// MockHubMatches serves a single page of hub matches. Each match is given as
// id, status and roster player ids split evenly across both factions.
func (m *MockFaceitServer) MockHubMatches(hubID string, matches []map[string]any) {
	m.Handle(http.MethodGet, "/hubs/"+hubID+"/matches", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"items": matches, "start": 0, "end": len(matches)})
	})
}

// HubMatchJSON builds one hub match item in the Data API shape.
func HubMatchJSON(id, status string, players []string, rating1, rating2 int) map[string]any {
	half := len(players) / 2
	faction := func(ids []string, rating int) map[string]any {
		roster := make([]map[string]string, 0, len(ids))
		for _, p := range ids {
			roster = append(roster, map[string]string{"player_id": p, "nickname": "nick-" + p})
		}
		f := map[string]any{"roster": roster}
		if rating > 0 {
			f["stats"] = map[string]int{"rating": rating}
		}
		return f
	}
	return map[string]any{
		"match_id": id,
		"status":   status,
		"teams": map[string]any{
			"faction1": faction(players[:half], rating1),
			"faction2": faction(players[half:], rating2),
		},
	}
}

// MockChatSink accepts chat messages for any room and records them.
func (m *MockFaceitServer) MockChatSink(roomIDs ...string) {
	for _, room := range roomIDs {
		room := room
		m.Handle(http.MethodPost, "/rooms/"+room+"/messages", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Body string `json:"body"`
			}
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &body)
			m.mu.Lock()
			m.posted = append(m.posted, PostedMessage{RoomID: room, Body: body.Body, Auth: strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")})
			m.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, map[string]string{"id": "msg"})
		})
	}
}

// Posted returns the chat messages captured so far.
func (m *MockFaceitServer) Posted() []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PostedMessage(nil), m.posted...)
}

// MockOAuthTokenResponse serves the OAuth token endpoint.
func (m *MockFaceitServer) MockOAuthTokenResponse(path, accessToken, refreshToken string, expiresIn int) {
	m.Handle(http.MethodPost, path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"token_type":    "bearer",
		})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
