package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/faceit-rehost-bot/chat"
	"github.com/onnwee/faceit-rehost-bot/faceitapi"
	"github.com/onnwee/faceit-rehost-bot/telemetry"
)

type webhookEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type chatMessagePayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Body   string `json:"body"`
}

// HandleWebhook accepts FACEIT webhook deliveries. chat_message events are
// routed to the vote coordinator by room. match_* events carrying a match id
// and status are applied directly; any other match_* event triggers a poll.
// The X-Webhook-Secret header must match the configured secret; without a
// configured secret every delivery is rejected.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	s := h.deps.WebhookSecret
	got := r.Header.Get("X-Webhook-Secret")
	if s == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s)) != 1 {
		telemetry.LoggerWithCorr(r.Context()).Warn("webhook auth failed", slog.String("component", "webhook"), slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "webhook"))
	var env webhookEnvelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	log = log.With(slog.String("event", env.Event))

	switch {
	case env.Event == "chat_message":
		var p chatMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" || p.UserID == "" {
			writeError(w, http.StatusBadRequest, "chat_message needs room_id and user_id")
			return
		}
		cmd, ok := chat.ParseCommand(h.deps.CommandPrefix, p.Body)
		if !ok {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}
		kind, isVote := cmd.VoteKind()
		if !isVote {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}
		out := h.deps.Votes.SubmitVoteByRoom(r.Context(), p.RoomID, p.UserID, kind)
		log.Debug("webhook vote", slog.String("room_id", p.RoomID), slog.Bool("accepted", out.Accepted), slog.String("reason", out.Reason))
		writeJSON(w, http.StatusOK, out)
	case strings.HasPrefix(env.Event, "match_"):
		if h.deps.Poller == nil {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}
		if m, ok := h.webhookMatch(env); ok {
			h.deps.Poller.Observe(r.Context(), m)
			log.Debug("webhook match applied", slog.String("match_id", m.MatchID), slog.String("status", m.Status))
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "observed"})
			return
		}
		h.deps.Poller.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "poll_triggered"})
	default:
		log.Debug("unhandled webhook event")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
	}
}

// webhookMatch extracts a match update that can be applied without a hub
// listing. The status falls back to the event name (match_status_ready ->
// READY). A delivery without a roster reuses the tracked roster; an unknown
// match without one is left to the next full cycle.
func (h *Handlers) webhookMatch(env webhookEnvelope) (faceitapi.HubMatch, bool) {
	m, err := faceitapi.DecodeMatchPayload(env.Payload)
	if err != nil || m.MatchID == "" {
		return faceitapi.HubMatch{}, false
	}
	if m.Status == "" {
		if s, ok := strings.CutPrefix(env.Event, "match_status_"); ok {
			m.Status = strings.ToUpper(s)
		}
	}
	if m.Status == "" {
		return faceitapi.HubMatch{}, false
	}
	if len(m.RosterPlayerIDs) == 0 {
		rec, ok := h.deps.Tracker.Get(m.MatchID)
		if !ok {
			return faceitapi.HubMatch{}, false
		}
		m.RosterPlayerIDs = rec.Roster
		m.ChatRoomID = rec.ChatRoomID
	}
	return m, true
}
