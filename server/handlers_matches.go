package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/onnwee/faceit-rehost-bot/match"
	"github.com/onnwee/faceit-rehost-bot/telemetry"
)

// HandleMatchesList returns the registry snapshot.
func (h *Handlers) HandleMatchesList(w http.ResponseWriter, r *http.Request) {
	recs := h.deps.Tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"matches": recs, "count": len(recs)})
}

// HandleMatchGet returns one tracked match.
func (h *Handlers) HandleMatchGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := h.deps.Tracker.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "match not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleMatchEvents returns the persisted event journal of a match, which
// outlives the registry entry.
func (h *Handlers) HandleMatchEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	id := mux.Vars(r)["id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.deps.Journal.List(r.Context(), id, limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list match events", slog.String("component", "http"), slog.String("match_id", id), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not load events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"match_id": id, "events": events})
}

type voteRequest struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
}

// HandleVoteSubmit records a vote. Rejections are reported in the outcome
// body with 200; only malformed requests get 400.
func (h *Handlers) HandleVoteSubmit(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	kind, err := match.ParseVoteKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := h.deps.Votes.SubmitVote(r.Context(), mux.Vars(r)["id"], req.UserID, kind)
	writeJSON(w, http.StatusOK, out)
}

// HandleAdminPoll requests an immediate poll cycle. Cycles never overlap, so
// a request during a running cycle is coalesced.
func (h *Handlers) HandleAdminPoll(w http.ResponseWriter, r *http.Request) {
	if h.deps.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not running")
		return
	}
	h.deps.Poller.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}
