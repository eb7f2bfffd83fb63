package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/faceit-rehost-bot/faceitapi"
	"github.com/onnwee/faceit-rehost-bot/oauth"
	"github.com/onnwee/faceit-rehost-bot/telemetry"
)

// HandleOAuthStart redirects to the FACEIT authorize page with a fresh
// state and PKCE challenge.
func (h *Handlers) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.OAuth == nil {
		http.Error(w, "oauth not configured (need FACEIT_CLIENT_ID + FACEIT_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	st, err := oauth.NewState()
	if err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	verifier := faceitapi.NewVerifier()
	if err := h.deps.States.Save(r.Context(), st, verifier, oauth.DefaultStateTTL); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("save oauth state", slog.String("component", "http"), slog.Any("err", err))
		http.Error(w, "could not start authorization", http.StatusServiceUnavailable)
		return
	}
	authURL, err := faceitapi.BuildAuthorizeURL(h.deps.OAuth, st, verifier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleOAuthCallback consumes the state, exchanges the code with its
// verifier and stores the token.
func (h *Handlers) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.deps.OAuth == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http"))
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "authorization denied: "+e, http.StatusBadRequest)
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	verifier, ok, err := h.deps.States.Consume(r.Context(), st)
	if err != nil {
		log.Error("consume oauth state", slog.Any("err", err))
		http.Error(w, "state lookup failed", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	tok, err := faceitapi.ExchangeAuthCode(r.Context(), h.deps.OAuth, code, verifier)
	if err != nil {
		log.Warn("oauth code exchange failed", slog.Any("err", err))
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}
	if h.deps.Tokens != nil {
		if err := h.deps.Tokens.SaveToken(r.Context(), tok); err != nil {
			log.Error("persist oauth token", slog.Any("err", err))
			http.Error(w, "could not store token", http.StatusInternalServerError)
			return
		}
	}
	if h.deps.OnToken != nil {
		h.deps.OnToken(tok)
	}
	log.Info("faceit authorization stored", slog.Time("expiry", tok.Expiry))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"expiry":                tok.Expiry,
		"refresh_token_present": tok.RefreshToken != "",
	})
}
