package server

import (
	"fmt"
	"net/http"
	"time"
)

// HandleHealthz is the liveness probe. It only reports that the process serves HTTP.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs the readiness checks in order and reports the first failure.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.deps.DB == nil {
				return nil
			}
			return h.deps.DB.PingContext(r.Context())
		}},
		{"poller", func() error {
			if h.deps.Poller == nil || h.deps.PollStaleAfter <= 0 {
				return nil
			}
			last := h.deps.Poller.LastSuccess()
			if last.IsZero() {
				return fmt.Errorf("no successful poll yet")
			}
			if age := time.Since(last); age > h.deps.PollStaleAfter {
				return fmt.Errorf("last successful poll %s ago", age.Round(time.Second))
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
