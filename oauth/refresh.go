// Package oauth keeps the stored FACEIT user token alive and holds the
// short-lived PKCE state of in-flight authorization requests.
//
// The refresher wakes on a jittered interval and refreshes the token when its
// expiry falls within the configured window, so chat sends never wait on a
// refresh round trip.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/oauth2"
)

// Store loads and saves the token being kept fresh.
type Store interface {
	LoadToken(ctx context.Context) (*oauth2.Token, error)
	SaveToken(ctx context.Context, tok *oauth2.Token) error
}

// RefreshFunc exchanges a refresh token for a new token.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Refresher refreshes one stored token.
type Refresher struct {
	Store    Store
	Refresh  RefreshFunc
	Provider string
	Interval time.Duration
	Window   time.Duration
	// OnRefresh runs after a refreshed token is persisted.
	OnRefresh func(*oauth2.Token)
}

// ErrNoRefreshToken is returned by Check when the stored row cannot be refreshed.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// Check refreshes the token if it expires within the window. It reports
// whether a refresh happened.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	tok, err := r.Store.LoadToken(ctx)
	if err != nil {
		return false, err
	}
	if tok == nil || tok.RefreshToken == "" {
		return false, ErrNoRefreshToken
	}
	// If still outside window skip quickly
	if !tok.Expiry.IsZero() && time.Until(tok.Expiry) > r.window() {
		return false, nil
	}
	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	newTok, err := r.Refresh(rctx, tok.RefreshToken)
	cancel()
	if err != nil {
		return false, err
	}
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = tok.RefreshToken
	}
	if err := r.Store.SaveToken(ctx, newTok); err != nil {
		return false, err
	}
	if r.OnRefresh != nil {
		r.OnRefresh(newTok)
	}
	return true, nil
}

func (r *Refresher) interval() time.Duration {
	if r.Interval <= 0 {
		return 5 * time.Minute
	}
	return r.Interval
}

func (r *Refresher) window() time.Duration {
	if r.Window <= 0 {
		return 15 * time.Minute
	}
	return r.Window
}

// Start runs Check on a jittered schedule until ctx is done. It blocks.
func (r *Refresher) Start(ctx context.Context) {
	interval := r.interval()
	log := slog.Default().With(slog.String("component", "oauth_refresh"), slog.String("provider", r.Provider))
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initial := time.Duration(rand.Int63n(int64(interval/2) + 1))
	next := initial
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
		refreshed, err := r.Check(ctx)
		switch {
		case errors.Is(err, ErrNoRefreshToken):
			log.Debug("no refreshable token stored")
		case err != nil && ctx.Err() == nil:
			log.Warn("token refresh failed", slog.Any("err", err))
		case refreshed:
			log.Info("token refreshed")
		}
		next = jitter(interval)
	}
}

// jitter returns interval +/-20%, never below half the interval.
func jitter(interval time.Duration) time.Duration {
	span := int64(interval / 5)
	if span <= 0 {
		return interval
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	d := interval + time.Duration(rand.Int63n(span*2)-span)
	if d < interval/2 {
		d = interval / 2
	}
	return d
}
