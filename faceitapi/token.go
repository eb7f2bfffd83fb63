package faceitapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// TokenStore persists the user OAuth token used for Chat API calls.
type TokenStore interface {
	LoadToken(ctx context.Context) (*oauth2.Token, error)
	SaveToken(ctx context.Context, tok *oauth2.Token) error
}

// UserTokenSource yields a user access token for the Chat API. The token comes
// from the store and is refreshed through OAuth when it is about to expire.
// Concurrent callers share a single load/refresh.
type UserTokenSource struct {
	OAuth *oauth2.Config
	Store TokenStore

	mu    sync.RWMutex
	tok   *oauth2.Token
	group singleflight.Group
}

// Token returns a valid (fresh or cached) access token.
func (ts *UserTokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.tok != nil && ts.tok.AccessToken != "" && fresh(ts.tok) {
		tok := ts.tok.AccessToken
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	v, err, _ := ts.group.Do("token", func() (any, error) { return ts.refresh(ctx) })
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call reloads it.
func (ts *UserTokenSource) Invalidate() {
	ts.mu.Lock()
	ts.tok = nil
	ts.mu.Unlock()
}

func (ts *UserTokenSource) refresh(ctx context.Context) (string, error) {
	if ts.Store == nil {
		return "", errors.New("no token store configured")
	}
	tok, err := ts.Store.LoadToken(ctx)
	if err != nil {
		return "", fmt.Errorf("load faceit token: %w", err)
	}
	if tok == nil || (tok.AccessToken == "" && tok.RefreshToken == "") {
		return "", errors.New("no faceit token stored; complete /auth/faceit/start first")
	}
	if tok.AccessToken != "" && fresh(tok) {
		ts.mu.Lock()
		ts.tok = tok
		ts.mu.Unlock()
		return tok.AccessToken, nil
	}
	if ts.OAuth == nil || tok.RefreshToken == "" {
		return "", errors.New("faceit token expired and cannot be refreshed")
	}
	newTok, err := RefreshToken(ctx, ts.OAuth, tok.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh faceit token: %w", err)
	}
	if err := ts.Store.SaveToken(ctx, newTok); err != nil {
		return "", fmt.Errorf("persist faceit token: %w", err)
	}
	ts.mu.Lock()
	ts.tok = newTok
	ts.mu.Unlock()
	return newTok.AccessToken, nil
}

// fresh reports whether tok is usable for at least another minute. A zero
// expiry means the provider did not report one.
func fresh(tok *oauth2.Token) bool {
	return tok.Expiry.IsZero() || time.Until(tok.Expiry) > 60*time.Second
}
