package server

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"golang.org/x/oauth2"

	"github.com/onnwee/faceit-rehost-bot/faceitapi"
	"github.com/onnwee/faceit-rehost-bot/oauth"
	"github.com/onnwee/faceit-rehost-bot/testutil"
)

type savedTokens struct {
	tok *oauth2.Token
}

func (s *savedTokens) SaveToken(_ context.Context, tok *oauth2.Token) error {
	s.tok = tok
	return nil
}

func TestOAuthNotConfigured(t *testing.T) {
	h := newFixture(t).router(t)
	for _, path := range []string{"/auth/faceit/start", "/auth/faceit/callback?code=c&state=s"} {
		if rr := serve(h, http.MethodGet, path, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%s = %d", path, rr.Code)
		}
	}
}

func TestOAuthFlow(t *testing.T) {
	mock := testutil.NewMockFaceitServer(t)
	mock.MockOAuthTokenResponse("/token", "user-access", "user-refresh", 3600)

	f := newFixture(t)
	states := oauth.NewMemoryStateStore()
	saved := &savedTokens{}
	var hooked *oauth2.Token
	f.deps.OAuth = faceitapi.NewOAuthConfig(faceitapi.OAuthSettings{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost/auth/faceit/callback",
		Scopes:       "openid chat.messages.write",
		AuthURL:      mock.URL + "/authorize",
		TokenURL:     mock.URL + "/token",
	})
	f.deps.States = states
	f.deps.Tokens = saved
	f.deps.OnToken = func(tok *oauth2.Token) { hooked = tok }
	h := f.router(t)

	rr := serve(h, http.MethodGet, "/auth/faceit/start", "")
	if rr.Code != http.StatusFound {
		t.Fatalf("start = %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	q := loc.Query()
	st := q.Get("state")
	if st == "" || q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" || q.Get("client_id") != "cid" {
		t.Fatalf("authorize url = %s", loc)
	}

	rr = serve(h, http.MethodGet, "/auth/faceit/callback?code=the-code&state="+st, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("callback = %d body=%s", rr.Code, rr.Body.String())
	}
	if saved.tok == nil || saved.tok.AccessToken != "user-access" || saved.tok.RefreshToken != "user-refresh" {
		t.Errorf("saved token = %+v", saved.tok)
	}
	if hooked == nil {
		t.Error("OnToken not called")
	}
	if mock.Requests("/token") != 1 {
		t.Errorf("token requests = %d", mock.Requests("/token"))
	}

	// State is single use.
	if rr := serve(h, http.MethodGet, "/auth/faceit/callback?code=the-code&state="+st, ""); rr.Code != http.StatusBadRequest {
		t.Errorf("replayed state = %d", rr.Code)
	}
}

func TestOAuthCallbackErrors(t *testing.T) {
	mock := testutil.NewMockFaceitServer(t)
	f := newFixture(t)
	f.deps.OAuth = faceitapi.NewOAuthConfig(faceitapi.OAuthSettings{
		ClientID: "cid", RedirectURI: "http://localhost/cb", TokenURL: mock.URL + "/token",
	})
	states := oauth.NewMemoryStateStore()
	f.deps.States = states
	h := f.router(t)

	tests := []struct {
		name, query string
		want        int
	}{
		{"denied", "?error=access_denied", http.StatusBadRequest},
		{"missing code", "?state=x", http.StatusBadRequest},
		{"unknown state", "?code=c&state=unknown", http.StatusBadRequest},
		{"exchange fails", "?code=c&state=known", http.StatusBadGateway},
	}
	if err := states.Save(context.Background(), "known", "verifier", 0); err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := serve(h, http.MethodGet, "/auth/faceit/callback"+tt.query, ""); rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}
