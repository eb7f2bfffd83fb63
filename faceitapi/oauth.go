package faceitapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultAuthURL  = "https://accounts.faceit.com"
	DefaultTokenURL = "https://api.faceit.com/auth/v1/oauth/token"
)

// OAuthSettings configures the FACEIT authorization-code flow.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string
	AuthURL      string
	TokenURL     string
}

// NewOAuthConfig builds the oauth2 config for FACEIT. Scopes may be comma or
// space separated. FACEIT expects client credentials in the Authorization header.
func NewOAuthConfig(s OAuthSettings) *oauth2.Config {
	authURL, tokenURL := s.AuthURL, s.TokenURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURL:  s.RedirectURI,
		Scopes:       strings.Fields(strings.ReplaceAll(s.Scopes, ",", " ")),
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// NewVerifier returns a fresh PKCE code verifier.
func NewVerifier() string { return oauth2.GenerateVerifier() }

// BuildAuthorizeURL constructs the user authorization URL carrying state and
// the S256 challenge derived from verifier.
func BuildAuthorizeURL(cfg *oauth2.Config, state, verifier string) (string, error) {
	if cfg == nil || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	if state == "" || verifier == "" {
		return "", errors.New("missing state or verifier")
	}
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("redirect_popup", "true"),
	), nil
}

// ExchangeAuthCode exchanges an authorization code plus its PKCE verifier for tokens.
func ExchangeAuthCode(ctx context.Context, cfg *oauth2.Config, code, verifier string) (*oauth2.Token, error) {
	if cfg == nil || code == "" || verifier == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	return cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
}

// RefreshToken exchanges a refresh token for a new token. The returned token
// keeps the old refresh token when the server does not rotate it.
func RefreshToken(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if cfg == nil || refreshToken == "" {
		return nil, errors.New("missing config or refreshToken")
	}
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
