// Package db provides database connection helpers, schema migration, and small data access helpers.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	"golang.org/x/oauth2"

	"github.com/onnwee/faceit-rehost-bot/crypto"
)

// ProviderFaceit is the oauth_tokens row holding the FACEIT user token.
const ProviderFaceit = "faceit"

// Connect opens a Postgres connection and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DB dsn")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(10)
	database.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return database, nil
}

// UpsertOAuthToken stores or replaces the token for provider. With a non-nil
// keyring both token strings are sealed and the row is marked
// encryption_version=1 with the sealing key id; otherwise they are stored
// in plaintext with encryption_version=0.
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, keys *crypto.Keyring, provider string, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("nil token")
	}
	access, refresh := tok.AccessToken, tok.RefreshToken
	encVersion := 0
	var encKeyID sql.NullString
	if keys != nil {
		var err error
		var id string
		if access, id, err = keys.Seal(tok.AccessToken, provider); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, _, err = keys.Seal(tok.RefreshToken, provider); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		encVersion = 1
		encKeyID = sql.NullString{String: id, Valid: true}
	}
	var expiry sql.NullTime
	if !tok.Expiry.IsZero() {
		expiry = sql.NullTime{Time: tok.Expiry, Valid: true}
	}
	scope, _ := tok.Extra("scope").(string)

	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, token_type, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    token_type=EXCLUDED.token_type,
		    expires_at=EXCLUDED.expires_at,
		    scope=COALESCE(NULLIF(EXCLUDED.scope, ''), oauth_tokens.scope),
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	_, err := dbx.ExecContext(ctx, q, provider, access, refresh, tok.TokenType, expiry, scope, encVersion, encKeyID)
	return err
}

// GetOAuthToken returns the stored token for provider, or nil when absent.
// Encrypted rows are opened with the key id recorded on the row; plaintext
// rows are read as is.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, keys *crypto.Keyring, provider string) (*oauth2.Token, error) {
	var (
		access, refresh, tokenType sql.NullString
		expiry                     sql.NullTime
		encVersion                 int
		encKeyID                   sql.NullString
	)
	err := dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expires_at, COALESCE(encryption_version, 0), encryption_key_id
		 FROM oauth_tokens WHERE provider = $1`, provider).
		Scan(&access, &refresh, &tokenType, &expiry, &encVersion, &encKeyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: access.String, RefreshToken: refresh.String, TokenType: tokenType.String}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	if encVersion == 1 {
		if keys == nil {
			return nil, errors.New("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if tok.AccessToken, err = keys.Open(access.String, encKeyID.String, provider); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if tok.RefreshToken, err = keys.Open(refresh.String, encKeyID.String, provider); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return tok, nil
}

// TokenStore persists one provider's token row. It satisfies the FACEIT
// client's token store and the refresher's store.
type TokenStore struct {
	DB       *sql.DB
	Keys     *crypto.Keyring
	Provider string
}

func (s *TokenStore) provider() string {
	if s.Provider == "" {
		return ProviderFaceit
	}
	return s.Provider
}

func (s *TokenStore) LoadToken(ctx context.Context) (*oauth2.Token, error) {
	return GetOAuthToken(ctx, s.DB, s.Keys, s.provider())
}

func (s *TokenStore) SaveToken(ctx context.Context, tok *oauth2.Token) error {
	return UpsertOAuthToken(ctx, s.DB, s.Keys, s.provider(), tok)
}

// GetKV returns the value for key and whether it exists.
func GetKV(ctx context.Context, dbx *sql.DB, key string) (string, bool, error) {
	var v sql.NullString
	err := dbx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, true, nil
}

// SetKV upserts key.
func SetKV(ctx context.Context, dbx *sql.DB, key, value string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES($1,$2,NOW())
		 ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}
