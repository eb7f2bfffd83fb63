package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/faceit-rehost-bot/crypto"
	"github.com/onnwee/faceit-rehost-bot/db"
	"github.com/onnwee/faceit-rehost-bot/testutil"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		t.Fatal(err)
	}
	return k
}

func keyring(t *testing.T, primary string, keys map[string][]byte) *crypto.Keyring {
	t.Helper()
	kr, err := crypto.NewKeyring(primary, keys)
	if err != nil {
		t.Fatal(err)
	}
	return kr
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

func storedKey(t *testing.T, database *sql.DB, provider string) (int, string) {
	t.Helper()
	var version int
	var keyID string
	err := database.QueryRow(
		`SELECT encryption_version, COALESCE(encryption_key_id, '') FROM oauth_tokens WHERE provider=$1`, provider).
		Scan(&version, &keyID)
	if err != nil {
		t.Fatal(err)
	}
	return version, keyID
}

func TestNeedsMigration(t *testing.T) {
	kr := keyring(t, "k2", map[string][]byte{"k2": randomKey(t)})
	tests := []struct {
		row  tokenRow
		want bool
	}{
		{tokenRow{EncryptionVersion: 0}, true},
		{tokenRow{EncryptionVersion: 1}, true},
		{tokenRow{EncryptionVersion: 1, EncryptionKeyID: nullString("k1")}, true},
		{tokenRow{EncryptionVersion: 1, EncryptionKeyID: nullString("k2")}, false},
	}
	for _, tt := range tests {
		if got := tt.row.needsMigration(kr); got != tt.want {
			t.Errorf("needsMigration(%+v) = %v, want %v", tt.row, got, tt.want)
		}
	}
}

func TestMigrateTokensEncryptsPlaintext(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	provider := fmt.Sprintf("test-plain-%d", time.Now().UnixNano())
	t.Cleanup(func() { _, _ = database.Exec(`DELETE FROM oauth_tokens WHERE provider=$1`, provider) })

	if err := db.UpsertOAuthToken(ctx, database, nil, provider, &oauth2.Token{AccessToken: "at", RefreshToken: "rt"}); err != nil {
		t.Fatal(err)
	}
	kr := keyring(t, "k1", map[string][]byte{"k1": randomKey(t)})

	if err := migrateTokens(ctx, database, kr, true, provider); err != nil {
		t.Fatal(err)
	}
	if v, _ := storedKey(t, database, provider); v != 0 {
		t.Fatalf("dry run changed row: version=%d", v)
	}

	if err := migrateTokens(ctx, database, kr, false, provider); err != nil {
		t.Fatal(err)
	}
	if v, id := storedKey(t, database, provider); v != 1 || id != "k1" {
		t.Errorf("after migration version=%d key=%q", v, id)
	}
	tok, err := db.GetOAuthToken(ctx, database, kr, provider)
	if err != nil || tok.AccessToken != "at" || tok.RefreshToken != "rt" {
		t.Errorf("token = %+v, %v", tok, err)
	}
}

func TestMigrateTokensRotatesKey(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	provider := fmt.Sprintf("test-rotate-%d", time.Now().UnixNano())
	t.Cleanup(func() { _, _ = database.Exec(`DELETE FROM oauth_tokens WHERE provider=$1`, provider) })

	oldKey, newKey := randomKey(t), randomKey(t)
	old := keyring(t, "k1", map[string][]byte{"k1": oldKey})
	if err := db.UpsertOAuthToken(ctx, database, old, provider, &oauth2.Token{AccessToken: "at", RefreshToken: "rt"}); err != nil {
		t.Fatal(err)
	}

	rotated := keyring(t, "k2", map[string][]byte{"k1": oldKey, "k2": newKey})
	if err := migrateTokens(ctx, database, rotated, false, provider); err != nil {
		t.Fatal(err)
	}
	if _, id := storedKey(t, database, provider); id != "k2" {
		t.Errorf("key after rotation = %q", id)
	}
	onlyNew := keyring(t, "k2", map[string][]byte{"k2": newKey})
	if tok, err := db.GetOAuthToken(ctx, database, onlyNew, provider); err != nil || tok.AccessToken != "at" {
		t.Errorf("token with new key only = %+v, %v", tok, err)
	}

	// Nothing left to do on a second run.
	if err := migrateTokens(ctx, database, rotated, false, provider); err != nil {
		t.Fatal(err)
	}
}

func TestMigrateTokensMissingKey(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	provider := fmt.Sprintf("test-missing-%d", time.Now().UnixNano())
	t.Cleanup(func() { _, _ = database.Exec(`DELETE FROM oauth_tokens WHERE provider=$1`, provider) })

	old := keyring(t, "k1", map[string][]byte{"k1": randomKey(t)})
	if err := db.UpsertOAuthToken(ctx, database, old, provider, &oauth2.Token{AccessToken: "at"}); err != nil {
		t.Fatal(err)
	}
	// The retired key is not available, so the row cannot be opened.
	unrelated := keyring(t, "k2", map[string][]byte{"k2": randomKey(t)})
	if err := migrateTokens(ctx, database, unrelated, false, provider); err == nil {
		t.Error("expected error when the sealing key is unknown")
	}
}
