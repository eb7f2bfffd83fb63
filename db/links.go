package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// LinkDiscordUser maps a Discord user to a FACEIT player id, replacing any
// previous link.
func LinkDiscordUser(ctx context.Context, dbx *sql.DB, discordUserID, faceitPlayerID string) error {
	discordUserID, faceitPlayerID = strings.TrimSpace(discordUserID), strings.TrimSpace(faceitPlayerID)
	if discordUserID == "" || faceitPlayerID == "" {
		return errors.New("discord user id and faceit player id are required")
	}
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO discord_links(discord_user_id, faceit_player_id, linked_at) VALUES($1,$2,NOW())
		 ON CONFLICT(discord_user_id) DO UPDATE SET faceit_player_id=EXCLUDED.faceit_player_id, linked_at=NOW()`,
		discordUserID, faceitPlayerID)
	return err
}

// LookupFaceitID returns the FACEIT player linked to a Discord user.
func LookupFaceitID(ctx context.Context, dbx *sql.DB, discordUserID string) (string, bool, error) {
	var id string
	err := dbx.QueryRowContext(ctx, `SELECT faceit_player_id FROM discord_links WHERE discord_user_id=$1`, discordUserID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// LinkStore adapts the helpers above for the Discord bot.
type LinkStore struct{ DB *sql.DB }

func (s *LinkStore) Link(ctx context.Context, discordUserID, faceitPlayerID string) error {
	return LinkDiscordUser(ctx, s.DB, discordUserID, faceitPlayerID)
}

func (s *LinkStore) Lookup(ctx context.Context, discordUserID string) (string, bool, error) {
	return LookupFaceitID(ctx, s.DB, discordUserID)
}
