package db

import (
	"context"
	"database/sql"
	"time"
)

// MatchEvent is one row of the match event journal.
type MatchEvent struct {
	ID            int64     `json:"id"`
	MatchID       string    `json:"match_id"`
	Kind          string    `json:"kind"`
	PreviousState string    `json:"previous_state,omitempty"`
	CurrentState  string    `json:"current_state,omitempty"`
	VoteKind      string    `json:"vote_kind,omitempty"`
	VoteCount     int       `json:"vote_count,omitempty"`
	EloDiff       int       `json:"elo_diff,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RecordMatchEvent appends ev to the journal. A zero CreatedAt uses NOW().
func RecordMatchEvent(ctx context.Context, dbx *sql.DB, ev MatchEvent) error {
	var at sql.NullTime
	if !ev.CreatedAt.IsZero() {
		at = sql.NullTime{Time: ev.CreatedAt, Valid: true}
	}
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO match_events(match_id, kind, previous_state, current_state, vote_kind, vote_count, elo_diff, created_at)
		 VALUES($1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),$6,$7,COALESCE($8, NOW()))`,
		ev.MatchID, ev.Kind, ev.PreviousState, ev.CurrentState, ev.VoteKind, ev.VoteCount, ev.EloDiff, at)
	return err
}

// ListMatchEvents returns up to limit journal rows for matchID, oldest first.
func ListMatchEvents(ctx context.Context, dbx *sql.DB, matchID string, limit int) ([]MatchEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, match_id, kind, COALESCE(previous_state,''), COALESCE(current_state,''), COALESCE(vote_kind,''), vote_count, elo_diff, created_at
		 FROM match_events WHERE match_id=$1 ORDER BY created_at, id LIMIT $2`, matchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []MatchEvent{}
	for rows.Next() {
		var ev MatchEvent
		if err := rows.Scan(&ev.ID, &ev.MatchID, &ev.Kind, &ev.PreviousState, &ev.CurrentState, &ev.VoteKind, &ev.VoteCount, &ev.EloDiff, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Journal binds the journal functions to one database.
type Journal struct {
	DB *sql.DB
}

func (j *Journal) Record(ctx context.Context, ev MatchEvent) error {
	return RecordMatchEvent(ctx, j.DB, ev)
}

func (j *Journal) List(ctx context.Context, matchID string, limit int) ([]MatchEvent, error) {
	return ListMatchEvents(ctx, j.DB, matchID, limit)
}
