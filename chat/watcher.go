package chat

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/faceit-rehost-bot/db"
	"github.com/onnwee/faceit-rehost-bot/faceitapi"
	"github.com/onnwee/faceit-rehost-bot/match"
	"github.com/onnwee/faceit-rehost-bot/telemetry"
)

// Gateway reads and writes FACEIT chat rooms.
type Gateway interface {
	match.ChatSender
	ListRoomMessages(ctx context.Context, roomID string, limit int) ([]faceitapi.ChatMessage, error)
}

// Tracker lists the matches whose rooms are watched.
type Tracker interface {
	Snapshot() []match.Record
}

// Voter is the subset of the coordinator the watcher drives.
type Voter interface {
	SubmitVote(ctx context.Context, matchID, userID string, kind match.VoteKind) match.VoteOutcome
	StatusText(matchID string) (string, error)
	Messages() match.Messages
	Thresholds() match.Thresholds
}

// Cursor marks the last message handled in a room.
type Cursor struct {
	MessageID string
	At        time.Time
}

// CursorStore persists cursors so a restart does not replay old commands.
type CursorStore interface {
	LoadCursor(ctx context.Context, roomID string) (Cursor, bool, error)
	SaveCursor(ctx context.Context, roomID string, c Cursor) error
}

const (
	DefaultWatchInterval = 5 * time.Second
	roomFetchLimit       = 50
	roomConcurrency      = 4
)

// Watcher polls the chat room of every tracked match and dispatches commands.
type Watcher struct {
	Prefix    string
	Interval  time.Duration
	BotUserID string // messages from this user are ignored
	Cursors   CursorStore

	gw      Gateway
	tracker Tracker
	votes   Voter

	mu      sync.Mutex
	cursors map[string]Cursor
	since   time.Time
}

// NewWatcher builds a Watcher. Messages older than the moment it is created
// are never dispatched.
func NewWatcher(gw Gateway, tracker Tracker, votes Voter, prefix string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{
		Prefix:   prefix,
		Interval: interval,
		gw:       gw,
		tracker:  tracker,
		votes:    votes,
		cursors:  make(map[string]Cursor),
		since:    time.Now(),
	}
}

// Start polls until ctx is done. It blocks.
func (w *Watcher) Start(ctx context.Context) {
	log := slog.Default().With(slog.String("component", "chat_watch"))
	log.Info("chat watcher started", slog.Duration("interval", w.Interval), slog.String("prefix", w.prefix()))
	t := time.NewTicker(w.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Poll(ctx)
		}
	}
}

func (w *Watcher) prefix() string {
	if w.Prefix == "" {
		return "!"
	}
	return w.Prefix
}

// Poll runs one pass over the rooms of all tracked matches.
func (w *Watcher) Poll(ctx context.Context) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	records := w.tracker.Snapshot()
	live := make(map[string]struct{}, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(roomConcurrency)
	for _, rec := range records {
		room := roomOf(rec)
		live[room] = struct{}{}
		g.Go(func() error {
			w.pollRoom(gctx, rec, room)
			return nil
		})
	}
	_ = g.Wait()

	w.mu.Lock()
	for room := range w.cursors {
		if _, ok := live[room]; !ok {
			delete(w.cursors, room)
		}
	}
	w.mu.Unlock()
}

func roomOf(rec match.Record) string {
	if rec.ChatRoomID != "" {
		return rec.ChatRoomID
	}
	return faceitapi.MatchRoomID(rec.MatchID)
}

func (w *Watcher) pollRoom(ctx context.Context, rec match.Record, room string) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat_watch"), slog.String("match_id", rec.MatchID), slog.String("room_id", room))
	msgs, err := w.gw.ListRoomMessages(ctx, room, roomFetchLimit)
	if err != nil {
		log.Warn("list room messages failed", slog.Any("err", err))
		return
	}
	cur := w.cursor(ctx, log, room)
	fresh := unseen(msgs, cur)
	if len(fresh) == 0 {
		return
	}
	for _, m := range fresh {
		if m.UserID == "" || m.UserID == w.BotUserID {
			continue
		}
		cmd, ok := ParseCommand(w.prefix(), m.Body)
		if !ok {
			continue
		}
		w.dispatch(ctx, log, rec, room, m.UserID, cmd)
	}
	last := fresh[len(fresh)-1]
	next := Cursor{MessageID: last.ID, At: last.Timestamp}
	w.mu.Lock()
	w.cursors[room] = next
	w.mu.Unlock()
	if w.Cursors != nil {
		if err := w.Cursors.SaveCursor(ctx, room, next); err != nil {
			log.Warn("save chat cursor failed", slog.Any("err", err))
		}
	}
}

func (w *Watcher) cursor(ctx context.Context, log *slog.Logger, room string) Cursor {
	w.mu.Lock()
	cur, ok := w.cursors[room]
	w.mu.Unlock()
	if ok {
		return cur
	}
	cur = Cursor{At: w.since}
	if w.Cursors != nil {
		stored, found, err := w.Cursors.LoadCursor(ctx, room)
		if err != nil {
			log.Warn("load chat cursor failed", slog.Any("err", err))
		} else if found {
			cur = stored
		}
	}
	w.mu.Lock()
	w.cursors[room] = cur
	w.mu.Unlock()
	return cur
}

// unseen returns the messages after cur. msgs is oldest first.
func unseen(msgs []faceitapi.ChatMessage, cur Cursor) []faceitapi.ChatMessage {
	if cur.MessageID != "" {
		for i := range msgs {
			if msgs[i].ID == cur.MessageID {
				return msgs[i+1:]
			}
		}
	}
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.Timestamp.After(cur.At) {
			out = append(out, m)
		}
	}
	return out
}

func (w *Watcher) dispatch(ctx context.Context, log *slog.Logger, rec match.Record, room, userID string, cmd Command) {
	var reply string
	switch cmd.Kind {
	case CmdHelp:
		reply = w.votes.Messages().HelpText
	case CmdStatus:
		text, err := w.votes.StatusText(rec.MatchID)
		if err != nil {
			log.Debug("status for untracked match", slog.Any("err", err))
			return
		}
		reply = text
	default:
		kind, _ := cmd.VoteKind()
		out := w.votes.SubmitVote(ctx, rec.MatchID, userID, kind)
		if !out.Accepted || out.Triggered {
			return
		}
		reply = w.votes.Messages().Progress(kind, out.VoteCount, out.Threshold)
	}
	if err := w.gw.SendChatMessage(ctx, room, reply); err != nil {
		telemetry.CountChatSendFailure("reply")
		log.Warn("chat reply failed", slog.String("command", cmd.Kind.String()), slog.Any("err", err))
	}
}

// KVCursorStore keeps cursors in the kv table.
type KVCursorStore struct {
	DB *sql.DB
}

func cursorKey(room string) string { return "chat_cursor:" + room }

func (s *KVCursorStore) LoadCursor(ctx context.Context, roomID string) (Cursor, bool, error) {
	v, ok, err := db.GetKV(ctx, s.DB, cursorKey(roomID))
	if err != nil || !ok {
		return Cursor{}, false, err
	}
	id, nanos, found := strings.Cut(v, "|")
	if !found {
		return Cursor{}, false, fmt.Errorf("malformed cursor %q", v)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("malformed cursor %q: %w", v, err)
	}
	return Cursor{MessageID: id, At: time.Unix(0, n).UTC()}, true, nil
}

func (s *KVCursorStore) SaveCursor(ctx context.Context, roomID string, c Cursor) error {
	return db.SetKV(ctx, s.DB, cursorKey(roomID), c.MessageID+"|"+strconv.FormatInt(c.At.UnixNano(), 10))
}
