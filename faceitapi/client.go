// Package faceitapi is the gateway to the external FACEIT platform: the Data API
// (hub match listings, match details) authenticated with a server API key, the
// Chat API authenticated with a user OAuth token, and the OAuth2/PKCE helpers
// used to obtain that token.
package faceitapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/faceit-rehost-bot/telemetry"
)

const (
	DefaultAPIBase  = "https://open.faceit.com/data/v4"
	DefaultChatBase = "https://open.faceit.com/chat/v1"

	hubPageSize = 100
	maxHubPages = 10
	maxBodySize = 1 << 20
)

// ErrListingTruncated is returned when a hub listing does not end within
// the page limit. A partial listing would make the poller drop live matches.
var ErrListingTruncated = errors.New("hub listing truncated")

// BearerSource supplies the access token for Chat API calls.
type BearerSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a BearerSource that always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("no chat token configured")
	}
	return string(s), nil
}

// Client talks to the FACEIT Data and Chat APIs. The zero value is not usable;
// at minimum APIKey must be set for Data API calls and ChatAuth for chat calls.
type Client struct {
	APIKey      string
	ChatAuth    BearerSource
	BaseURL     string
	ChatBaseURL string
	HTTPClient  *http.Client

	// Timeout bounds a single attempt. MaxRetries bounds the extra attempts
	// made after a retryable failure.
	Timeout        time.Duration
	MaxRetries     uint
	InitialBackoff time.Duration
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) apiBase() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultAPIBase
}

func (c *Client) chatBase() string {
	if c.ChatBaseURL != "" {
		return c.ChatBaseURL
	}
	return DefaultChatBase
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}

// ListHubMatches returns every match of hubID with the given listing type
// ("ongoing", "upcoming", "past" or "all"). It pages through the listing and
// fails as a whole if any page fails or the last allowed page is still full.
func (c *Client) ListHubMatches(ctx context.Context, hubID, status string) ([]HubMatch, error) {
	if hubID == "" {
		return nil, errors.New("hubID empty")
	}
	if status == "" {
		status = "ongoing"
	}
	var out []HubMatch
	for page := 0; page < maxHubPages; page++ {
		q := url.Values{}
		q.Set("type", status)
		q.Set("offset", strconv.Itoa(page*hubPageSize))
		q.Set("limit", strconv.Itoa(hubPageSize))
		var body apiMatchList
		err := c.do(ctx, call{
			op:         "list_hub_matches",
			method:     http.MethodGet,
			url:        c.apiBase() + "/hubs/" + url.PathEscape(hubID) + "/matches?" + q.Encode(),
			idempotent: true,
			out:        &body,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range body.Items {
			if m.MatchID == "" {
				continue
			}
			out = append(out, m.toHubMatch())
		}
		if len(body.Items) < hubPageSize {
			return out, nil
		}
	}
	return nil, fmt.Errorf("list hub matches: %w (more than %d matches)", ErrListingTruncated, maxHubPages*hubPageSize)
}

// GetMatch fetches the details of a single match.
func (c *Client) GetMatch(ctx context.Context, matchID string) (*HubMatch, error) {
	if matchID == "" {
		return nil, errors.New("matchID empty")
	}
	var body apiMatch
	err := c.do(ctx, call{
		op:         "get_match",
		method:     http.MethodGet,
		url:        c.apiBase() + "/matches/" + url.PathEscape(matchID),
		idempotent: true,
		out:        &body,
	})
	if err != nil {
		return nil, err
	}
	m := body.toHubMatch()
	return &m, nil
}

// GetTeamRatings returns both faction ratings for a match. ok is false when the
// match does not expose a rating for each side.
func (c *Client) GetTeamRatings(ctx context.Context, matchID string) (ratings TeamRatings, ok bool, err error) {
	m, err := c.GetMatch(ctx, matchID)
	if err != nil {
		return TeamRatings{}, false, err
	}
	return m.Ratings, m.HasRatings, nil
}

// SendChatMessage posts text into a chat room. Writes are only retried when the
// API answered 429, since any other failure may already have delivered the message.
func (c *Client) SendChatMessage(ctx context.Context, roomID, text string) error {
	if roomID == "" {
		return errors.New("roomID empty")
	}
	payload, err := json.Marshal(map[string]string{"body": text})
	if err != nil {
		return err
	}
	return c.do(ctx, call{
		op:     "send_chat_message",
		method: http.MethodPost,
		url:    c.chatBase() + "/rooms/" + url.PathEscape(roomID) + "/messages",
		body:   payload,
		chat:   true,
	})
}

// ListRoomMessages returns up to limit of the most recent messages of a room,
// oldest first.
func (c *Client) ListRoomMessages(ctx context.Context, roomID string, limit int) ([]ChatMessage, error) {
	if roomID == "" {
		return nil, errors.New("roomID empty")
	}
	if limit <= 0 {
		limit = 50
	}
	var body apiChatMessages
	err := c.do(ctx, call{
		op:         "list_room_messages",
		method:     http.MethodGet,
		url:        fmt.Sprintf("%s/rooms/%s/messages?limit=%d", c.chatBase(), url.PathEscape(roomID), limit),
		idempotent: true,
		chat:       true,
		out:        &body,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ChatMessage, 0, len(body.Messages))
	for _, m := range body.Messages {
		out = append(out, ChatMessage{ID: m.ID, RoomID: roomID, UserID: m.From, Body: m.Body, Timestamp: m.Timestamp})
	}
	// The API returns newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type call struct {
	op         string
	method     string
	url        string
	body       []byte
	idempotent bool
	chat       bool
	out        any
}

func (c *Client) do(ctx context.Context, cl call) error {
	ctx, span := telemetry.StartSpan(ctx, "faceitapi", cl.op, attribute.String("http.method", cl.method))
	defer span.End()

	b := backoff.NewExponentialBackOff()
	if c.InitialBackoff > 0 {
		b.InitialInterval = c.InitialBackoff
	}
	b.MaxInterval = 5 * time.Second

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := c.attempt(ctx, cl)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !cl.idempotent && !IsRateLimited(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if ClassifyError(err) != ErrorClassRetryable {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.MaxRetries+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Debug("faceit request retry", slog.String("op", cl.op), slog.Duration("wait", wait), slog.Any("err", err), slog.String("component", "faceitapi"))
		}),
	)
	telemetry.ObserveGatewayCall(cl.op, err)
	span.SetAttributes(attribute.Int("faceit.attempts", attempts))
	if err != nil {
		telemetry.RecordError(span, err)
		var ge *GatewayError
		if !errors.As(err, &ge) {
			err = &GatewayError{Op: cl.op, Err: err}
		}
		return err
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

func (c *Client) attempt(ctx context.Context, cl call) error {
	actx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(actx, cl.method, cl.url, body)
	if err != nil {
		return &GatewayError{Op: cl.op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.chat {
		if c.ChatAuth == nil {
			return &GatewayError{Op: cl.op, Err: errors.New("chat auth not configured")}
		}
		tok, err := c.ChatAuth.Token(actx)
		if err != nil {
			return &GatewayError{Op: cl.op, StatusCode: http.StatusUnauthorized, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	} else {
		if c.APIKey == "" {
			return &GatewayError{Op: cl.op, Err: errors.New("api key not configured")}
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.http().Do(req)
	if err != nil {
		return &GatewayError{Op: cl.op, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &GatewayError{Op: cl.op, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	if cl.out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(cl.out); err != nil {
		return &GatewayError{Op: cl.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
