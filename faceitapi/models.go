package faceitapi

import (
	"encoding/json"
	"strings"
	"time"
)

// HubMatch is one entry of a hub match listing, flattened to what the bot needs.
type HubMatch struct {
	MatchID         string
	Status          string
	ChatRoomID      string
	RosterPlayerIDs []string
	Ratings         TeamRatings
	HasRatings      bool
}

// TeamRatings holds the average skill rating of each faction.
type TeamRatings struct {
	Faction1 int
	Faction2 int
}

// Diff returns the absolute rating difference between the two factions.
func (t TeamRatings) Diff() int {
	d := t.Faction1 - t.Faction2
	if d < 0 {
		return -d
	}
	return d
}

// ChatMessage is a message read back from a chat room.
type ChatMessage struct {
	ID        string
	RoomID    string
	UserID    string
	Body      string
	Timestamp time.Time
}

// MatchRoomID returns the chat room id FACEIT assigns to a match lobby.
func MatchRoomID(matchID string) string {
	if matchID == "" || strings.HasPrefix(matchID, "match-") {
		return matchID
	}
	return "match-" + matchID
}

type apiMatchList struct {
	Items []apiMatch `json:"items"`
	Start int        `json:"start"`
	End   int        `json:"end"`
}

type apiMatch struct {
	MatchID    string                `json:"match_id"`
	Status     string                `json:"status"`
	ChatRoomID string                `json:"chat_room_id"`
	Teams      map[string]apiFaction `json:"teams"`
}

type apiFaction struct {
	FactionID string      `json:"faction_id"`
	Name      string      `json:"name"`
	Roster    []apiPlayer `json:"roster"`
	Stats     *struct {
		Rating int `json:"rating"`
	} `json:"stats"`
}

type apiPlayer struct {
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
}

type apiChatMessages struct {
	Messages []struct {
		ID        string    `json:"id"`
		Body      string    `json:"body"`
		From      string    `json:"from"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"messages"`
}

func (m apiMatch) toHubMatch() HubMatch {
	out := HubMatch{
		MatchID:    m.MatchID,
		Status:     m.Status,
		ChatRoomID: m.ChatRoomID,
	}
	if out.ChatRoomID == "" {
		out.ChatRoomID = MatchRoomID(m.MatchID)
	}
	f1, ok1 := m.Teams["faction1"]
	f2, ok2 := m.Teams["faction2"]
	for _, f := range []apiFaction{f1, f2} {
		for _, p := range f.Roster {
			if p.PlayerID != "" {
				out.RosterPlayerIDs = append(out.RosterPlayerIDs, p.PlayerID)
			}
		}
	}
	if ok1 && ok2 && f1.Stats != nil && f2.Stats != nil && f1.Stats.Rating > 0 && f2.Stats.Rating > 0 {
		out.Ratings = TeamRatings{Faction1: f1.Stats.Rating, Faction2: f2.Stats.Rating}
		out.HasRatings = true
	}
	return out
}

// webhookMatch is the match object of a FACEIT webhook delivery. Deliveries
// name the match "id" where the Data API uses "match_id".
type webhookMatch struct {
	apiMatch
	ID string `json:"id"`
}

// DecodeMatchPayload parses the payload of a match webhook event.
func DecodeMatchPayload(raw []byte) (HubMatch, error) {
	var m webhookMatch
	if err := json.Unmarshal(raw, &m); err != nil {
		return HubMatch{}, err
	}
	if m.MatchID == "" {
		m.MatchID = m.ID
	}
	if m.MatchID == "" {
		return HubMatch{}, nil
	}
	return m.toHubMatch(), nil
}
