package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Conversation struct {
	ID           string   `json:"-"`
	Participants []string `json:"participants"`
	LastMessage  string   `json:"last_message"`
	LastSenderID string   `json:"last_sender_id,omitempty"`
	LastActivity int64    `json:"last_activity"`
	CreatedAt    int64    `json:"created_at"`
}

func (c Conversation) Has(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Partner returns the other participant; for a self-chat that is the user itself.
func (c Conversation) Partner(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return userID
}

type ConversationView struct {
	ID           string    `json:"id"`
	PartnerID    string    `json:"partner_id"`
	PartnerName  string    `json:"partner_name,omitempty"`
	PartnerPhoto string    `json:"partner_photo,omitempty"`
	Preview      string    `json:"preview"`
	LastSenderID string    `json:"last_sender_id,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// ConversationID derives the identifier of the conversation between a and b.
// It does not depend on argument order.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

// SortedPair returns the participants in the order they are stored.
func SortedPair(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

type conversationWire struct {
	Participants []string `json:"participants"`
	LastMessage  string   `json:"last_message"`
	LastSenderID string   `json:"last_sender_id"`
	LastActivity float64  `json:"last_activity"`
	CreatedAt    float64  `json:"created_at"`
}

func DecodeConversation(key string, raw json.RawMessage) (Conversation, error) {
	var w conversationWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Conversation{}, fmt.Errorf("%w: conversation %s: %v", ErrMalformedRecord, key, err)
	}
	if len(w.Participants) != 2 || w.Participants[0] == "" || w.Participants[1] == "" {
		return Conversation{}, fmt.Errorf("%w: conversation %s: %v", ErrMalformedRecord, key, ErrInvalidParticipants)
	}
	c := Conversation{
		ID:           key,
		Participants: w.Participants,
		LastMessage:  w.LastMessage,
		LastSenderID: w.LastSenderID,
		LastActivity: int64(w.LastActivity),
		CreatedAt:    int64(w.CreatedAt),
	}
	if c.LastActivity == 0 {
		c.LastActivity = c.CreatedAt
	}
	return c, nil
}

// SortByActivity orders most recent first, ties broken by id.
func SortByActivity(cs []Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].LastActivity != cs[j].LastActivity {
			return cs[i].LastActivity > cs[j].LastActivity
		}
		return cs[i].ID < cs[j].ID
	})
}
