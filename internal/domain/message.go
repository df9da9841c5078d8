package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindVoice Kind = "voice"
)

func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return KindText, true
	case "image", "photo":
		return KindImage, true
	case "video":
		return KindVideo, true
	case "voice", "audio", "voice_note":
		return KindVoice, true
	}
	return "", false
}

// HasMedia reports whether messages of this kind carry a media reference.
func (k Kind) HasMedia() bool {
	return k == KindImage || k == KindVideo || k == KindVoice
}

// Label is the bracketed summary shown in previews and quotes when there is no text.
func (k Kind) Label() string {
	switch k {
	case KindImage:
		return "[photo]"
	case KindVideo:
		return "[video]"
	case KindVoice:
		return "[voice note]"
	}
	return "[message]"
}

// ReplyRef is a value copy of the replied message taken when the reply was written.
type ReplyRef struct {
	MessageID  string `json:"message_id"`
	Snippet    string `json:"snippet"`
	SenderName string `json:"sender_name"`
}

// Message is the stored record. Text, Media and ReplyTo.Snippet hold ciphertext.
type Message struct {
	ID        string    `json:"-"`
	SenderID  string    `json:"sender_id"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	Media     string    `json:"media,omitempty"`
	ReplyTo   *ReplyRef `json:"reply_to,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt int64     `json:"created_at"`
}

// MessageView is the decrypted form handed to the UI.
type MessageView struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	MediaURL  string    `json:"media_url,omitempty"`
	ReplyTo   *ReplyRef `json:"reply_to,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	Pending   bool      `json:"pending,omitempty"`
}

// DisplayText is what a quote of this message shows.
func (v MessageView) DisplayText() string {
	if strings.TrimSpace(v.Text) != "" {
		return v.Text
	}
	return v.Kind.Label()
}

type messageWire struct {
	SenderID  *string   `json:"sender_id"`
	Kind      string    `json:"kind"`
	Type      string    `json:"type"`
	Text      *string   `json:"text"`
	Media     *string   `json:"media"`
	ReplyTo   *ReplyRef `json:"reply_to"`
	Read      bool      `json:"read"`
	CreatedAt *float64  `json:"created_at"`
}

// DecodeMessage validates a raw record from the document store. Records that do not
// match a known shape are rejected with ErrMalformedRecord.
func DecodeMessage(key string, raw json.RawMessage) (Message, error) {
	var w messageWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, fmt.Errorf("%w: message %s: %v", ErrMalformedRecord, key, err)
	}
	if w.SenderID == nil || *w.SenderID == "" {
		return Message{}, fmt.Errorf("%w: message %s: sender missing", ErrMalformedRecord, key)
	}
	if w.CreatedAt == nil || *w.CreatedAt <= 0 {
		return Message{}, fmt.Errorf("%w: message %s: timestamp missing", ErrMalformedRecord, key)
	}
	m := Message{
		ID:        key,
		SenderID:  *w.SenderID,
		ReplyTo:   w.ReplyTo,
		Read:      w.Read,
		CreatedAt: int64(*w.CreatedAt),
	}
	if w.Text != nil {
		m.Text = *w.Text
	}
	if w.Media != nil {
		m.Media = *w.Media
	}
	if m.Text == "" && m.Media == "" {
		return Message{}, fmt.Errorf("%w: message %s: %v", ErrMalformedRecord, key, ErrEmptyMessage)
	}

	kind := w.Kind
	if kind == "" {
		kind = w.Type
	}
	switch k, ok := ParseKind(kind); {
	case ok:
		m.Kind = k
	case kind == "" && m.Media == "":
		m.Kind = KindText
	default:
		return Message{}, fmt.Errorf("%w: message %s: unknown kind %q", ErrMalformedRecord, key, kind)
	}
	if m.Kind.HasMedia() && m.Media == "" {
		return Message{}, fmt.Errorf("%w: message %s: %s without media", ErrMalformedRecord, key, m.Kind)
	}
	return m, nil
}

// SortMessages orders by creation time, ties broken by id.
func SortMessages(ms []Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].CreatedAt != ms[j].CreatedAt {
			return ms[i].CreatedAt < ms[j].CreatedAt
		}
		return ms[i].ID < ms[j].ID
	})
}

// Truncate cuts s to at most n runes, appending an ellipsis when shortened.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
