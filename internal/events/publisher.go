package events

import (
	"context"
)

const (
	TopicMessageNew  = "message.new"
	TopicMessageRead = "message.read"
	SubjectChatNew   = "chat.created"
)

// MessageEvent announces an append or a read flip. It never carries plaintext.
type MessageEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`
	ViewerID       string `json:"viewer_id,omitempty"`
	Kind           string `json:"kind,omitempty"`
	Count          int    `json:"count,omitempty"`
	At             int64  `json:"at"`
}

type ChatCreatedEvent struct {
	ChatID  string   `json:"chat_id"`
	Members []string `json:"members"`
	At      int64    `json:"at"`
}

type MessagePublisher interface {
	PublishMessage(ctx context.Context, ev MessageEvent) error
}

type ChatPublisher interface {
	PublishChatCreated(ctx context.Context, ev ChatCreatedEvent) error
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishMessage(context.Context, MessageEvent) error        { return nil }
func (Noop) PublishChatCreated(context.Context, ChatCreatedEvent) error { return nil }
