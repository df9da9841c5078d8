package service

import (
	"strings"

	"github.com/fathima-sithara/travel-chat/internal/domain"
	"github.com/fathima-sithara/travel-chat/internal/realtime"
)

// Layout of the document tree:
//
//	chats/{conversationID}               conversation record and preview
//	messages/{conversationID}/{pushKey}  one message
const (
	ChatsRoot    = "chats"
	MessagesRoot = "messages"
)

func ChatPath(conversationID string) string {
	return realtime.Join(ChatsRoot, conversationID)
}

func MessagesPath(conversationID string) string {
	return realtime.Join(MessagesRoot, conversationID)
}

func MessagePath(conversationID, messageID string) string {
	return realtime.Join(MessagesRoot, conversationID, messageID)
}

func validID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.Invalid(field, "is required")
	}
	if strings.ContainsAny(id, "/.$#[]") {
		return domain.Invalid(field, "contains a reserved character")
	}
	return nil
}
