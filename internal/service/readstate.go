package service

import (
	"context"
	"sync"

	"github.com/fathima-sithara/travel-chat/internal/domain"
)

// Tracker marks a conversation read while a viewer has it open. It only writes
// when something from the other side is unread, so the snapshot its own writes
// produce does not trigger another round.
type Tracker struct {
	messages *MessageStore

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewTracker(messages *MessageStore) *Tracker {
	return &Tracker{messages: messages, inFlight: make(map[string]struct{})}
}

// NeedsRead reports whether msgs hold an unread message viewer did not send.
func NeedsRead(viewerID string, msgs []domain.Message) bool {
	for _, m := range msgs {
		if !m.Read && m.SenderID != viewerID {
			return true
		}
	}
	return false
}

// Observe is called with every snapshot of the open conversation and on focus.
// A call that overlaps a running one for the same viewer and conversation is
// dropped; the next snapshot or focus retries it.
func (t *Tracker) Observe(ctx context.Context, conversationID, viewerID string, msgs []domain.Message) (int, error) {
	if !NeedsRead(viewerID, msgs) {
		return 0, nil
	}
	key := conversationID + "|" + viewerID
	t.mu.Lock()
	if _, busy := t.inFlight[key]; busy {
		t.mu.Unlock()
		return 0, nil
	}
	t.inFlight[key] = struct{}{}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.inFlight, key)
		t.mu.Unlock()
	}()
	return t.messages.MarkRead(ctx, conversationID, viewerID)
}
