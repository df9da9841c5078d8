package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/travel-chat/internal/crypto"
	"github.com/fathima-sithara/travel-chat/internal/domain"
	"github.com/fathima-sithara/travel-chat/internal/events"
	"github.com/fathima-sithara/travel-chat/internal/metrics"
	"github.com/fathima-sithara/travel-chat/internal/realtime"
	"github.com/fathima-sithara/travel-chat/internal/utils"
)

const previewRunes = 80

// AppendRequest is an outgoing message in plaintext.
type AppendRequest struct {
	ConversationID string
	SenderID       string
	Kind           domain.Kind
	Text           string
	MediaRef       string
	ReplyTo        *domain.ReplyRef
}

type MessageStore struct {
	store realtime.Store
	codec *crypto.Codec
	pub   events.MessagePublisher
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewMessageStore(store realtime.Store, codec *crypto.Codec, pub events.MessagePublisher, log *zap.SugaredLogger) *MessageStore {
	if pub == nil {
		pub = events.Noop{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MessageStore{store: store, codec: codec, pub: pub, log: log, now: utils.NowUTC}
}

func inferKind(kind domain.Kind, text, media string) (domain.Kind, error) {
	if text == "" && media == "" {
		return "", domain.ErrEmptyMessage
	}
	switch kind {
	case "":
		if media != "" {
			return "", domain.Invalid("kind", "is required for attachments")
		}
		return domain.KindText, nil
	case domain.KindText:
		if media != "" {
			return "", fmt.Errorf("%w: text message with media", domain.ErrKindMismatch)
		}
		return kind, nil
	case domain.KindImage, domain.KindVideo, domain.KindVoice:
		if media == "" {
			return "", fmt.Errorf("%w: %s message without media", domain.ErrKindMismatch, kind)
		}
		return kind, nil
	}
	return "", domain.Invalid("kind", "unknown kind %q", kind)
}

// Preview is the list summary for a message: its text, or the kind label when
// it carries none.
func Preview(kind domain.Kind, text string) string {
	if strings.TrimSpace(text) == "" {
		return kind.Label()
	}
	return domain.Truncate(text, previewRunes)
}

// Append validates and encrypts req, pushes the message and then updates the
// conversation preview. Nothing is written when validation fails.
func (s *MessageStore) Append(ctx context.Context, req AppendRequest) (*domain.Message, error) {
	if err := validID("conversation_id", req.ConversationID); err != nil {
		return nil, err
	}
	if err := validID("sender_id", req.SenderID); err != nil {
		return nil, err
	}
	text := req.Text
	if strings.TrimSpace(text) == "" {
		text = ""
	}
	kind, err := inferKind(req.Kind, text, req.MediaRef)
	if err != nil {
		return nil, err
	}

	conv := req.ConversationID
	msg := domain.Message{
		SenderID:  req.SenderID,
		Kind:      kind,
		Text:      s.codec.Encrypt(text, conv),
		Media:     s.codec.Encrypt(req.MediaRef, conv),
		Read:      false,
		CreatedAt: utils.Millis(s.now()),
	}
	if req.ReplyTo != nil && req.ReplyTo.MessageID != "" {
		msg.ReplyTo = &domain.ReplyRef{
			MessageID:  req.ReplyTo.MessageID,
			Snippet:    s.codec.Encrypt(req.ReplyTo.Snippet, conv),
			SenderName: req.ReplyTo.SenderName,
		}
	}

	id, err := s.store.Push(ctx, MessagesPath(conv), msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	msg.ID = id
	metrics.MessagesAppended.WithLabelValues(string(kind)).Inc()

	preview := map[string]any{
		"last_message":   s.codec.Encrypt(Preview(kind, text), conv),
		"last_sender_id": req.SenderID,
		"last_activity":  msg.CreatedAt,
	}
	// a concurrent append with a later timestamp keeps its preview
	applied, err := s.store.UpdateIfNewer(ctx, ChatPath(conv), "last_activity", msg.CreatedAt, preview)
	switch {
	case err != nil:
		// the message is stored; the next append rewrites the preview
		s.log.Warnw("preview update failed", "conversation", conv, "message", id, "err", err)
	case !applied:
		s.log.Debugw("preview already newer", "conversation", conv, "message", id)
	}

	ev := events.MessageEvent{
		Type:           events.TopicMessageNew,
		ConversationID: conv,
		MessageID:      id,
		SenderID:       req.SenderID,
		Kind:           string(kind),
		At:             msg.CreatedAt,
	}
	if err := s.pub.PublishMessage(ctx, ev); err != nil {
		s.log.Warnw("publish message.new", "conversation", conv, "err", err)
	}
	return &msg, nil
}

// MarkRead flips every unread message not sent by viewer. Messages already
// flipped stay read when a later write fails.
func (s *MessageStore) MarkRead(ctx context.Context, conversationID, viewerID string) (int, error) {
	if err := validID("viewer_id", viewerID); err != nil {
		return 0, err
	}
	msgs, err := s.List(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range msgs {
		if m.SenderID == viewerID || m.Read {
			continue
		}
		if err := s.store.Update(ctx, MessagePath(conversationID, m.ID), map[string]any{"read": true}); err != nil {
			metrics.MessagesRead.Add(float64(n))
			return n, fmt.Errorf("mark %s read: %w", m.ID, err)
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	metrics.MessagesRead.Add(float64(n))

	ev := events.MessageEvent{
		Type:           events.TopicMessageRead,
		ConversationID: conversationID,
		ViewerID:       viewerID,
		Count:          n,
		At:             utils.Millis(s.now()),
	}
	if err := s.pub.PublishMessage(ctx, ev); err != nil {
		s.log.Warnw("publish message.read", "conversation", conversationID, "err", err)
	}
	return n, nil
}

// List reads the conversation log once, in append order.
func (s *MessageStore) List(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if err := validID("conversation_id", conversationID); err != nil {
		return nil, err
	}
	snap, err := s.store.Get(ctx, MessagesPath(conversationID))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return s.FromSnapshot(snap), nil
}

// Get reads one message of the conversation. It returns domain.ErrNotFound
// when the message does not exist.
func (s *MessageStore) Get(ctx context.Context, conversationID, messageID string) (domain.Message, error) {
	if err := validID("conversation_id", conversationID); err != nil {
		return domain.Message{}, err
	}
	if err := validID("message_id", messageID); err != nil {
		return domain.Message{}, err
	}
	path := MessagePath(conversationID, messageID)
	snap, err := s.store.Get(ctx, path)
	if err != nil {
		return domain.Message{}, fmt.Errorf("get message: %w", err)
	}
	if len(snap.Value) == 0 {
		return domain.Message{}, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	m, err := domain.DecodeMessage(messageID, snap.Value)
	if err != nil {
		quarantine(s.log, path, messageID, err)
		return domain.Message{}, err
	}
	return m, nil
}

// FromSnapshot decodes a message log snapshot. Malformed records are skipped.
func (s *MessageStore) FromSnapshot(snap realtime.Snapshot) []domain.Message {
	out := make([]domain.Message, 0, len(snap.Children))
	for _, c := range snap.Children {
		m, err := domain.DecodeMessage(c.Key, c.Value)
		if err != nil {
			quarantine(s.log, snap.Path, c.Key, err)
			continue
		}
		out = append(out, m)
	}
	domain.SortMessages(out)
	return out
}

// Decode turns stored messages into what the UI shows.
func (s *MessageStore) Decode(conversationID string, msgs []domain.Message) []domain.MessageView {
	out := make([]domain.MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := domain.MessageView{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Kind:      m.Kind,
			Text:      s.codec.Decrypt(m.Text, conversationID),
			MediaURL:  s.codec.Decrypt(m.Media, conversationID),
			Read:      m.Read,
			CreatedAt: utils.FromMillis(m.CreatedAt),
		}
		if m.ReplyTo != nil {
			v.ReplyTo = &domain.ReplyRef{
				MessageID:  m.ReplyTo.MessageID,
				Snippet:    s.codec.Decrypt(m.ReplyTo.Snippet, conversationID),
				SenderName: m.ReplyTo.SenderName,
			}
		}
		out = append(out, v)
	}
	return out
}

func quarantine(log *zap.SugaredLogger, path, key string, err error) {
	metrics.QuarantinedRecords.Inc()
	if errors.Is(err, domain.ErrMalformedRecord) {
		log.Warnw("skipping malformed record", "path", path, "key", key, "err", err)
		return
	}
	log.Errorw("record decode failed", "path", path, "key", key, "err", err)
}
