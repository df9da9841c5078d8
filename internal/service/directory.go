package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/travel-chat/internal/crypto"
	"github.com/fathima-sithara/travel-chat/internal/domain"
	"github.com/fathima-sithara/travel-chat/internal/events"
	"github.com/fathima-sithara/travel-chat/internal/realtime"
	"github.com/fathima-sithara/travel-chat/internal/users"
	"github.com/fathima-sithara/travel-chat/internal/utils"
)

// Directory maps user pairs to conversations and renders the conversation list.
type Directory struct {
	store realtime.Store
	codec *crypto.Codec
	users users.Directory
	pub   events.ChatPublisher
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewDirectory(store realtime.Store, codec *crypto.Codec, dir users.Directory, pub events.ChatPublisher, log *zap.SugaredLogger) *Directory {
	if pub == nil {
		pub = events.Noop{}
	}
	if dir == nil {
		dir = users.StaticDirectory{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Directory{store: store, codec: codec, users: dir, pub: pub, log: log, now: utils.NowUTC}
}

// Resolve is the conversation id for a and b, whichever order they come in.
func (d *Directory) Resolve(a, b string) string {
	return domain.ConversationID(a, b)
}

// Ensure creates the conversation record when it does not exist yet. Two users
// racing here both write the same empty record, which is harmless.
func (d *Directory) Ensure(ctx context.Context, a, b string) (string, error) {
	if err := validID("user_id", a); err != nil {
		return "", err
	}
	if err := validID("partner_id", b); err != nil {
		return "", err
	}
	id := d.Resolve(a, b)

	snap, err := d.store.Get(ctx, ChatPath(id))
	if err != nil {
		return "", fmt.Errorf("lookup conversation: %w", err)
	}
	if len(snap.Value) > 0 {
		return id, nil
	}

	now := utils.Millis(d.now())
	conv := domain.Conversation{
		Participants: domain.SortedPair(a, b),
		LastMessage:  "",
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := d.store.Set(ctx, ChatPath(id), conv); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	d.log.Infow("conversation created", "conversation", id)

	ev := events.ChatCreatedEvent{ChatID: id, Members: conv.Participants, At: now}
	if err := d.pub.PublishChatCreated(ctx, ev); err != nil {
		d.log.Warnw("publish chat.created", "conversation", id, "err", err)
	}
	return id, nil
}

func (d *Directory) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	if err := validID("conversation_id", conversationID); err != nil {
		return domain.Conversation{}, err
	}
	snap, err := d.store.Get(ctx, ChatPath(conversationID))
	if err != nil {
		return domain.Conversation{}, err
	}
	if len(snap.Value) == 0 {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return domain.DecodeConversation(conversationID, snap.Value)
}

// Authorize returns the conversation if userID takes part in it.
func (d *Directory) Authorize(ctx context.Context, conversationID, userID string) (domain.Conversation, error) {
	c, err := d.Get(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !c.Has(userID) {
		return domain.Conversation{}, domain.ErrNotParticipant
	}
	return c, nil
}

func (d *Directory) List(ctx context.Context, userID string) ([]domain.ConversationView, error) {
	snap, err := d.store.Get(ctx, ChatsRoot)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return d.Views(ctx, userID, snap), nil
}

// Watch calls fn with the user's full conversation list now and after every change.
func (d *Directory) Watch(ctx context.Context, userID string, fn func([]domain.ConversationView)) (func(), error) {
	return d.store.Subscribe(ctx, ChatsRoot, func(snap realtime.Snapshot) {
		fn(d.Views(ctx, userID, snap))
	})
}

// Views filters a snapshot of the chats root down to userID's conversations,
// most recent first.
func (d *Directory) Views(ctx context.Context, userID string, snap realtime.Snapshot) []domain.ConversationView {
	var convs []domain.Conversation
	for _, c := range snap.Children {
		conv, err := domain.DecodeConversation(c.Key, c.Value)
		if err != nil {
			quarantine(d.log, snap.Path, c.Key, err)
			continue
		}
		if conv.Has(userID) {
			convs = append(convs, conv)
		}
	}
	domain.SortByActivity(convs)

	out := make([]domain.ConversationView, 0, len(convs))
	for _, c := range convs {
		partner := d.users.Profile(ctx, c.Partner(userID))
		out = append(out, domain.ConversationView{
			ID:           c.ID,
			PartnerID:    partner.ID,
			PartnerName:  partner.DisplayName,
			PartnerPhoto: partner.AvatarURL,
			Preview:      d.codec.Decrypt(c.LastMessage, c.ID),
			LastSenderID: c.LastSenderID,
			LastActivity: utils.FromMillis(c.LastActivity),
		})
	}
	return out
}
