package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/travel-chat/internal/chat"
	"github.com/fathima-sithara/travel-chat/internal/crypto"
	"github.com/fathima-sithara/travel-chat/internal/domain"
	"github.com/fathima-sithara/travel-chat/internal/media"
	"github.com/fathima-sithara/travel-chat/internal/realtime"
	"github.com/fathima-sithara/travel-chat/internal/service"
	"github.com/fathima-sithara/travel-chat/internal/users"
)

type recorder struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recorder) emit(e chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) lastError() (chat.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == chat.EventError {
			return r.events[i], true
		}
	}
	return chat.Event{}, false
}

func newSession(t *testing.T) (*chat.Session, *recorder, *realtime.MemoryStore) {
	t.Helper()
	store := realtime.NewMemoryStore(nil)
	codec, err := crypto.NewCodec("ws-secret", nil)
	require.NoError(t, err)
	profiles := users.StaticDirectory{"ana": {DisplayName: "Ana"}, "beto": {DisplayName: "Beto"}}
	msgs := service.NewMessageStore(store, codec, nil, nil)
	svc := chat.Services{
		Store:     store,
		Directory: service.NewDirectory(store, codec, profiles, nil, nil),
		Messages:  msgs,
		Tracker:   service.NewTracker(msgs),
		Composer:  service.NewComposer(media.DataURLUploader{}, profiles, service.DefaultLimits(), nil),
		Users:     profiles,
	}
	rec := &recorder{}
	s := chat.NewSession(context.Background(), "ana", svc, rec.emit, nil)
	t.Cleanup(s.Shutdown)
	return s, rec, store
}

func TestEnvelope_Decode(t *testing.T) {
	raw := `{"type":"send","text":"hi","reply_to":"m1","attachment":{"kind":"photo","data":"AQID","content_type":"image/png","duration_ms":1500}}`
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, TypeSend, env.Type)
	assert.Equal(t, "m1", env.ReplyTo)

	att, err := env.Attachment.ToAttachment()
	require.NoError(t, err)
	assert.Equal(t, domain.KindImage, att.Kind)
	assert.Equal(t, []byte{1, 2, 3}, att.Data)
	assert.Equal(t, 1500*time.Millisecond, att.Duration)

	att, err = (*AttachmentPayload)(nil).ToAttachment()
	assert.NoError(t, err)
	assert.Nil(t, att)

	_, err = (&AttachmentPayload{Kind: "text"}).ToAttachment()
	assert.True(t, domain.IsValidation(err))
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("open then send", func(t *testing.T) {
		s, _, store := newSession(t)
		require.NoError(t, dispatch(ctx, s, Envelope{Type: TypeOpen, PartnerID: "beto"}, nil))
		id := domain.ConversationID("ana", "beto")
		assert.Equal(t, id, s.OpenConversation())

		require.NoError(t, dispatch(ctx, s, Envelope{Type: TypeSend, Text: "hola"}, nil))
		snap, err := store.Get(ctx, service.MessagesPath(id))
		require.NoError(t, err)
		assert.Len(t, snap.Children, 1)

		require.NoError(t, dispatch(ctx, s, Envelope{Type: TypeClose}, nil))
		assert.Empty(t, s.OpenConversation())
	})

	t.Run("unknown frame", func(t *testing.T) {
		s, rec, _ := newSession(t)
		err := dispatch(ctx, s, Envelope{Type: "dance"}, rec.emit)
		assert.True(t, domain.IsValidation(err))
		ev, ok := rec.lastError()
		require.True(t, ok)
		assert.Equal(t, chat.CodeValidation, ev.Code)
	})

	t.Run("bad attachment kind", func(t *testing.T) {
		s, rec, _ := newSession(t)
		require.NoError(t, dispatch(ctx, s, Envelope{Type: TypeOpen, PartnerID: "beto"}, rec.emit))
		err := dispatch(ctx, s, Envelope{Type: TypeSend, Attachment: &AttachmentPayload{Kind: "sticker", Data: []byte{1}}}, rec.emit)
		assert.Error(t, err)
		ev, ok := rec.lastError()
		require.True(t, ok)
		assert.Equal(t, chat.CodeValidation, ev.Code)
	})

	t.Run("microphone denied", func(t *testing.T) {
		s, rec, _ := newSession(t)
		require.NoError(t, dispatch(ctx, s, Envelope{Type: TypeOpen, PartnerID: "beto"}, rec.emit))
		err := dispatch(ctx, s, Envelope{Type: TypeRecordStart, Permission: "denied"}, rec.emit)
		assert.ErrorIs(t, err, media.ErrPermissionDenied)
		ev, ok := rec.lastError()
		require.True(t, ok)
		assert.Equal(t, chat.CodePermissionDenied, ev.Code)
	})

	t.Run("retry without a failed voice note", func(t *testing.T) {
		s, rec, _ := newSession(t)
		require.NoError(t, dispatch(ctx, s, Envelope{Type: TypeOpen, PartnerID: "beto"}, rec.emit))
		require.NoError(t, dispatch(ctx, s, Envelope{Type: TypeRecordDiscard}, rec.emit))
		err := dispatch(ctx, s, Envelope{Type: TypeRecordRetry}, rec.emit)
		assert.ErrorIs(t, err, chat.ErrNoUnsentVoice)
		ev, ok := rec.lastError()
		require.True(t, ok)
		assert.Equal(t, chat.CodeValidation, ev.Code)
		assert.False(t, ev.VoicePending)
	})
}
