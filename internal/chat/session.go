// Package chat drives one user's chat screen: the live conversation list, the
// open conversation, sending, read receipts and voice notes. The UI talks to it
// through method calls and receives Events.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/travel-chat/internal/domain"
	"github.com/fathima-sithara/travel-chat/internal/livesync"
	"github.com/fathima-sithara/travel-chat/internal/media"
	"github.com/fathima-sithara/travel-chat/internal/realtime"
	"github.com/fathima-sithara/travel-chat/internal/service"
	"github.com/fathima-sithara/travel-chat/internal/users"
	"github.com/fathima-sithara/travel-chat/internal/utils"
)

const (
	EventConversations = "conversations"
	EventMessages      = "messages"
	EventOpened        = "opened"
	EventClosed        = "closed"
	EventSent          = "sent"
	EventRecording     = "recording"
	EventError         = "error"
)

const (
	CodeValidation       = "validation"
	CodePermissionDenied = "permission_denied"
	CodeTransport        = "transport"
)

var ErrNoUnsentVoice = errors.New("no voice note waiting to be resent")

// Event is what the session pushes to the UI. VoicePending on an error means a
// recorded clip is kept and can be resent.
type Event struct {
	Type           string                    `json:"type"`
	ConversationID string                    `json:"conversation_id,omitempty"`
	Partner        *users.Profile            `json:"partner,omitempty"`
	Conversations  []domain.ConversationView `json:"conversations,omitempty"`
	Messages       []domain.MessageView      `json:"messages,omitempty"`
	MessageID      string                    `json:"message_id,omitempty"`
	Recording      *bool                     `json:"recording,omitempty"`
	VoicePending   bool                      `json:"voice_pending,omitempty"`
	Code           string                    `json:"code,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

// Services are the shared backends a session works against.
type Services struct {
	Store     realtime.Store
	Directory *service.Directory
	Messages  *service.MessageStore
	Tracker   *service.Tracker
	Composer  *service.Composer
	Users     users.Directory
	// MaxVoiceBytes caps one recording; zero means no cap.
	MaxVoiceBytes int
}

// SendRequest is what the UI submits. ReplyToID must name a message of the
// open conversation.
type SendRequest struct {
	Text       string
	Attachment *media.Attachment
	ReplyToID  string
}

type Session struct {
	userID string
	svc    Services
	live   *livesync.Client
	emit   func(Event)
	log    *zap.SugaredLogger
	ctx    context.Context

	mu       sync.Mutex
	openID   string
	overlay  *livesync.Overlay[domain.MessageView]
	recorder *media.Recorder
	unsent   *unsentClip
}

// unsentClip is a finalized voice note whose send failed in transport.
type unsentClip struct {
	convID string
	att    *media.Attachment
}

// NewSession creates a session for userID. emit is called from store
// goroutines and must not block on session methods.
func NewSession(ctx context.Context, userID string, svc Services, emit func(Event), log *zap.SugaredLogger) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if svc.Users == nil {
		svc.Users = users.StaticDirectory{}
	}
	return &Session{
		userID:   userID,
		svc:      svc,
		live:     livesync.New(ctx, svc.Store, log),
		emit:     emit,
		log:      log.With("user", userID),
		ctx:      ctx,
		overlay:  &livesync.Overlay[domain.MessageView]{},
		recorder: media.NewRecorder(svc.MaxVoiceBytes),
	}
}

func (s *Session) UserID() string { return s.userID }

// Start subscribes to the user's conversation list.
func (s *Session) Start() error {
	return s.live.Watch(livesync.SlotConversations, service.ChatsRoot, func(snap realtime.Snapshot) {
		s.emit(Event{Type: EventConversations, Conversations: s.svc.Directory.Views(s.ctx, s.userID, snap)})
	})
}

// Open makes the conversation with partnerID the active one, creating it if
// needed. The previous conversation's subscription is torn down first.
func (s *Session) Open(ctx context.Context, partnerID string) (string, error) {
	id, err := s.svc.Directory.Ensure(ctx, s.userID, partnerID)
	if err != nil {
		s.fail(err)
		return "", err
	}

	s.mu.Lock()
	s.openID = id
	s.overlay.Reset(nil)
	s.mu.Unlock()

	if err := s.live.Watch(livesync.SlotMessages, service.MessagesPath(id), s.onMessages(id)); err != nil {
		s.fail(err)
		return "", err
	}
	partner := s.svc.Users.Profile(ctx, partnerID)
	s.emit(Event{Type: EventOpened, ConversationID: id, Partner: &partner})
	return id, nil
}

func (s *Session) onMessages(conversationID string) func(realtime.Snapshot) {
	return func(snap realtime.Snapshot) {
		msgs := s.svc.Messages.FromSnapshot(snap)
		views := s.svc.Messages.Decode(conversationID, msgs)

		s.mu.Lock()
		if s.openID != conversationID {
			s.mu.Unlock()
			return
		}
		s.overlay.Reset(views)
		s.mu.Unlock()

		s.emit(Event{Type: EventMessages, ConversationID: conversationID, Messages: views})

		if _, err := s.svc.Tracker.Observe(s.ctx, conversationID, s.userID, msgs); err != nil {
			s.log.Warnw("mark read failed", "conversation", conversationID, "err", err)
		}
	}
}

// Close leaves the open conversation.
func (s *Session) Close() {
	s.live.Stop(livesync.SlotMessages)
	s.mu.Lock()
	id := s.openID
	s.openID = ""
	s.overlay.Reset(nil)
	s.mu.Unlock()
	if id != "" {
		s.emit(Event{Type: EventClosed, ConversationID: id})
	}
}

func (s *Session) OpenConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openID
}

// Send composes and appends a message to the open conversation. An empty
// draft is ignored. The message shows as pending until the store pushes it back.
func (s *Session) Send(ctx context.Context, req SendRequest) (*domain.Message, error) {
	s.mu.Lock()
	convID := s.openID
	var reply *domain.MessageView
	if req.ReplyToID != "" {
		for _, v := range s.overlay.Base() {
			if v.ID == req.ReplyToID {
				v := v
				reply = &v
				break
			}
		}
	}
	s.mu.Unlock()

	if convID == "" {
		s.fail(domain.ErrNoOpenConversation)
		return nil, domain.ErrNoOpenConversation
	}
	if req.ReplyToID != "" && reply == nil {
		err := domain.Invalid("reply_to", "message %s is not in this conversation", req.ReplyToID)
		s.fail(err)
		return nil, err
	}

	draft := service.Draft{
		ConversationID: convID,
		SenderID:       s.userID,
		Text:           req.Text,
		Attachment:     req.Attachment,
		ReplyTo:        reply,
	}
	out, err := s.svc.Composer.Compose(ctx, draft)
	if errors.Is(err, domain.ErrEmptyMessage) {
		return nil, nil
	}
	if err != nil {
		s.fail(err)
		return nil, err
	}

	s.patch(convID, func(o *livesync.Overlay[domain.MessageView]) {
		o.Append(domain.MessageView{
			ID:        "pending-" + uuid.NewString(),
			SenderID:  s.userID,
			Kind:      out.Kind,
			Text:      out.Text,
			MediaURL:  out.MediaRef,
			ReplyTo:   out.ReplyTo,
			CreatedAt: utils.NowUTC(),
			Pending:   true,
		})
	})

	msg, err := s.svc.Messages.Append(ctx, *out)
	if err != nil {
		s.patch(convID, func(o *livesync.Overlay[domain.MessageView]) { o.Discard() })
		s.fail(err)
		return nil, err
	}
	s.emit(Event{Type: EventSent, ConversationID: convID, MessageID: msg.ID})
	return msg, nil
}

// patch changes the overlay of convID, if still open, and emits the result.
func (s *Session) patch(convID string, fn func(*livesync.Overlay[domain.MessageView])) {
	s.mu.Lock()
	if s.openID != convID {
		s.mu.Unlock()
		return
	}
	fn(s.overlay)
	view := s.overlay.View()
	s.mu.Unlock()
	s.emit(Event{Type: EventMessages, ConversationID: convID, Messages: view})
}

// MarkRead is the focus path: it flips the open conversation regardless of
// the last snapshot.
func (s *Session) MarkRead(ctx context.Context) (int, error) {
	id := s.OpenConversation()
	if id == "" {
		return 0, domain.ErrNoOpenConversation
	}
	n, err := s.svc.Messages.MarkRead(ctx, id, s.userID)
	if err != nil {
		s.fail(err)
	}
	return n, err
}

// StartRecording begins a voice note once the microphone grants permission.
func (s *Session) StartRecording(ctx context.Context, mic media.Microphone, contentType string) error {
	if s.OpenConversation() == "" {
		s.fail(domain.ErrNoOpenConversation)
		return domain.ErrNoOpenConversation
	}
	if err := s.recorder.Start(ctx, mic, contentType); err != nil {
		s.fail(err)
		return err
	}
	on := true
	s.emit(Event{Type: EventRecording, Recording: &on})
	return nil
}

func (s *Session) RecordChunk(p []byte) error {
	if _, err := s.recorder.Write(p); err != nil {
		if errors.Is(err, media.ErrRecordingTooLong) {
			s.CancelRecording()
			s.fail(err)
		}
		return err
	}
	return nil
}

// StopRecording ends the gesture and sends the clip as a voice note. When the
// send fails in transport the clip is kept for RetryVoice.
func (s *Session) StopRecording(ctx context.Context) (*domain.Message, error) {
	att, err := s.recorder.Stop()
	off := false
	s.emit(Event{Type: EventRecording, Recording: &off})
	if err != nil {
		s.fail(err)
		return nil, err
	}
	clip := &unsentClip{convID: s.OpenConversation(), att: att}
	s.mu.Lock()
	s.unsent = clip
	s.mu.Unlock()
	return s.sendVoice(ctx, clip)
}

// RetryVoice resends the clip kept by a failed StopRecording. Its conversation
// must still be open.
func (s *Session) RetryVoice(ctx context.Context) (*domain.Message, error) {
	s.mu.Lock()
	clip, open := s.unsent, s.openID
	s.mu.Unlock()
	if clip == nil {
		s.fail(ErrNoUnsentVoice)
		return nil, ErrNoUnsentVoice
	}
	if clip.convID != open {
		err := domain.Invalid("conversation", "the voice note belongs to conversation %s", clip.convID)
		s.fail(err)
		return nil, err
	}
	return s.sendVoice(ctx, clip)
}

// DiscardVoice drops a clip kept for retry.
func (s *Session) DiscardVoice() {
	s.mu.Lock()
	s.unsent = nil
	s.mu.Unlock()
}

func (s *Session) sendVoice(ctx context.Context, clip *unsentClip) (*domain.Message, error) {
	msg, err := s.Send(ctx, SendRequest{Attachment: clip.att})
	if err != nil && errorCode(err) == CodeTransport {
		return nil, err
	}
	s.mu.Lock()
	if s.unsent == clip {
		s.unsent = nil
	}
	s.mu.Unlock()
	return msg, err
}

func (s *Session) hasUnsentVoice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsent != nil
}

func (s *Session) CancelRecording() {
	if !s.recorder.Recording() {
		return
	}
	s.recorder.Cancel()
	off := false
	s.emit(Event{Type: EventRecording, Recording: &off})
}

// Shutdown drops every subscription. The session is unusable afterwards.
func (s *Session) Shutdown() {
	s.recorder.Cancel()
	s.live.Close()
	s.mu.Lock()
	s.openID = ""
	s.unsent = nil
	s.mu.Unlock()
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return CodePermissionDenied
	case domain.IsValidation(err),
		errors.Is(err, domain.ErrNoOpenConversation),
		errors.Is(err, ErrNoUnsentVoice),
		errors.Is(err, media.ErrAlreadyRecording),
		errors.Is(err, media.ErrNotRecording),
		errors.Is(err, media.ErrEmptyRecording),
		errors.Is(err, media.ErrRecordingTooLong),
		errors.Is(err, media.ErrTooLarge):
		return CodeValidation
	}
	return CodeTransport
}

func (s *Session) fail(err error) {
	code := errorCode(err)
	ev := Event{Type: EventError, Code: code, Error: userMessage(err)}
	if code == CodeTransport {
		s.log.Warnw("chat operation failed", "err", err)
		ev.VoicePending = s.hasUnsentVoice()
	}
	s.emit(ev)
}

func userMessage(err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, media.ErrPermissionDenied):
		return "Microphone access was denied. Allow it to record voice notes."
	case errors.Is(err, domain.ErrNoOpenConversation):
		return "Open a conversation first."
	case errors.Is(err, media.ErrRecordingTooLong):
		return "The voice note is too long."
	case errors.Is(err, media.ErrEmptyRecording):
		return "Nothing was recorded."
	case errors.Is(err, ErrNoUnsentVoice):
		return "There is no voice note to resend."
	}
	return fmt.Sprintf("Could not complete the request: %v", err)
}
