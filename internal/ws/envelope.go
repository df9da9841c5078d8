package ws

import (
	"context"
	"time"

	"github.com/fathima-sithara/travel-chat/internal/chat"
	"github.com/fathima-sithara/travel-chat/internal/domain"
	"github.com/fathima-sithara/travel-chat/internal/media"
)

// Inbound text frame types. Binary frames carry voice note audio. A voice note
// whose send failed is resent with record_retry or dropped with record_discard.
const (
	TypeOpen          = "open"
	TypeClose         = "close"
	TypeSend          = "send"
	TypeMarkRead      = "mark_read"
	TypeRecordStart   = "record_start"
	TypeRecordStop    = "record_stop"
	TypeRecordCancel  = "record_cancel"
	TypeRecordRetry   = "record_retry"
	TypeRecordDiscard = "record_discard"
)

// Envelope is the wire format of client frames.
type Envelope struct {
	Type        string             `json:"type"`
	PartnerID   string             `json:"partner_id,omitempty"`
	Text        string             `json:"text,omitempty"`
	ReplyTo     string             `json:"reply_to,omitempty"`
	Attachment  *AttachmentPayload `json:"attachment,omitempty"`
	Permission  string             `json:"permission,omitempty"`
	ContentType string             `json:"content_type,omitempty"`
}

// AttachmentPayload carries media inline; Data is base64 in JSON.
type AttachmentPayload struct {
	Kind        string `json:"kind,omitempty"`
	Data        []byte `json:"data"`
	ContentType string `json:"content_type,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
}

// ToAttachment converts the payload; a nil payload means no attachment.
func (p *AttachmentPayload) ToAttachment() (*media.Attachment, error) {
	if p == nil {
		return nil, nil
	}
	att := &media.Attachment{
		Data:        p.Data,
		ContentType: p.ContentType,
		FileName:    p.FileName,
		Duration:    time.Duration(p.DurationMS) * time.Millisecond,
	}
	if p.Kind != "" {
		k, ok := domain.ParseKind(p.Kind)
		if !ok || k == domain.KindText {
			return nil, domain.Invalid("attachment.kind", "unknown kind %q", p.Kind)
		}
		att.Kind = k
	}
	return att, nil
}

// dispatch runs one client frame against the session. Failures already reach
// the client as error events, so only unknown frames are reported here.
func dispatch(ctx context.Context, s *chat.Session, env Envelope, emit func(chat.Event)) error {
	var err error
	switch env.Type {
	case TypeOpen:
		_, err = s.Open(ctx, env.PartnerID)
	case TypeClose:
		s.Close()
	case TypeSend:
		att, aerr := env.Attachment.ToAttachment()
		if aerr != nil {
			emit(chat.Event{Type: chat.EventError, Code: chat.CodeValidation, Error: aerr.Error()})
			return aerr
		}
		_, err = s.Send(ctx, chat.SendRequest{Text: env.Text, Attachment: att, ReplyToID: env.ReplyTo})
	case TypeMarkRead:
		_, err = s.MarkRead(ctx)
	case TypeRecordStart:
		err = s.StartRecording(ctx, media.Permission(env.Permission == "granted"), env.ContentType)
	case TypeRecordStop:
		_, err = s.StopRecording(ctx)
	case TypeRecordCancel:
		s.CancelRecording()
	case TypeRecordRetry:
		_, err = s.RetryVoice(ctx)
	case TypeRecordDiscard:
		s.DiscardVoice()
	default:
		err = domain.Invalid("type", "unknown frame type %q", env.Type)
		emit(chat.Event{Type: chat.EventError, Code: chat.CodeValidation, Error: err.Error()})
	}
	return err
}
