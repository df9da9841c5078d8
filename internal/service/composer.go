package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/travel-chat/internal/domain"
	"github.com/fathima-sithara/travel-chat/internal/media"
	"github.com/fathima-sithara/travel-chat/internal/users"
)

const snippetRunes = 100

type Limits struct {
	MaxImageDimension int
	MaxImageBytes     int64
	MaxVideoBytes     int64
	MaxVideoDuration  time.Duration
	MaxVoiceBytes     int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxImageDimension: 1280,
		MaxImageBytes:     20 << 20,
		MaxVideoBytes:     25 << 20,
		MaxVideoDuration:  60 * time.Second,
		MaxVoiceBytes:     5 << 20,
	}
}

// Draft is what the user has typed, attached and chosen to reply to.
type Draft struct {
	ConversationID string
	SenderID       string
	Text           string
	Attachment     *media.Attachment
	// ReplyTo is the replied message as the sender sees it right now.
	ReplyTo *domain.MessageView
}

type Composer struct {
	uploader media.Uploader
	users    users.Directory
	limits   Limits
	log      *zap.SugaredLogger
}

func NewComposer(uploader media.Uploader, dir users.Directory, limits Limits, log *zap.SugaredLogger) *Composer {
	if dir == nil {
		dir = users.StaticDirectory{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Composer{uploader: uploader, users: dir, limits: limits, log: log}
}

// Compose validates a draft, uploads its attachment and returns the append request.
// Validation runs before any upload; a rejected draft has no side effects.
func (c *Composer) Compose(ctx context.Context, d Draft) (*AppendRequest, error) {
	text := strings.TrimSpace(d.Text)
	att := d.Attachment
	if att.Empty() {
		att = nil
	}
	if text == "" && att == nil {
		return nil, domain.ErrEmptyMessage
	}

	req := &AppendRequest{
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Kind:           domain.KindText,
		Text:           text,
	}
	if d.ReplyTo != nil {
		req.ReplyTo = c.quote(ctx, d.ReplyTo)
	}
	if att == nil {
		return req, nil
	}

	data, contentType, kind, err := c.prepare(att)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("chat/%s/%s%s", d.ConversationID, uuid.NewString(), media.Extension(contentType))
	ref, err := c.uploader.Upload(ctx, key, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", kind, err)
	}
	req.Kind = kind
	req.MediaRef = ref
	return req, nil
}

// quote copies the replied message by value. Later changes to the original do
// not reach the reply.
func (c *Composer) quote(ctx context.Context, m *domain.MessageView) *domain.ReplyRef {
	return &domain.ReplyRef{
		MessageID:  m.ID,
		Snippet:    domain.Truncate(m.DisplayText(), snippetRunes),
		SenderName: c.users.Profile(ctx, m.SenderID).DisplayName,
	}
}

// compatible reports whether content sniffed as detected may be sent as kind.
// Voice notes come in webm, ogg and mp4 containers, which sniff as video.
func compatible(kind, detected domain.Kind) bool {
	if kind == detected {
		return true
	}
	return kind == domain.KindVoice && detected == domain.KindVideo
}

func (c *Composer) prepare(att *media.Attachment) ([]byte, string, domain.Kind, error) {
	sniffed, detected, ok := media.Detect(att.Data)
	kind := att.Kind
	switch {
	case kind == "":
		if !ok {
			return nil, "", "", domain.Invalid("attachment", "unsupported file type %s", sniffed)
		}
		kind = detected
	case ok && !compatible(kind, detected):
		return nil, "", "", fmt.Errorf("%w: declared %s, content is %s", domain.ErrKindMismatch, kind, sniffed)
	}
	contentType := att.ContentType
	if contentType == "" {
		contentType = sniffed
	}
	size := int64(len(att.Data))

	switch kind {
	case domain.KindImage:
		if c.limits.MaxImageBytes > 0 && size > c.limits.MaxImageBytes {
			return nil, "", "", domain.Invalid("image", "is %s, the limit is %s", humanBytes(size), humanBytes(c.limits.MaxImageBytes))
		}
		out, err := media.Downsample(att.Data, c.limits.MaxImageDimension)
		if err != nil {
			return nil, "", "", domain.Invalid("image", "cannot be read: %v", err)
		}
		return out, "image/jpeg", kind, nil

	case domain.KindVideo:
		if c.limits.MaxVideoBytes > 0 && size > c.limits.MaxVideoBytes {
			return nil, "", "", domain.Invalid("video", "is %s, the limit is %s", humanBytes(size), humanBytes(c.limits.MaxVideoBytes))
		}
		if c.limits.MaxVideoDuration > 0 && att.Duration > c.limits.MaxVideoDuration {
			return nil, "", "", domain.Invalid("video", "is %s long, the limit is %s",
				att.Duration.Round(time.Second), c.limits.MaxVideoDuration)
		}
		return att.Data, contentType, kind, nil

	case domain.KindVoice:
		if c.limits.MaxVoiceBytes > 0 && size > c.limits.MaxVoiceBytes {
			return nil, "", "", domain.Invalid("voice note", "is %s, the limit is %s", humanBytes(size), humanBytes(c.limits.MaxVoiceBytes))
		}
		return att.Data, contentType, kind, nil
	}
	return nil, "", "", domain.Invalid("attachment", "unsupported kind %q", kind)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
