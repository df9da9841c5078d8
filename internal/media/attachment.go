package media

import (
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fathima-sithara/travel-chat/internal/domain"
)

// Attachment is raw media picked or recorded on the client, before upload.
type Attachment struct {
	Kind        domain.Kind
	Data        []byte
	ContentType string
	FileName    string
	// Duration is reported by the client; zero when unknown.
	Duration time.Duration
}

func (a *Attachment) Empty() bool {
	return a == nil || len(a.Data) == 0
}

// Detect sniffs the content type and maps it to a message kind.
func Detect(data []byte) (contentType string, kind domain.Kind, ok bool) {
	mt := mimetype.Detect(data)
	contentType = mt.String()
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return contentType, domain.KindImage, true
		case strings.HasPrefix(m.String(), "video/"):
			return contentType, domain.KindVideo, true
		case strings.HasPrefix(m.String(), "audio/"):
			return contentType, domain.KindVoice, true
		}
	}
	return contentType, "", false
}

// Extension returns a file extension for the content type, including the dot.
func Extension(contentType string) string {
	if mt := mimetype.Lookup(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])); mt != nil {
		return mt.Extension()
	}
	return ".bin"
}
