package media

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fathima-sithara/travel-chat/internal/domain"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrEmptyRecording   = errors.New("recording is empty")
	ErrRecordingTooLong = errors.New("recording exceeds the size limit")
)

// Microphone grants or refuses capture. The client reports the browser's
// permission answer; the server never touches audio hardware.
type Microphone interface {
	Request(ctx context.Context) error
}

// Permission is a Microphone whose answer is already known.
type Permission bool

func (p Permission) Request(context.Context) error {
	if !p {
		return ErrPermissionDenied
	}
	return nil
}

// Recorder collects one voice note between a start and a stop gesture. There is
// no timer: a lost stop leaves it recording until Cancel.
type Recorder struct {
	mu          sync.Mutex
	recording   bool
	buf         bytes.Buffer
	contentType string
	started     time.Time
	maxBytes    int
	now         func() time.Time
}

func NewRecorder(maxBytes int) *Recorder {
	return &Recorder{maxBytes: maxBytes, now: time.Now}
}

func (r *Recorder) Start(ctx context.Context, mic Microphone, contentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}
	if err := mic.Request(ctx); err != nil {
		return err
	}
	r.recording = true
	r.buf.Reset()
	r.contentType = contentType
	r.started = r.now()
	return nil
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return 0, ErrNotRecording
	}
	if r.maxBytes > 0 && r.buf.Len()+len(p) > r.maxBytes {
		return 0, ErrRecordingTooLong
	}
	return r.buf.Write(p)
}

// Stop finalizes the clip into a single voice attachment.
func (r *Recorder) Stop() (*Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil, ErrNotRecording
	}
	r.recording = false
	if r.buf.Len() == 0 {
		return nil, ErrEmptyRecording
	}
	data := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()

	ct := r.contentType
	if ct == "" {
		ct, _, _ = Detect(data)
	}
	return &Attachment{
		Kind:        domain.KindVoice,
		Data:        data,
		ContentType: ct,
		Duration:    r.now().Sub(r.started),
	}, nil
}

func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.buf.Reset()
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}
