package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/travel-chat/internal/domain"
	"github.com/fathima-sithara/travel-chat/internal/media"
	"github.com/fathima-sithara/travel-chat/internal/users"
)

type fakeUploader struct {
	calls       int
	key         string
	contentType string
	data        []byte
	err         error
}

func (u *fakeUploader) Upload(_ context.Context, key, contentType string, data []byte) (string, error) {
	u.calls++
	u.key, u.contentType, u.data = key, contentType, data
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.test/" + key, nil
}

func newComposer(up *fakeUploader) *Composer {
	limits := Limits{
		MaxImageDimension: 200,
		MaxVideoBytes:     1024,
		MaxVideoDuration:  30 * time.Second,
		MaxVoiceBytes:     1024,
	}
	return NewComposer(up, users.StaticDirectory{"ana": {DisplayName: "Ana"}}, limits, nil)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.NRGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompose_Empty(t *testing.T) {
	up := &fakeUploader{}
	c := newComposer(up)

	for _, d := range []Draft{
		{ConversationID: "ana_beto", SenderID: "ana"},
		{ConversationID: "ana_beto", SenderID: "ana", Text: "  \n "},
		{ConversationID: "ana_beto", SenderID: "ana", Attachment: &media.Attachment{Kind: domain.KindImage}},
	} {
		req, err := c.Compose(context.Background(), d)
		assert.ErrorIs(t, err, domain.ErrEmptyMessage)
		assert.Nil(t, req)
	}
	assert.Zero(t, up.calls)
}

func TestCompose_Text(t *testing.T) {
	c := newComposer(&fakeUploader{})
	req, err := c.Compose(context.Background(), Draft{ConversationID: "ana_beto", SenderID: "ana", Text: "  Hola  "})
	require.NoError(t, err)
	assert.Equal(t, "Hola", req.Text)
	assert.Equal(t, domain.KindText, req.Kind)
	assert.Empty(t, req.MediaRef)
}

func TestCompose_ImageIsBounded(t *testing.T) {
	up := &fakeUploader{}
	c := newComposer(up)

	req, err := c.Compose(context.Background(), Draft{
		ConversationID: "ana_beto",
		SenderID:       "ana",
		Attachment:     &media.Attachment{Data: testPNG(t, 800, 400)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.KindImage, req.Kind)
	assert.Equal(t, "", req.Text)
	assert.True(t, strings.HasPrefix(req.MediaRef, "https://cdn.test/chat/ana_beto/"))
	assert.Equal(t, "image/jpeg", up.contentType)

	img, err := imaging.Decode(bytes.NewReader(up.data))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestCompose_VideoLimits(t *testing.T) {
	video := append([]byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2'}, make([]byte, 100)...)

	t.Run("too large", func(t *testing.T) {
		up := &fakeUploader{}
		_, err := newComposer(up).Compose(context.Background(), Draft{
			ConversationID: "ana_beto", SenderID: "ana",
			Attachment: &media.Attachment{Kind: domain.KindVideo, Data: make([]byte, 2048)},
		})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Error(), "limit is 1.0 KB")
		assert.Zero(t, up.calls)
	})

	t.Run("too long", func(t *testing.T) {
		up := &fakeUploader{}
		_, err := newComposer(up).Compose(context.Background(), Draft{
			ConversationID: "ana_beto", SenderID: "ana",
			Attachment: &media.Attachment{Kind: domain.KindVideo, Data: video, Duration: 45 * time.Second},
		})
		require.True(t, domain.IsValidation(err))
		assert.Contains(t, err.Error(), "45s long")
		assert.Zero(t, up.calls)
	})

	t.Run("within limits", func(t *testing.T) {
		up := &fakeUploader{}
		req, err := newComposer(up).Compose(context.Background(), Draft{
			ConversationID: "ana_beto", SenderID: "ana", Text: "mira",
			Attachment: &media.Attachment{Kind: domain.KindVideo, Data: video, Duration: 10 * time.Second},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.KindVideo, req.Kind)
		assert.Equal(t, "mira", req.Text)
		assert.Equal(t, video, up.data)
	})
}

func TestCompose_DeclaredKindMustMatchContent(t *testing.T) {
	mp4 := append([]byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2'}, make([]byte, 100)...)
	photo := testPNG(t, 10, 10)

	tests := []struct {
		name string
		att  *media.Attachment
		ok   bool
	}{
		{"png sent as video", &media.Attachment{Kind: domain.KindVideo, Data: photo}, false},
		{"mp4 sent as image", &media.Attachment{Kind: domain.KindImage, Data: mp4}, false},
		{"png sent as voice", &media.Attachment{Kind: domain.KindVoice, Data: photo}, false},
		{"mp4 sent as voice", &media.Attachment{Kind: domain.KindVoice, Data: mp4, ContentType: "audio/mp4"}, true},
		{"unknown bytes keep the declared kind", &media.Attachment{Kind: domain.KindVideo, Data: make([]byte, 64)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUploader{}
			_, err := newComposer(up).Compose(context.Background(), Draft{
				ConversationID: "ana_beto", SenderID: "ana", Attachment: tt.att,
			})
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, 1, up.calls)
				return
			}
			assert.ErrorIs(t, err, domain.ErrKindMismatch)
			assert.True(t, domain.IsValidation(err))
			assert.Zero(t, up.calls)
		})
	}
}

func TestCompose_UploadFailurePropagates(t *testing.T) {
	up := &fakeUploader{err: errors.New("bucket unreachable")}
	_, err := newComposer(up).Compose(context.Background(), Draft{
		ConversationID: "ana_beto", SenderID: "ana",
		Attachment: &media.Attachment{Kind: domain.KindVoice, Data: []byte("OggS voice"), ContentType: "audio/ogg"},
	})
	require.Error(t, err)
	assert.False(t, domain.IsValidation(err))
	assert.Equal(t, "audio/ogg", up.contentType)
}

func TestCompose_ReplyIsCopiedByValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := newComposer(&fakeUploader{})
	id, _ := f.dir.Ensure(ctx, "ana", "beto")

	orig, err := f.msgs.Append(ctx, AppendRequest{ConversationID: id, SenderID: "ana", Text: "¿Quito o Cuenca?"})
	require.NoError(t, err)
	photo, err := f.msgs.Append(ctx, AppendRequest{ConversationID: id, SenderID: "ana", Kind: domain.KindImage, MediaRef: "https://cdn/p.jpg"})
	require.NoError(t, err)

	stored, _ := f.msgs.List(ctx, id)
	views := f.msgs.Decode(id, stored)

	req, err := c.Compose(ctx, Draft{ConversationID: id, SenderID: "beto", Text: "Cuenca", ReplyTo: &views[0]})
	require.NoError(t, err)
	assert.Equal(t, &domain.ReplyRef{MessageID: orig.ID, Snippet: "¿Quito o Cuenca?", SenderName: "Ana"}, req.ReplyTo)
	reply, err := f.msgs.Append(ctx, *req)
	require.NoError(t, err)

	req, err = c.Compose(ctx, Draft{ConversationID: id, SenderID: "beto", Text: "linda", ReplyTo: &views[1]})
	require.NoError(t, err)
	assert.Equal(t, photo.ID, req.ReplyTo.MessageID)
	assert.Equal(t, "[photo]", req.ReplyTo.Snippet)

	// rewrite the original in place; the quote must not follow
	require.NoError(t, f.mem.Update(ctx, MessagePath(id, orig.ID), map[string]any{"text": f.codec.Encrypt("editado", id)}))

	stored, _ = f.msgs.List(ctx, id)
	for _, v := range f.msgs.Decode(id, stored) {
		switch v.ID {
		case orig.ID:
			assert.Equal(t, "editado", v.Text)
		case reply.ID:
			require.NotNil(t, v.ReplyTo)
			assert.Equal(t, "¿Quito o Cuenca?", v.ReplyTo.Snippet)
		}
	}
}

func TestCompose_LongReplySnippetIsTruncated(t *testing.T) {
	c := newComposer(&fakeUploader{})
	long := strings.Repeat("á", 150)
	req, err := c.Compose(context.Background(), Draft{
		ConversationID: "ana_beto", SenderID: "beto", Text: "ok",
		ReplyTo: &domain.MessageView{ID: "m1", SenderID: "zoe", Kind: domain.KindText, Text: long},
	})
	require.NoError(t, err)
	assert.Equal(t, 101, len([]rune(req.ReplyTo.Snippet)))
	assert.Equal(t, "zoe", req.ReplyTo.SenderName)
}
