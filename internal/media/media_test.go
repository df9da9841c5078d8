package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/travel-chat/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDownsample(t *testing.T) {
	t.Run("bounds large image keeping aspect ratio", func(t *testing.T) {
		out, err := Downsample(pngBytes(t, 3000, 1500), 1000)
		require.NoError(t, err)

		img, err := imaging.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 1000, img.Bounds().Dx())
		assert.Equal(t, 500, img.Bounds().Dy())

		ct, kind, ok := Detect(out)
		assert.True(t, ok)
		assert.Equal(t, "image/jpeg", ct)
		assert.Equal(t, domain.KindImage, kind)
	})

	t.Run("small image keeps its size", func(t *testing.T) {
		out, err := Downsample(pngBytes(t, 40, 20), 1000)
		require.NoError(t, err)
		img, err := imaging.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 40, img.Bounds().Dx())
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := Downsample([]byte("hello"), 1000)
		assert.Error(t, err)
	})
}

func TestDataURLUploader(t *testing.T) {
	u := DataURLUploader{MaxBytes: 8}

	ref, err := u.Upload(context.Background(), "k", "audio/webm", []byte("abc"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "data:audio/webm;base64,"))

	_, err = u.Upload(context.Background(), "k", "audio/webm", []byte("0123456789"))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("permission denied leaves recorder idle", func(t *testing.T) {
		r := NewRecorder(0)
		err := r.Start(ctx, Permission(false), "audio/webm")
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.False(t, r.Recording())

		_, err = r.Write([]byte("x"))
		assert.ErrorIs(t, err, ErrNotRecording)
		_, err = r.Stop()
		assert.ErrorIs(t, err, ErrNotRecording)
	})

	t.Run("start chunks stop", func(t *testing.T) {
		r := NewRecorder(0)
		require.NoError(t, r.Start(ctx, Permission(true), "audio/webm"))
		assert.ErrorIs(t, r.Start(ctx, Permission(true), "audio/webm"), ErrAlreadyRecording)

		_, err := r.Write([]byte("abc"))
		require.NoError(t, err)
		_, err = r.Write([]byte("def"))
		require.NoError(t, err)

		att, err := r.Stop()
		require.NoError(t, err)
		assert.Equal(t, domain.KindVoice, att.Kind)
		assert.Equal(t, []byte("abcdef"), att.Data)
		assert.Equal(t, "audio/webm", att.ContentType)
		assert.False(t, r.Recording())
	})

	t.Run("empty clip", func(t *testing.T) {
		r := NewRecorder(0)
		require.NoError(t, r.Start(ctx, Permission(true), ""))
		_, err := r.Stop()
		assert.ErrorIs(t, err, ErrEmptyRecording)
	})

	t.Run("size cap and cancel", func(t *testing.T) {
		r := NewRecorder(4)
		require.NoError(t, r.Start(ctx, Permission(true), ""))
		_, err := r.Write([]byte("12345"))
		assert.ErrorIs(t, err, ErrRecordingTooLong)
		r.Cancel()
		assert.False(t, r.Recording())
	})
}
