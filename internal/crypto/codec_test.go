package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, secret string) *Codec {
	t.Helper()
	c, err := NewCodec(secret, nil)
	require.NoError(t, err)
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t, "app-secret")

	for _, pt := range []string{"Hola", "¿Cómo estás? 🌋", "https://cdn.example.com/a.jpg", strings.Repeat("x", 4096)} {
		ct := c.Encrypt(pt, "alice_bob")
		assert.True(t, strings.HasPrefix(ct, Prefix))
		assert.NotContains(t, ct, pt)
		assert.Equal(t, pt, c.Decrypt(ct, "alice_bob"))
	}
}

func TestCodec_EmptyString(t *testing.T) {
	c := newTestCodec(t, "app-secret")

	assert.Equal(t, "", c.Encrypt("", "alice_bob"))
	assert.Equal(t, "", c.Decrypt("", "alice_bob"))
}

func TestCodec_SameKeyAcrossInstances(t *testing.T) {
	a := newTestCodec(t, "app-secret")
	b := newTestCodec(t, "app-secret")

	ct := a.Encrypt("Hola", "alice_bob")
	assert.Equal(t, "Hola", b.Decrypt(ct, "alice_bob"))
}

func TestCodec_Unreadable(t *testing.T) {
	c := newTestCodec(t, "app-secret")
	ct := c.Encrypt("Hola", "alice_bob")

	t.Run("other conversation key", func(t *testing.T) {
		assert.Equal(t, UnreadablePlaceholder, c.Decrypt(ct, "alice_carol"))
	})

	t.Run("other secret", func(t *testing.T) {
		other := newTestCodec(t, "different")
		assert.Equal(t, UnreadablePlaceholder, other.Decrypt(ct, "alice_bob"))
	})

	t.Run("plaintext stored by mistake", func(t *testing.T) {
		assert.Equal(t, UnreadablePlaceholder, c.Decrypt("Hola", "alice_bob"))
		_, err := c.Open("Hola", "alice_bob")
		assert.ErrorIs(t, err, ErrNotEncrypted)
	})

	t.Run("corrupted", func(t *testing.T) {
		assert.Equal(t, UnreadablePlaceholder, c.Decrypt(Prefix+"!!!not-base64", "alice_bob"))
		assert.Equal(t, UnreadablePlaceholder, c.Decrypt(Prefix+"AAAA", "alice_bob"))

		tampered := ct[:len(ct)-4] + "AAAA"
		if tampered == ct {
			tampered = ct[:len(ct)-4] + "BBBB"
		}
		assert.Equal(t, UnreadablePlaceholder, c.Decrypt(tampered, "alice_bob"))
	})
}

func TestNewCodec_RequiresSecret(t *testing.T) {
	_, err := NewCodec("", nil)
	assert.ErrorIs(t, err, ErrNoSecret)
}
