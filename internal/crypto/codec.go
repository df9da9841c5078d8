// Package crypto encrypts chat text and media references at rest.
//
// The key for a conversation is derived from an application-wide secret and the
// conversation id, so both participants compute it without any key exchange. The
// secret ships with every client, which makes this obfuscation against casual
// inspection of stored data. It is not end-to-end encryption and must not be
// described as such.
package crypto

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/fathima-sithara/travel-chat/internal/metrics"
)

const (
	// Prefix marks a value written by this codec.
	Prefix = "enc1:"

	UnreadablePlaceholder = "[message could not be decrypted]"

	defaultCacheSize = 512
)

var (
	ErrNotEncrypted = errors.New("value is not encrypted")
	ErrNoSecret     = errors.New("encryption secret is empty")
)

type Codec struct {
	secret []byte
	cache  *lru.Cache
	log    *zap.SugaredLogger
}

func NewCodec(secret string, log *zap.SugaredLogger) (*Codec, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cache, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, err
	}
	return &Codec{secret: []byte(secret), cache: cache, log: log}, nil
}

func (c *Codec) aead(conversationID string) (cipher.AEAD, error) {
	if v, ok := c.cache.Get(conversationID); ok {
		return v.(cipher.AEAD), nil
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, c.secret, nil, []byte("chat:"+conversationID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	a, err := NewGCM(key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(conversationID, a)
	return a, nil
}

// Seal is the strict form of Encrypt.
func (c *Codec) Seal(plaintext, conversationID string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	a, err := c.aead(conversationID)
	if err != nil {
		return "", err
	}
	out, err := seal(a, []byte(plaintext), []byte(conversationID))
	if err != nil {
		return "", err
	}
	return Prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open is the strict form of Decrypt.
func (c *Codec) Open(ciphertext, conversationID string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if !strings.HasPrefix(ciphertext, Prefix) {
		return "", ErrNotEncrypted
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, Prefix))
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	a, err := c.aead(conversationID)
	if err != nil {
		return "", err
	}
	pt, err := open(a, raw, []byte(conversationID))
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Encrypt never fails. If sealing breaks it logs and returns the plaintext,
// which will then be stored unencrypted.
func (c *Codec) Encrypt(plaintext, conversationID string) string {
	out, err := c.Seal(plaintext, conversationID)
	if err != nil {
		c.log.Errorw("encrypt failed, storing plaintext", "conversation", conversationID, "err", err)
		metrics.EncryptFallbacks.Inc()
		return plaintext
	}
	return out
}

// Decrypt never fails. Values that cannot be opened come back as UnreadablePlaceholder.
func (c *Codec) Decrypt(ciphertext, conversationID string) string {
	out, err := c.Open(ciphertext, conversationID)
	if err != nil {
		c.log.Warnw("decrypt failed", "conversation", conversationID, "err", err)
		metrics.DecryptFailures.Inc()
		return UnreadablePlaceholder
	}
	return out
}
