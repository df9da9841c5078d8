// Package livesync holds the live subscriptions of one chat screen. Each named
// slot has at most one subscription; watching a slot again tears the old one
// down first.
package livesync

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/fathima-sithara/travel-chat/internal/metrics"
	"github.com/fathima-sithara/travel-chat/internal/realtime"
)

const (
	SlotConversations = "conversations"
	SlotMessages      = "messages"
)

var ErrClosed = errors.New("live sync client closed")

type Client struct {
	ctx   context.Context
	store realtime.Store
	log   *zap.SugaredLogger

	mu     sync.Mutex
	slots  map[string]slot
	closed bool
}

type slot struct {
	path   string
	cancel func()
}

func New(ctx context.Context, store realtime.Store, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{ctx: ctx, store: store, log: log, slots: make(map[string]slot)}
}

// Watch subscribes fn to path under name. Any earlier subscription in the same
// slot is cancelled before this returns, so its callback never runs again.
// Must not be called from inside a callback of this client.
func (c *Client) Watch(name, path string, fn func(realtime.Snapshot)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.stopLocked(name)

	cancel, err := c.store.Subscribe(c.ctx, path, fn)
	if err != nil {
		return err
	}
	c.slots[name] = slot{path: path, cancel: cancel}
	metrics.Subscriptions.Inc()
	c.log.Debugw("subscribed", "slot", name, "path", path)
	return nil
}

func (c *Client) Stop(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(name)
}

func (c *Client) stopLocked(name string) {
	s, ok := c.slots[name]
	if !ok {
		return
	}
	s.cancel()
	delete(c.slots, name)
	metrics.Subscriptions.Dec()
	c.log.Debugw("unsubscribed", "slot", name, "path", s.path)
}

// Path reports what a slot is subscribed to.
func (c *Client) Path(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[name]
	return s.path, ok
}

// Close cancels every slot. Later Watch calls fail with ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.slots {
		c.stopLocked(name)
	}
	c.closed = true
}
