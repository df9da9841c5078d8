package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) fn(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) last() (Snapshot, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}, 0
	}
	return r.snaps[len(r.snaps)-1], len(r.snaps)
}

func TestMemoryStore_PushOrdersChildren(t *testing.T) {
	ctx := context.Background()
	fixed := time.UnixMilli(1_700_000_000_000)
	s := NewMemoryStore(nil, WithClock(func() time.Time { return fixed }))

	var keys []string
	for i := 0; i < 50; i++ {
		k, err := s.Push(ctx, "messages/a_b", map[string]any{"n": i})
		require.NoError(t, err)
		keys = append(keys, k)
	}

	snap, err := s.Get(ctx, "messages/a_b")
	require.NoError(t, err)
	require.Len(t, snap.Children, 50)
	for i, c := range snap.Children {
		assert.Equal(t, keys[i], c.Key)
		var v struct{ N int }
		require.NoError(t, json.Unmarshal(c.Value, &v))
		assert.Equal(t, i, v.N)
	}
}

func TestMemoryStore_UpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	require.NoError(t, s.Set(ctx, "chats/a_b", map[string]any{"participants": []string{"a", "b"}, "last_message": ""}))
	require.NoError(t, s.Update(ctx, "chats/a_b", map[string]any{"last_message": "x", "last_activity": 5}))

	snap, err := s.Get(ctx, "chats/a_b")
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(snap.Value, &v))
	assert.Equal(t, "x", v["last_message"])
	assert.EqualValues(t, 5, v["last_activity"])
	assert.Len(t, v["participants"], 2)
}

func TestMemoryStore_UpdateIfNewer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	read := func() map[string]any {
		snap, err := s.Get(ctx, "chats/a_b")
		require.NoError(t, err)
		var v map[string]any
		require.NoError(t, json.Unmarshal(snap.Value, &v))
		return v
	}

	ok, err := s.UpdateIfNewer(ctx, "chats/a_b", "last_activity", 10, map[string]any{"last_message": "b", "last_activity": 10})
	require.NoError(t, err)
	assert.True(t, ok, "missing guard applies")

	ok, err = s.UpdateIfNewer(ctx, "chats/a_b", "last_activity", 9, map[string]any{"last_message": "a", "last_activity": 9})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "b", read()["last_message"])
	assert.EqualValues(t, 10, read()["last_activity"])

	ok, err = s.UpdateIfNewer(ctx, "chats/a_b", "last_activity", 10, map[string]any{"last_message": "c", "last_activity": 10})
	require.NoError(t, err)
	assert.True(t, ok, "equal timestamps apply")
	assert.Equal(t, "c", read()["last_message"])

	_, err = s.UpdateIfNewer(ctx, "chats/a_b", "", 1, map[string]any{"x": 1})
	assert.Error(t, err)
}

func TestMemoryStore_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	for _, p := range []string{"", "/chats", "chats/", "chats//x", "chats/a.b"} {
		assert.ErrorIs(t, s.Set(ctx, p, map[string]any{}), ErrInvalidPath, p)
	}
	assert.Error(t, s.Update(ctx, "chats/x", nil))
	assert.Error(t, s.Update(ctx, "chats/x", map[string]any{"a.b": 1}))
}

func TestMemoryStore_Get_Missing(t *testing.T) {
	s := NewMemoryStore(nil)
	snap, err := s.Get(context.Background(), "chats/none")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestMemoryStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.Set(ctx, "chats/a_b", map[string]any{"last_message": "one"}))

	rec := &recorder{}
	cancel, err := s.Subscribe(ctx, "chats", rec.fn)
	require.NoError(t, err)
	defer cancel()

	t.Run("initial snapshot", func(t *testing.T) {
		require.Eventually(t, func() bool {
			snap, n := rec.last()
			return n >= 1 && len(snap.Children) == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("descendant change", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "chats/a_c", map[string]any{"last_message": "two"}))
		require.Eventually(t, func() bool {
			snap, _ := rec.last()
			return len(snap.Children) == 2
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("unrelated path is ignored", func(t *testing.T) {
		_, before := rec.last()
		require.NoError(t, s.Set(ctx, "users/a", map[string]any{"name": "A"}))
		time.Sleep(30 * time.Millisecond)
		_, after := rec.last()
		assert.Equal(t, before, after)
	})
}

func TestMemoryStore_NoCallbackAfterCancel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	rec := &recorder{}
	cancel, err := s.Subscribe(ctx, "messages/a_b", rec.fn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, n := rec.last(); return n >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.Subscriptions())

	cancel()
	cancel()
	_, n := rec.last()
	for i := 0; i < 10; i++ {
		_, err := s.Push(ctx, "messages/a_b", map[string]any{"i": i})
		require.NoError(t, err)
	}
	time.Sleep(30 * time.Millisecond)

	_, after := rec.last()
	assert.Equal(t, n, after)
	assert.Equal(t, 0, s.Subscriptions())
}

func TestLineage(t *testing.T) {
	assert.Equal(t, []string{"messages/a_b/X", "messages/a_b", "messages"}, lineage("messages/a_b/X"))
	assert.Equal(t, []string{"chats"}, lineage("chats"))
}
