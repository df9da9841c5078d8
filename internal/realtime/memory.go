package realtime

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// keyGen produces push keys that sort in creation order, also within one millisecond.
type keyGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

func newKeyGen(now func() time.Time) *keyGen {
	if now == nil {
		now = time.Now
	}
	return &keyGen{entropy: ulid.Monotonic(rand.Reader, 0), now: now}
}

func (g *keyGen) next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MemoryStore keeps the tree in process. Used in tests and single-node dev runs.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]json.RawMessage
	children map[string]map[string]struct{}
	keys     *keyGen
	hub      *hub
}

type MemoryOption func(*MemoryStore)

// WithClock sets the clock used for push keys.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.keys = newKeyGen(now) }
}

func NewMemoryStore(log *zap.SugaredLogger, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		nodes:    make(map[string]json.RawMessage),
		children: make(map[string]map[string]struct{}),
		keys:     newKeyGen(nil),
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = newHub(s.Get, log)
	return s
}

func (s *MemoryStore) Push(ctx context.Context, path string, value any) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	key, err := s.keys.next()
	if err != nil {
		return "", fmt.Errorf("push key: %w", err)
	}
	if err := s.Set(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	s.mu.Lock()
	s.put(path, b)
	s.mu.Unlock()
	s.hub.notify(path)
	return nil
}

// Update merges fields into the node in one step.
func (s *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	_, err := s.merge(ctx, path, "", 0, fields)
	return err
}

func (s *MemoryStore) UpdateIfNewer(ctx context.Context, path, field string, at int64, fields map[string]any) (bool, error) {
	if field == "" {
		return false, errors.New("guard field is required")
	}
	return s.merge(ctx, path, field, at, fields)
}

// merge applies fields under the lock. A non-empty guard skips the write when
// the node's guard value is greater than at.
func (s *MemoryStore) merge(ctx context.Context, path, guard string, at int64, fields map[string]any) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	if err := validateFields(fields); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	doc := map[string]json.RawMessage{}
	if cur, ok := s.nodes[path]; ok {
		if err := json.Unmarshal(cur, &doc); err != nil {
			s.mu.Unlock()
			return false, fmt.Errorf("update %s: node is not an object: %w", path, err)
		}
	}
	if guard != "" {
		var cur int64
		if raw, ok := doc[guard]; ok && json.Unmarshal(raw, &cur) == nil && cur > at {
			s.mu.Unlock()
			return false, nil
		}
	}
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			s.mu.Unlock()
			return false, fmt.Errorf("encode %s.%s: %w", path, k, err)
		}
		doc[k] = b
	}
	b, err := json.Marshal(doc)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.put(path, b)
	s.mu.Unlock()

	s.hub.notify(path)
	return true, nil
}

func (s *MemoryStore) put(path string, b json.RawMessage) {
	s.nodes[path] = b
	for p := path; ; {
		parent, key := parentOf(p)
		if parent == "" {
			return
		}
		if s.children[parent] == nil {
			s.children[parent] = make(map[string]struct{})
		}
		s.children[parent][key] = struct{}{}
		p = parent
	}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := validatePath(path); err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Path: path, Value: s.nodes[path]}
	keys := make([]string, 0, len(s.children[path]))
	for k := range s.children[path] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		snap.Children = append(snap.Children, Child{Key: k, Value: s.nodes[Join(path, k)]})
	}
	return snap, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	return s.hub.subscribe(ctx, path, fn)
}

// Subscriptions reports how many subscriptions are open.
func (s *MemoryStore) Subscriptions() int {
	return s.hub.count()
}
