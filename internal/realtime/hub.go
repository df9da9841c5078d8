package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type loader func(ctx context.Context, path string) (Snapshot, error)

// hub fans change notifications out to subscriptions. Each subscription has its
// own goroutine; pending wakeups coalesce because every delivery re-reads the
// whole snapshot.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
	load loader
	log  *zap.SugaredLogger
}

type subscription struct {
	path string
	fn   func(Snapshot)
	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newHub(load loader, log *zap.SugaredLogger) *hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &hub{subs: make(map[string]map[*subscription]struct{}), load: load, log: log}
}

func (h *hub) subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	s := &subscription{
		path: path,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.wake <- struct{}{}

	h.mu.Lock()
	if h.subs[path] == nil {
		h.subs[path] = make(map[*subscription]struct{})
	}
	h.subs[path][s] = struct{}{}
	h.mu.Unlock()

	go h.run(context.WithoutCancel(ctx), s)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[path], s)
			if len(h.subs[path]) == 0 {
				delete(h.subs, path)
			}
			h.mu.Unlock()

			s.mu.Lock()
			s.closed = true
			close(s.done)
			s.mu.Unlock()
		})
	}
	return cancel, nil
}

func (h *hub) run(ctx context.Context, s *subscription) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		snap, err := h.load(ctx, s.path)
		if err != nil {
			// keep the last delivered snapshot; the next change retries
			h.log.Warnw("snapshot load failed", "path", s.path, "err", err)
			continue
		}
		s.mu.Lock()
		if !s.closed {
			s.fn(snap)
		}
		s.mu.Unlock()
	}
}

// notify wakes every subscription at path or at one of its ancestors.
func (h *hub) notify(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range lineage(path) {
		for s := range h.subs[p] {
			select {
			case s.wake <- struct{}{}:
			default:
			}
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}
