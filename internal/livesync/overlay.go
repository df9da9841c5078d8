package livesync

import "sync"

// Patch rewrites a view of the authoritative items.
type Patch[T any] func([]T) []T

// Overlay keeps optimistic local patches on top of the last authoritative
// snapshot. A new snapshot replaces the base and drops every patch; patches
// are never merged into the base.
type Overlay[T any] struct {
	mu      sync.Mutex
	base    []T
	patches []Patch[T]
}

// Reset installs a new authoritative snapshot and discards all patches.
func (o *Overlay[T]) Reset(base []T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.base = base
	o.patches = nil
}

func (o *Overlay[T]) Apply(p Patch[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.patches = append(o.patches, p)
}

// Append is a patch that shows item after the authoritative items.
func (o *Overlay[T]) Append(item T) {
	o.Apply(func(items []T) []T { return append(items, item) })
}

// Discard drops pending patches and keeps the base.
func (o *Overlay[T]) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.patches = nil
}

func (o *Overlay[T]) Base() []T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]T(nil), o.base...)
}

// View is the base with every pending patch applied, in order.
func (o *Overlay[T]) View() []T {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := append([]T(nil), o.base...)
	for _, p := range o.patches {
		out = p(out)
	}
	return out
}

func (o *Overlay[T]) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.patches)
}
