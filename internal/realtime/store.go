// Package realtime is the document store the chat is built on: a tree of JSON
// nodes addressed by slash-separated paths, with push, multi-field update and
// snapshot subscriptions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("invalid path")

// Child is one direct child of a node.
type Child struct {
	Key   string
	Value json.RawMessage
}

// Snapshot is the full state of a path at one point in time: the node value
// (nil when absent) and its direct children ordered by key.
type Snapshot struct {
	Path     string
	Value    json.RawMessage
	Children []Child
}

func (s Snapshot) Exists() bool {
	return len(s.Value) > 0 || len(s.Children) > 0
}

// Store is the remote document store boundary.
//
// Subscribe delivers the current snapshot right away and again after every
// change at or below path. Once the returned cancel func returns, fn is never
// called again. cancel must not be called from inside fn.
//
// UpdateIfNewer is Update guarded by a numeric field: fields are merged only
// when the node's current value of field is missing or not greater than at.
// It reports whether the write was applied.
type Store interface {
	Push(ctx context.Context, path string, value any) (string, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	UpdateIfNewer(ctx context.Context, path, field string, at int64, fields map[string]any) (bool, error)
	Get(ctx context.Context, path string) (Snapshot, error)
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error)
}

func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || strings.ContainsAny(seg, ".$#[]") {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

func parentOf(path string) (parent, key string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// lineage lists path followed by each of its ancestors.
func lineage(path string) []string {
	out := []string{path}
	for {
		parent, _ := parentOf(path)
		if parent == "" {
			return out
		}
		out = append(out, parent)
		path = parent
	}
}

func validateFields(fields map[string]any) error {
	if len(fields) == 0 {
		return errors.New("update needs at least one field")
	}
	for k := range fields {
		if k == "" || strings.ContainsAny(k, "./$") {
			return fmt.Errorf("invalid field name %q", k)
		}
	}
	return nil
}
