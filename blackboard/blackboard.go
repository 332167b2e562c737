// Package blackboard implements the hierarchical key/value store shared
// by the nodes of a behavior tree.
//
// Each subtree boundary introduces a new scope. A scope reaches its
// enclosing scope through its remapping table, name by name: keys that
// are not remapped stay private, and a scope never enumerates its
// parent's entries. The one exception is a scope in auto-remapping mode
// (see SetAutoRemap), where unremapped keys that are absent locally
// resolve through the parent chain, except keys with a leading
// underscore. Three remapping forms exist: identity (same key in
// the parent), rename (a different key in the parent), and literal (a
// fixed string; reads yield the literal, writes are rejected).
//
// Every write bumps a per-board monotonic sequence counter and stamps
// the written entry with it. Change-detection behaviors compare stamps,
// nothing else.
package blackboard

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kestrelrobotics/ticktree/value"
)

// ErrKeyNotFound is returned when a read references an unset key.
var ErrKeyNotFound = errors.New("blackboard key not found")

// ErrImmutableRemapping is returned when a write goes through a literal
// remapping.
var ErrImmutableRemapping = errors.New("write through literal remapping")

// ErrTypeMismatch mirrors value.ErrTypeMismatch for callers that only
// import this package.
var ErrTypeMismatch = value.ErrTypeMismatch

// Entry is one blackboard slot. Get returns copies of this struct; the
// Value itself is shared.
type Entry struct {
	Value      any
	Sequence   uint64
	LastWriter string
}

type remapRule struct {
	target  string
	literal bool
}

// Blackboard is one scope of the hierarchy. All methods are safe for
// concurrent use; external observers may snapshot while a tick is in
// progress.
type Blackboard struct {
	mu        sync.RWMutex
	seq       uint64
	entries   map[string]*Entry
	remap     map[string]remapRule
	parent    *Blackboard
	autoRemap bool
}

// New returns an empty top-level scope.
func New() *Blackboard {
	return &Blackboard{
		entries: map[string]*Entry{},
		remap:   map[string]remapRule{},
	}
}

// NewChild returns an empty scope whose remapped keys resolve in b.
func (b *Blackboard) NewChild() *Blackboard {
	child := New()
	child.parent = b
	return child
}

// Parent returns the enclosing scope, or nil at the top level.
func (b *Blackboard) Parent() *Blackboard {
	return b.parent
}

// Remap adds an identity or rename rule: reads and writes of local
// resolve to target in the parent scope.
func (b *Blackboard) Remap(local, target string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remap[local] = remapRule{target: target}
}

// RemapLiteral adds a literal rule: reads of local yield the literal
// string, writes fail with ErrImmutableRemapping.
func (b *Blackboard) RemapLiteral(local, literal string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remap[local] = remapRule{target: literal, literal: true}
}

// SetAutoRemap switches the scope into auto-remapping mode: keys that
// are absent locally and unremapped walk the parent chain, except
// private keys (leading underscore), which never escape their scope.
// This implements the _autoremap subtree attribute.
func (b *Blackboard) SetAutoRemap(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoRemap = enabled
}

// Get resolves key through the remapping table and returns a copy of
// its entry. Unremapped keys resolve locally, then through the parent
// chain when auto-remapping is on.
func (b *Blackboard) Get(key string) (Entry, error) {
	b.mu.RLock()
	rule, remapped := b.remap[key]
	if remapped {
		parent := b.parent
		b.mu.RUnlock()
		if rule.literal {
			return Entry{Value: rule.target}, nil
		}
		if parent == nil {
			return Entry{}, fmt.Errorf("%w: %q remapped to %q with no parent scope", ErrKeyNotFound, key, rule.target)
		}
		return parent.Get(rule.target)
	}
	e, ok := b.entries[key]
	if !ok && b.autoRemap && b.parent != nil && !isPrivate(key) {
		parent := b.parent
		b.mu.RUnlock()
		return parent.Get(key)
	}
	defer b.mu.RUnlock()
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return *e, nil
}

func isPrivate(key string) bool {
	return len(key) > 0 && key[0] == '_'
}

// Contains reports whether a Get of key would succeed.
func (b *Blackboard) Contains(key string) bool {
	_, err := b.Get(key)
	return err == nil
}

// Set writes key without a writer attribution. See SetFrom.
func (b *Blackboard) Set(key string, v any) error {
	return b.SetFrom("", key, v)
}

// SetFrom writes key on behalf of writer. A remapped key writes the
// parent's entry; a literal remapping rejects the write. The entry is
// stamped with the owning board's next sequence number, which is
// strictly monotonic for the board's lifetime.
func (b *Blackboard) SetFrom(writer, key string, v any) error {
	b.mu.Lock()
	rule, remapped := b.remap[key]
	if remapped {
		parent := b.parent
		b.mu.Unlock()
		if rule.literal {
			return fmt.Errorf("%w: %q is bound to literal %q", ErrImmutableRemapping, key, rule.target)
		}
		if parent == nil {
			return fmt.Errorf("%w: %q remapped to %q with no parent scope", ErrKeyNotFound, key, rule.target)
		}
		return parent.SetFrom(writer, rule.target, v)
	}
	if _, local := b.entries[key]; !local && b.autoRemap && b.parent != nil && !isPrivate(key) && b.parent.Contains(key) {
		parent := b.parent
		b.mu.Unlock()
		return parent.SetFrom(writer, key, v)
	}
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		if err := checkAssignable(e.Value, v); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	b.seq++
	b.entries[key] = &Entry{Value: v, Sequence: b.seq, LastWriter: writer}
	return nil
}

// Unset removes key. Through a rename remapping it removes the parent's
// entry; a literal remapping rejects the removal. Unsetting an absent
// key is not an error.
func (b *Blackboard) Unset(key string) error {
	b.mu.Lock()
	rule, remapped := b.remap[key]
	if remapped {
		parent := b.parent
		b.mu.Unlock()
		if rule.literal {
			return fmt.Errorf("%w: %q is bound to literal %q", ErrImmutableRemapping, key, rule.target)
		}
		if parent == nil {
			return nil
		}
		return parent.Unset(rule.target)
	}
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

// SequenceOf returns the sequence stamp of key's entry. Literal
// remappings are never written, so their stamp is always zero.
func (b *Blackboard) SequenceOf(key string) (uint64, error) {
	e, err := b.Get(key)
	if err != nil {
		return 0, err
	}
	return e.Sequence, nil
}

// WasUpdatedSince reports whether key was written after the given
// stamp. Absent keys report false.
func (b *Blackboard) WasUpdatedSince(key string, stamp uint64) bool {
	e, err := b.Get(key)
	if err != nil {
		return false
	}
	return e.Sequence > stamp
}

// Keys returns the keys set locally in this scope, in no particular
// order. Remapped and parent keys are not included.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a shallow copy of the local entries, for monitors
// and debugging. Mutable values are shared with the live board.
func (b *Blackboard) Snapshot() map[string]Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Entry, len(b.entries))
	for k, e := range b.entries {
		out[k] = *e
	}
	return out
}

// GetTyped reads key and converts the entry to T, re-parsing string
// entries through T's registered converter. A value of the wrong
// registered type fails with ErrTypeMismatch.
func GetTyped[T any](b *Blackboard, key string) (T, error) {
	var zero T
	e, err := b.Get(key)
	if err != nil {
		return zero, err
	}
	t, err := value.As[T](e.Value)
	if err != nil {
		return zero, fmt.Errorf("key %q: %w", key, err)
	}
	return t, nil
}

// checkAssignable rejects overwriting a typed entry with a value of a
// different registered type. String entries are untyped literals and
// may be replaced by (or replace) any type.
func checkAssignable(old, new any) error {
	if _, ok := old.(string); ok {
		return nil
	}
	if _, ok := new.(string); ok {
		return nil
	}
	oldTag, okOld := value.TagOf(old)
	newTag, okNew := value.TagOf(new)
	if okOld && okNew && oldTag != newTag {
		return fmt.Errorf("%w: entry holds %s, write is %s", ErrTypeMismatch, oldTag, newTag)
	}
	return nil
}
