// Package storage provides the browser's localStorage and sessionStorage as
// app services.
//
// Values are strings at the bottom. GetItem and SetItem layer JSON on top so
// typed values round trip the same way the browser side of the app reads
// them.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cdr.dev/slog"

	"oss.terrastruct.com/muse/lib/log"
)

var (
	ErrNotAvailable = errors.New("storage is not available")
	ErrEmptyKey     = errors.New("key must not be empty")
)

// ChangedEvent is delivered after a successful write. Clear reports a
// single event with an empty Key.
type ChangedEvent struct {
	Key      string
	OldValue string
	NewValue string
}

type Store interface {
	// Name is "local", "session" or "memory", plus any prefix.
	Name() string

	GetItemAsString(ctx context.Context, key string) (value string, ok bool, err error)
	SetItemAsString(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	RemoveItems(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
	Length(ctx context.Context) (int, error)
	// Key returns the i-th key in Keys order.
	Key(ctx context.Context, i int) (key string, ok bool, err error)
	Keys(ctx context.Context) ([]string, error)
	ContainKey(ctx context.Context, key string) (bool, error)

	// OnChanged registers fn for every change. Call the returned func to
	// stop receiving events.
	OnChanged(fn func(ChangedEvent)) (unsubscribe func())
}

// GetItem decodes the JSON stored at key into a T. A missing key returns
// the zero T and ok false.
func GetItem[T any](ctx context.Context, s Store, key string) (v T, ok bool, err error) {
	raw, ok, err := s.GetItemAsString(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	err = json.Unmarshal([]byte(raw), &v)
	if err != nil {
		return v, true, fmt.Errorf("failed to decode %s storage item %q: %w", s.Name(), key, err)
	}
	return v, true, nil
}

// SetItem stores v at key as JSON.
func SetItem[T any](ctx context.Context, s Store, key string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s storage item %q: %w", s.Name(), key, err)
	}
	return s.SetItemAsString(ctx, key, string(b))
}

// backend is what the browser and in-memory stores actually implement.
type backend interface {
	get(key string) (string, bool, error)
	set(key, value string) error
	remove(key string) error
	clear() error
	keys() ([]string, error)
}

type service struct {
	name string
	b    backend

	mu   sync.Mutex
	subs map[int]func(ChangedEvent)
	next int
}

var _ Store = &service{}

func newService(name string, b backend) *service {
	return &service{
		name: name,
		b:    b,
		subs: make(map[int]func(ChangedEvent)),
	}
}

func (s *service) Name() string {
	return s.name
}

func (s *service) GetItemAsString(ctx context.Context, key string) (string, bool, error) {
	if err := check(ctx, key); err != nil {
		return "", false, err
	}
	v, ok, err := s.b.get(key)
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s storage item %q: %w", s.name, key, err)
	}
	return v, ok, nil
}

func (s *service) SetItemAsString(ctx context.Context, key, value string) error {
	if err := check(ctx, key); err != nil {
		return err
	}
	old, _, err := s.b.get(key)
	if err != nil {
		return fmt.Errorf("failed to get %s storage item %q: %w", s.name, key, err)
	}
	err = s.b.set(key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s storage item %q: %w", s.name, key, err)
	}
	log.Debug(ctx, "storage item set", slog.F("store", s.name), slog.F("key", key))
	s.emit(ChangedEvent{Key: key, OldValue: old, NewValue: value})
	return nil
}

func (s *service) RemoveItem(ctx context.Context, key string) error {
	if err := check(ctx, key); err != nil {
		return err
	}
	old, ok, err := s.b.get(key)
	if err != nil {
		return fmt.Errorf("failed to get %s storage item %q: %w", s.name, key, err)
	}
	if !ok {
		return nil
	}
	err = s.b.remove(key)
	if err != nil {
		return fmt.Errorf("failed to remove %s storage item %q: %w", s.name, key, err)
	}
	s.emit(ChangedEvent{Key: key, OldValue: old})
	return nil
}

func (s *service) RemoveItems(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := s.RemoveItem(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.b.clear()
	if err != nil {
		return fmt.Errorf("failed to clear %s storage: %w", s.name, err)
	}
	log.Debug(ctx, "storage cleared", slog.F("store", s.name))
	s.emit(ChangedEvent{})
	return nil
}

func (s *service) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := s.b.keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s storage keys: %w", s.name, err)
	}
	return keys, nil
}

func (s *service) Length(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx)
	return len(keys), err
}

func (s *service) Key(ctx context.Context, i int) (string, bool, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return "", false, err
	}
	if i < 0 || i >= len(keys) {
		return "", false, nil
	}
	return keys[i], true, nil
}

func (s *service) ContainKey(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.GetItemAsString(ctx, key)
	return ok, err
}

func (s *service) OnChanged(fn func(ChangedEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *service) emit(ev ChangedEvent) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(ChangedEvent), len(ids))
	for i, id := range ids {
		fns[i] = s.subs[id]
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func check(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
