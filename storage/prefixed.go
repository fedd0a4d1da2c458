package storage

import (
	"context"
	"strings"
)

// Prefixed namespaces every key of s under prefix. Clear, Keys and Length
// only see keys under the prefix.
func Prefixed(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{s: s, prefix: prefix}
}

type prefixed struct {
	s      Store
	prefix string
}

func (p *prefixed) Name() string {
	return p.s.Name() + "[" + p.prefix + "]"
}

func (p *prefixed) key(k string) string {
	if k == "" {
		return ""
	}
	return p.prefix + k
}

func (p *prefixed) GetItemAsString(ctx context.Context, key string) (string, bool, error) {
	return p.s.GetItemAsString(ctx, p.key(key))
}

func (p *prefixed) SetItemAsString(ctx context.Context, key, value string) error {
	return p.s.SetItemAsString(ctx, p.key(key), value)
}

func (p *prefixed) RemoveItem(ctx context.Context, key string) error {
	return p.s.RemoveItem(ctx, p.key(key))
}

func (p *prefixed) RemoveItems(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := p.RemoveItem(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (p *prefixed) Clear(ctx context.Context) error {
	keys, err := p.Keys(ctx)
	if err != nil {
		return err
	}
	return p.RemoveItems(ctx, keys...)
}

func (p *prefixed) Keys(ctx context.Context) ([]string, error) {
	all, err := p.s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, p.prefix) && len(k) > len(p.prefix) {
			keys = append(keys, strings.TrimPrefix(k, p.prefix))
		}
	}
	return keys, nil
}

func (p *prefixed) Length(ctx context.Context) (int, error) {
	keys, err := p.Keys(ctx)
	return len(keys), err
}

func (p *prefixed) Key(ctx context.Context, i int) (string, bool, error) {
	keys, err := p.Keys(ctx)
	if err != nil {
		return "", false, err
	}
	if i < 0 || i >= len(keys) {
		return "", false, nil
	}
	return keys[i], true, nil
}

func (p *prefixed) ContainKey(ctx context.Context, key string) (bool, error) {
	return p.s.ContainKey(ctx, p.key(key))
}

// OnChanged only reports changes under the prefix. A Clear of the
// underlying store is reported as a Clear here too.
func (p *prefixed) OnChanged(fn func(ChangedEvent)) func() {
	return p.s.OnChanged(func(ev ChangedEvent) {
		if ev.Key == "" {
			fn(ev)
			return
		}
		if !strings.HasPrefix(ev.Key, p.prefix) {
			return
		}
		ev.Key = strings.TrimPrefix(ev.Key, p.prefix)
		fn(ev)
	})
}
