package syncmap

import (
	"sort"
	"sync"
)

type SyncMap[K comparable, V any] struct {
	_map *sync.Map
}

func New[K comparable, V any]() SyncMap[K, V] {
	return SyncMap[K, V]{
		_map: &sync.Map{},
	}
}

func (sm SyncMap[K, V]) Set(key K, value V) {
	sm._map.Store(key, value)
}

// Swap stores value and returns the previous one, if any.
func (sm SyncMap[K, V]) Swap(key K, value V) (previous V, loaded bool) {
	v, loaded := sm._map.Swap(key, value)
	if !loaded {
		return previous, false
	}
	return v.(V), true
}

func (sm SyncMap[K, V]) Lookup(key K) (value V, ok bool) {
	v, has := sm._map.Load(key)
	if !has {
		return value, false
	}
	return v.(V), true
}

func (sm SyncMap[K, V]) Get(key K) (value V) {
	v, _ := sm.Lookup(key)
	return v
}

func (sm SyncMap[K, V]) Delete(key K) {
	sm._map.Delete(key)
}

// LoadAndDelete deletes key and returns the value it held.
func (sm SyncMap[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	v, loaded := sm._map.LoadAndDelete(key)
	if !loaded {
		return value, false
	}
	return v.(V), true
}

func (sm SyncMap[K, V]) Range(f func(key K, value V) bool) {
	sm._map.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

func (sm SyncMap[K, V]) Len() int {
	n := 0
	sm._map.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// SortedKeys returns the keys of a string keyed map in order.
func SortedKeys[V any](sm SyncMap[string, V]) []string {
	var keys []string
	sm.Range(func(k string, _ V) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}
