package storage

import "oss.terrastruct.com/muse/lib/syncmap"

// NewMemory is a Store that lives only as long as the process. Keys are
// listed in sorted order.
func NewMemory() Store {
	return newService("memory", &memBackend{m: syncmap.New[string, string]()})
}

type memBackend struct {
	m syncmap.SyncMap[string, string]
}

func (mb *memBackend) get(key string) (string, bool, error) {
	v, ok := mb.m.Lookup(key)
	return v, ok, nil
}

func (mb *memBackend) set(key, value string) error {
	mb.m.Set(key, value)
	return nil
}

func (mb *memBackend) remove(key string) error {
	mb.m.Delete(key)
	return nil
}

func (mb *memBackend) clear() error {
	for _, k := range syncmap.SortedKeys(mb.m) {
		mb.m.Delete(k)
	}
	return nil
}

func (mb *memBackend) keys() ([]string, error) {
	return syncmap.SortedKeys(mb.m), nil
}
