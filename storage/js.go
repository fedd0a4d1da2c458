package storage

import (
	"fmt"

	"oss.terrastruct.com/muse/lib/jsrunner"
)

const (
	localGlobal   = "localStorage"
	sessionGlobal = "sessionStorage"
)

// NewLocal is window.localStorage.
func NewLocal(r jsrunner.JSRunner) Store {
	return newService("local", &jsBackend{r: r, global: localGlobal})
}

// NewSession is window.sessionStorage.
func NewSession(r jsrunner.JSRunner) Store {
	return newService("session", &jsBackend{r: r, global: sessionGlobal})
}

// Available reports whether the storage behind s can be reached. Browsers
// with storage disabled leave the global undefined.
func Available(s Store) bool {
	if p, ok := s.(*prefixed); ok {
		return Available(p.s)
	}
	svc, ok := s.(*service)
	if !ok {
		return true
	}
	jb, ok := svc.b.(*jsBackend)
	if !ok {
		return true
	}
	_, err := jb.storage()
	return err == nil
}

type jsBackend struct {
	r      jsrunner.JSRunner
	global string
}

func (jb *jsBackend) storage() (jsrunner.JSValue, error) {
	v := jb.r.Global(jb.global)
	if !v.Defined() {
		return nil, fmt.Errorf("%s: %w", jb.global, ErrNotAvailable)
	}
	return v, nil
}

func (jb *jsBackend) get(key string) (string, bool, error) {
	st, err := jb.storage()
	if err != nil {
		return "", false, err
	}
	v, err := st.Call("getItem", key)
	if err != nil {
		return "", false, err
	}
	if !v.Defined() {
		return "", false, nil
	}
	return v.String(), true, nil
}

func (jb *jsBackend) set(key, value string) error {
	st, err := jb.storage()
	if err != nil {
		return err
	}
	_, err = st.Call("setItem", key, value)
	return err
}

func (jb *jsBackend) remove(key string) error {
	st, err := jb.storage()
	if err != nil {
		return err
	}
	_, err = st.Call("removeItem", key)
	return err
}

func (jb *jsBackend) clear() error {
	st, err := jb.storage()
	if err != nil {
		return err
	}
	_, err = st.Call("clear")
	return err
}

func (jb *jsBackend) keys() ([]string, error) {
	st, err := jb.storage()
	if err != nil {
		return nil, err
	}
	n, err := length(st.Get("length"))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		k, err := st.Call("key", i)
		if err != nil {
			return nil, err
		}
		if k.Defined() {
			keys = append(keys, k.String())
		}
	}
	return keys, nil
}

func length(v jsrunner.JSValue) (int, error) {
	switch n := v.Export().(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected storage length %v", v.String())
	}
}
