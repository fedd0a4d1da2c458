// Package jsrunner is the one seam between Go and a JavaScript environment.
//
// In the browser (js && wasm) values are syscall/js values off the real
// window. Everywhere else an embedded goja runtime stands in, which is what
// tests script their fake globals against.
package jsrunner

import (
	"fmt"
	"strings"
)

type Engine int

const (
	Goja Engine = iota
	Native
)

func (e Engine) String() string {
	switch e {
	case Goja:
		return "goja"
	case Native:
		return "native"
	default:
		return fmt.Sprintf("Engine(%d)", int(e))
	}
}

// GoFunc is a Go callback exposed to JS. A returned error is reported to the
// JS caller: thrown under goja, returned as an Error object in the browser.
type GoFunc func(args []JSValue) (interface{}, error)

type JSRunner interface {
	Engine() Engine
	RunString(code string) (JSValue, error)
	// Global returns the global binding name, undefined if absent.
	Global(name string) JSValue
	Set(name string, value interface{}) error
	NewObject() JSValue
	Func(fn GoFunc) JSValue
}

type JSValue interface {
	// Defined is false for undefined and null.
	Defined() bool
	Truthy() bool
	// Get is undefined unless the value is an object or function.
	Get(name string) JSValue
	Set(name string, value interface{}) error
	// Call invokes the method name on the value with this bound to the value.
	Call(method string, args ...interface{}) (JSValue, error)
	// Invoke calls the value itself as a function.
	Invoke(args ...interface{}) (JSValue, error)
	String() string
	Export() interface{}
}

// Lookup resolves a dotted path such as "Excalidraw.Excalidraw" from the
// global scope. Any missing segment yields an undefined value.
func Lookup(r JSRunner, path string) JSValue {
	parts := strings.Split(path, ".")
	v := r.Global(parts[0])
	for _, p := range parts[1:] {
		if !v.Defined() {
			return v
		}
		v = v.Get(p)
	}
	return v
}

// Defined reports whether every path resolves via Lookup.
// It returns the first missing path.
func Defined(r JSRunner, paths ...string) (missing string, ok bool) {
	for _, p := range paths {
		if !Lookup(r, p).Defined() {
			return p, false
		}
	}
	return "", true
}
