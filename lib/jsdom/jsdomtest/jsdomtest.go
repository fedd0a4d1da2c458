// Package jsdomtest installs a minimal fake browser into a goja backed
// jsrunner for tests: document, window, localStorage and sessionStorage.
//
// Setting innerHTML registers any id="..." attributes it contains so
// getElementById finds freshly rendered markup, and replacing innerHTML
// detaches the previous children.
package jsdomtest

import (
	_ "embed"
	"fmt"

	"oss.terrastruct.com/muse/lib/jsrunner"
)

//go:embed fakedom.js
var fakeDOM string

// Install defines document, window, localStorage and sessionStorage on r.
func Install(r jsrunner.JSRunner) error {
	_, err := r.RunString(fakeDOM)
	if err != nil {
		return fmt.Errorf("failed to install fake dom: %w", err)
	}
	return nil
}

// AddElement adds an empty div with id to the document body.
func AddElement(r jsrunner.JSRunner, id string) error {
	_, err := r.Global("document").Call("__add", id)
	return err
}

// RemoveElement removes the element with id and anything rendered into it.
func RemoveElement(r jsrunner.JSRunner, id string) error {
	_, err := r.Global("document").Call("__remove", id)
	return err
}

// Writes counts how many times the element's content was replaced or
// appended to. Missing elements report -1.
func Writes(r jsrunner.JSRunner, id string) int {
	el, err := r.Global("document").Call("getElementById", id)
	if err != nil || !el.Defined() {
		return -1
	}
	switch n := el.Get("writes").Export().(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		panic(fmt.Sprintf("jsdomtest: unexpected writes type %T", n))
	}
}
