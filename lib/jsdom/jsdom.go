// Package jsdom is a thin DOM over jsrunner: just enough document and
// element access to mount components and swap innerHTML.
package jsdom

import (
	"errors"
	"fmt"

	"oss.terrastruct.com/muse/lib/jsrunner"
)

var ErrNoDocument = errors.New("document is not available")

type Document struct {
	r jsrunner.JSRunner
}

func NewDocument(r jsrunner.JSRunner) *Document {
	return &Document{r: r}
}

func (d *Document) doc() (jsrunner.JSValue, error) {
	doc := d.r.Global("document")
	if !doc.Defined() {
		return nil, ErrNoDocument
	}
	return doc, nil
}

// ElementByID returns nil when the element does not exist or there is no
// document yet.
func (d *Document) ElementByID(id string) *Element {
	doc, err := d.doc()
	if err != nil {
		return nil
	}
	v, err := doc.Call("getElementById", id)
	if err != nil || !v.Defined() {
		return nil
	}
	return &Element{v: v}
}

// QuerySelector returns nil when nothing matches.
func (d *Document) QuerySelector(selector string) (*Element, error) {
	doc, err := d.doc()
	if err != nil {
		return nil, err
	}
	v, err := doc.Call("querySelector", selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	if !v.Defined() {
		return nil, nil
	}
	return &Element{v: v}, nil
}

// Head returns document.head.
func (d *Document) Head() (*Element, error) {
	doc, err := d.doc()
	if err != nil {
		return nil, err
	}
	v := doc.Get("head")
	if !v.Defined() {
		return nil, errors.New("document has no head")
	}
	return &Element{v: v}, nil
}

type Element struct {
	v jsrunner.JSValue
}

func (e *Element) ID() string {
	id := e.v.Get("id")
	if !id.Defined() {
		return ""
	}
	return id.String()
}

func (e *Element) InnerHTML() string {
	html := e.v.Get("innerHTML")
	if !html.Defined() {
		return ""
	}
	return html.String()
}

func (e *Element) SetInnerHTML(html string) error {
	return e.v.Set("innerHTML", html)
}

func (e *Element) Clear() error {
	return e.SetInnerHTML("")
}

// InsertAdjacentHTML mirrors Element.insertAdjacentHTML; position is one of
// beforebegin, afterbegin, beforeend, afterend.
func (e *Element) InsertAdjacentHTML(position, html string) error {
	switch position {
	case "beforebegin", "afterbegin", "beforeend", "afterend":
	default:
		return fmt.Errorf("invalid insert position %q", position)
	}
	_, err := e.v.Call("insertAdjacentHTML", position, html)
	return err
}

// Value is the underlying JS element, for handing to JS libraries.
func (e *Element) Value() jsrunner.JSValue {
	return e.v
}
