// Package canvas mounts the Excalidraw drawing canvas once its scripts have
// loaded.
//
// React, ReactDOM and Excalidraw arrive through ordinary script tags, so
// they may still be loading when the app renders the canvas placeholder.
// Interop exposes window.excalidrawInterop.load() for the app to call once
// the placeholder is in the document; the wait itself is a mount.Mount.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cdr.dev/slog"

	"oss.terrastruct.com/muse/lib/background"
	"oss.terrastruct.com/muse/lib/jsdom"
	"oss.terrastruct.com/muse/lib/jsrunner"
	"oss.terrastruct.com/muse/lib/log"
	"oss.terrastruct.com/muse/mount"
)

const (
	DefaultContainerID = "excalidraw-wrapper"
	DefaultExport      = "Excalidraw.Excalidraw"
	Namespace          = "excalidrawInterop"
)

var DefaultGlobals = []string{"React", "ReactDOM", "Excalidraw"}

// GlobalsProbe is ready once every name resolves to a defined value in the
// global scope. Dotted names are looked up segment by segment.
type GlobalsProbe struct {
	Runner jsrunner.JSRunner
	Names  []string
}

func (p GlobalsProbe) Ready(ctx context.Context) bool {
	missing, ok := jsrunner.Defined(p.Runner, p.Names...)
	if !ok {
		log.Debug(ctx, "global not loaded yet", slog.F("global", missing))
	}
	return ok
}

// Document adapts jsdom.Document to mount.Document.
type Document struct {
	Doc *jsdom.Document
}

func (d Document) ElementByID(id string) mount.Element {
	el := d.Doc.ElementByID(id)
	if el == nil {
		return nil
	}
	return el
}

// ReactWidget renders React.createElement(Export, Props) into a fresh root
// created on the container.
type ReactWidget struct {
	Runner jsrunner.JSRunner
	Export string
	Props  map[string]interface{}
}

func (w ReactWidget) Render(ctx context.Context, el mount.Element) error {
	jel, ok := el.(*jsdom.Element)
	if !ok {
		return fmt.Errorf("cannot render into %T", el)
	}
	component := jsrunner.Lookup(w.Runner, w.Export)
	if !component.Defined() {
		return fmt.Errorf("%s is not defined", w.Export)
	}

	root, err := w.Runner.Global("ReactDOM").Call("createRoot", jel.Value())
	if err != nil {
		return fmt.Errorf("failed to create root: %w", err)
	}
	props, err := w.props()
	if err != nil {
		return err
	}
	node, err := w.Runner.Global("React").Call("createElement", component, props)
	if err != nil {
		return fmt.Errorf("failed to create element: %w", err)
	}
	_, err = root.Call("render", node)
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

func (w ReactWidget) props() (interface{}, error) {
	if len(w.Props) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(w.Props))
	for k := range w.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	obj := w.Runner.NewObject()
	for _, k := range keys {
		if err := obj.Set(k, w.Props[k]); err != nil {
			return nil, fmt.Errorf("failed to set prop %q: %w", k, err)
		}
	}
	return obj, nil
}

type Config struct {
	ContainerID string
	MaxAttempts int
	Interval    time.Duration
	Globals     []string
	Export      string
	Props       map[string]interface{}

	// ReadySignal makes notifyReady() trigger an immediate attempt.
	ReadySignal bool

	Clock     background.Clock
	OnAttempt func(attempt int, s mount.State)
}

func DefaultConfig() Config {
	return Config{
		ContainerID: DefaultContainerID,
		MaxAttempts: mount.DefaultMaxAttempts,
		Interval:    mount.DefaultInterval,
		Globals:     DefaultGlobals,
		Export:      DefaultExport,
	}
}

// Interop owns the window.excalidrawInterop namespace.
type Interop struct {
	runner  jsrunner.JSRunner
	mounter *mount.Mounter
	cfg     Config
	doc     *jsdom.Document

	ready     chan struct{}
	readyOnce sync.Once

	mu   sync.Mutex
	last *mount.Mount
}

func NewInterop(r jsrunner.JSRunner, mr *mount.Mounter, cfg Config) *Interop {
	return &Interop{
		runner:  r,
		mounter: mr,
		cfg:     cfg,
		doc:     jsdom.NewDocument(r),
		ready:   make(chan struct{}),
	}
}

// Load starts waiting for the canvas dependencies. Calling it again while a
// mount is in progress returns that mount.
func (in *Interop) Load(ctx context.Context) (*mount.Mount, error) {
	opts := mount.Opts{
		ContainerID: in.cfg.ContainerID,
		MaxAttempts: in.cfg.MaxAttempts,
		Interval:    in.cfg.Interval,
		Probe:       GlobalsProbe{Runner: in.runner, Names: in.cfg.Globals},
		Document:    Document{Doc: in.doc},
		Widget:      ReactWidget{Runner: in.runner, Export: in.cfg.Export, Props: in.cfg.Props},
		Clock:       in.cfg.Clock,
		OnAttempt:   in.cfg.OnAttempt,
	}
	if in.cfg.ReadySignal {
		opts.Ready = in.ready
	}
	m, err := in.mounter.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	in.mu.Lock()
	in.last = m
	in.mu.Unlock()
	return m, nil
}

// NotifyReady signals that the canvas scripts have loaded. Only the first
// call has any effect.
func (in *Interop) NotifyReady() {
	in.readyOnce.Do(func() {
		close(in.ready)
	})
}

// Last returns the most recent mount, or nil before any load.
func (in *Interop) Last() *mount.Mount {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.last
}

// State reports the most recent mount's state, or "idle" before any load.
func (in *Interop) State() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.last == nil {
		return "idle"
	}
	return in.last.State().String()
}

// Export defines the namespace object on the global scope:
//
//	excalidrawInterop.load()
//	excalidrawInterop.notifyReady()
//	excalidrawInterop.state()
func (in *Interop) Export(ctx context.Context) error {
	if in.runner.Global(Namespace).Defined() {
		return errors.New(Namespace + " is already defined")
	}
	ns := in.runner.NewObject()
	err := ns.Set("load", in.runner.Func(func(args []jsrunner.JSValue) (interface{}, error) {
		_, err := in.Load(ctx)
		if err != nil {
			log.Error(ctx, "failed to start canvas mount", slog.Error(err))
		}
		return nil, nil
	}))
	if err != nil {
		return err
	}
	err = ns.Set("notifyReady", in.runner.Func(func(args []jsrunner.JSValue) (interface{}, error) {
		in.NotifyReady()
		return nil, nil
	}))
	if err != nil {
		return err
	}
	err = ns.Set("state", in.runner.Func(func(args []jsrunner.JSValue) (interface{}, error) {
		return in.State(), nil
	}))
	if err != nil {
		return err
	}
	return in.runner.Set(Namespace, ns)
}
