// Package musehost boots the app in a page: it wires services, renders the
// root components into their selectors and exposes the canvas interop.
package musehost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cdr.dev/slog"
	"go.uber.org/multierr"

	"oss.terrastruct.com/util-go/xdefer"

	"oss.terrastruct.com/muse/apiclient"
	"oss.terrastruct.com/muse/appconfig"
	"oss.terrastruct.com/muse/canvas"
	"oss.terrastruct.com/muse/lib/background"
	"oss.terrastruct.com/muse/lib/jsdom"
	"oss.terrastruct.com/muse/lib/jsrunner"
	"oss.terrastruct.com/muse/lib/log"
	"oss.terrastruct.com/muse/mount"
	"oss.terrastruct.com/muse/storage"
)

// HeadAfter appends a component's markup to the end of <head>.
const HeadAfter = "head::after"

// Component renders markup for a root selector.
type Component interface {
	Render(ctx context.Context, h *Host) (string, error)
}

// Mounted is implemented by components that act once their markup is in
// the document.
type Mounted interface {
	Mounted(ctx context.Context, h *Host) error
}

type RootComponent struct {
	Selector  string
	Component Component
}

type RootComponents struct {
	list []RootComponent
}

func (rc *RootComponents) Add(selector string, c Component) {
	rc.list = append(rc.list, RootComponent{Selector: selector, Component: c})
}

func (rc *RootComponents) All() []RootComponent {
	return append([]RootComponent(nil), rc.list...)
}

// Services are shared by every component. Nil fields are filled in by Build.
type Services struct {
	HTTP           *apiclient.Client
	HTTPClient     *http.Client
	LocalStorage   storage.Store
	SessionStorage storage.Store
	Config         *appconfig.Config
	Mounter        *mount.Mounter
	Clock          background.Clock
}

type Builder struct {
	ctx         context.Context
	runner      jsrunner.JSRunner
	baseAddress string

	RootComponents RootComponents
	Services       Services
}

func NewBuilder(ctx context.Context, r jsrunner.JSRunner, baseAddress string) *Builder {
	return &Builder{
		ctx:         ctx,
		runner:      r,
		baseAddress: baseAddress,
	}
}

// Build validates the registrations and fills in default services. Every
// problem found is reported, not just the first.
func (b *Builder) Build() (_ *Host, err error) {
	defer xdefer.Errorf(&err, "failed to build host")

	if len(b.RootComponents.list) == 0 {
		err = multierr.Append(err, errors.New("no root components registered"))
	}
	seen := make(map[string]struct{}, len(b.RootComponents.list))
	for _, rc := range b.RootComponents.list {
		if rc.Component == nil {
			err = multierr.Append(err, fmt.Errorf("root component for %q is nil", rc.Selector))
		}
		if _, _, serr := parseSelector(rc.Selector); serr != nil {
			err = multierr.Append(err, serr)
			continue
		}
		if _, ok := seen[rc.Selector]; ok {
			err = multierr.Append(err, fmt.Errorf("selector %q registered more than once", rc.Selector))
		}
		seen[rc.Selector] = struct{}{}
	}

	svcs := b.Services
	if svcs.HTTP == nil {
		c, cerr := apiclient.New(b.baseAddress, svcs.HTTPClient)
		if cerr != nil {
			err = multierr.Append(err, cerr)
		}
		svcs.HTTP = c
	}
	if svcs.Config == nil {
		cfg, cerr := appconfig.Load(b.ctx, appconfig.None, "")
		if cerr != nil {
			err = multierr.Append(err, cerr)
		}
		svcs.Config = cfg
	} else if verr := svcs.Config.Validate(); verr != nil {
		err = multierr.Append(err, verr)
	}
	if err != nil {
		return nil, err
	}

	if svcs.LocalStorage == nil {
		svcs.LocalStorage = storage.Prefixed(storage.NewLocal(b.runner), svcs.Config.Storage.Prefix)
	}
	if svcs.SessionStorage == nil {
		svcs.SessionStorage = storage.Prefixed(storage.NewSession(b.runner), svcs.Config.Storage.Prefix)
	}
	if svcs.Mounter == nil {
		svcs.Mounter = mount.NewMounter()
	}

	h := &Host{
		runner:   b.runner,
		doc:      jsdom.NewDocument(b.runner),
		roots:    b.RootComponents.All(),
		services: svcs,
	}
	h.interop = canvas.NewInterop(b.runner, svcs.Mounter, canvasConfig(svcs))
	return h, nil
}

func canvasConfig(svcs Services) canvas.Config {
	cc := svcs.Config.Canvas
	return canvas.Config{
		ContainerID: cc.ContainerID,
		MaxAttempts: cc.MaxAttempts,
		Interval:    cc.Interval(),
		Globals:     cc.Globals,
		Export:      cc.Export,
		Props: map[string]interface{}{
			"theme": cc.Theme,
		},
		ReadySignal: cc.ReadySignal,
		Clock:       svcs.Clock,
	}
}

// parseSelector accepts "#id" and "head::after".
func parseSelector(s string) (id string, head bool, err error) {
	switch {
	case s == HeadAfter:
		return "", true, nil
	case strings.HasPrefix(s, "#") && len(s) > 1 && !strings.ContainsAny(s[1:], " .#[:>"):
		return s[1:], false, nil
	default:
		return "", false, fmt.Errorf("unsupported selector %q: want #id or %s", s, HeadAfter)
	}
}

type Host struct {
	runner   jsrunner.JSRunner
	doc      *jsdom.Document
	roots    []RootComponent
	services Services
	interop  *canvas.Interop
}

func (h *Host) Services() Services {
	return h.services
}

func (h *Host) Runner() jsrunner.JSRunner {
	return h.runner
}

func (h *Host) Interop() *canvas.Interop {
	return h.interop
}

// Start exports the canvas interop, renders every root component in
// registration order and then notifies the Mounted ones.
func (h *Host) Start(ctx context.Context) (err error) {
	defer xdefer.Errorf(&err, "failed to start host")

	err = h.interop.Export(ctx)
	if err != nil {
		return err
	}

	for _, rc := range h.roots {
		html, err := rc.Component.Render(ctx, h)
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", rc.Selector, err)
		}
		err = h.attach(rc.Selector, html)
		if err != nil {
			return err
		}
		log.Debug(ctx, "rendered root component", slog.F("selector", rc.Selector))
	}

	for _, rc := range h.roots {
		if m, ok := rc.Component.(Mounted); ok {
			err = m.Mounted(ctx, h)
			if err != nil {
				return fmt.Errorf("%s: %w", rc.Selector, err)
			}
		}
	}
	return nil
}

func (h *Host) attach(selector, html string) error {
	id, head, err := parseSelector(selector)
	if err != nil {
		return err
	}
	if head {
		el, err := h.doc.Head()
		if err != nil {
			return err
		}
		return el.InsertAdjacentHTML("beforeend", html)
	}
	el := h.doc.ElementByID(id)
	if el == nil {
		return fmt.Errorf("selector %q matched no element", selector)
	}
	return el.SetInnerHTML(html)
}

// Run starts the host and blocks until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	err := h.Start(ctx)
	if err != nil {
		return err
	}
	log.Info(ctx, "muse started",
		slog.F("environment", h.services.Config.Environment),
		slog.F("base_address", h.services.HTTP.BaseAddress()),
	)
	<-ctx.Done()
	return nil
}
