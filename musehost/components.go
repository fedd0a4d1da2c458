package musehost

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"cdr.dev/slog"

	"oss.terrastruct.com/muse/canvas"
	"oss.terrastruct.com/muse/lib/log"
	"oss.terrastruct.com/muse/storage"
)

// VisitsKey counts page loads in local storage.
const VisitsKey = "visits"

// App is the page shell. It renders the canvas placeholder and starts the
// canvas mount once the placeholder is in the document.
type App struct {
	Title string
}

func (a App) Render(ctx context.Context, h *Host) (string, error) {
	title := a.Title
	if title == "" {
		title = "Muse"
	}

	visits, err := countVisit(ctx, h.Services().LocalStorage)
	if err != nil {
		// Storage is a nicety here, the canvas still works without it.
		log.Warn(ctx, "failed to record visit", slog.Error(err))
	}

	var sb strings.Builder
	sb.WriteString(`<div class="page"><header><h1>`)
	sb.WriteString(html.EscapeString(title))
	sb.WriteString(`</h1>`)
	if visits > 0 {
		fmt.Fprintf(&sb, `<span class="visits">visit %d</span>`, visits)
	}
	sb.WriteString(`</header><main>`)
	fmt.Fprintf(&sb, `<div id="%s">Loading canvas...</div>`, html.EscapeString(h.Services().Config.Canvas.ContainerID))
	sb.WriteString(`</main></div>`)
	return sb.String(), nil
}

// Mounted calls excalidrawInterop.load() the way page script would.
func (a App) Mounted(ctx context.Context, h *Host) error {
	_, err := h.Runner().Global(canvas.Namespace).Call("load")
	return err
}

func countVisit(ctx context.Context, s storage.Store) (int, error) {
	if s == nil || !storage.Available(s) {
		return 0, storage.ErrNotAvailable
	}
	n, _, err := storage.GetItem[int](ctx, s, VisitsKey)
	if err != nil {
		return 0, err
	}
	n++
	return n, storage.SetItem(ctx, s, VisitsKey, n)
}

// HeadOutlet appends the page title and meta tags to <head>.
type HeadOutlet struct {
	Title string
	Meta  map[string]string
}

func (ho HeadOutlet) Render(ctx context.Context, h *Host) (string, error) {
	var sb strings.Builder
	if ho.Title != "" {
		fmt.Fprintf(&sb, "<title>%s</title>", html.EscapeString(ho.Title))
	}
	names := make([]string, 0, len(ho.Meta))
	for name := range ho.Meta {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, `<meta name="%s" content="%s">`, html.EscapeString(name), html.EscapeString(ho.Meta[name]))
	}
	return sb.String(), nil
}
