package musecli

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"oss.terrastruct.com/util-go/xhttp"
	"oss.terrastruct.com/util-go/xmain"

	"oss.terrastruct.com/muse/appconfig"
	"oss.terrastruct.com/muse/lib/background"
	"oss.terrastruct.com/muse/lib/xbrowser"
)

const (
	reloadScriptPath = "/_muse/reload.js"
	wasmExecName     = "wasm_exec.js"
)

//go:embed static
var staticFS embed.FS

type serverOpts struct {
	host        string
	port        string
	dir         string
	watch       bool
	environment string

	// pollInterval is how often the watcher rescans dir for changes it
	// missed. Zero means 10 seconds.
	pollInterval time.Duration
	clock        background.Clock
}

// update is sent to every connected browser.
type update struct {
	Reload  bool     `json:"reload,omitempty"`
	Changed []string `json:"changed,omitempty"`
	Err     string   `json:"err,omitempty"`
}

type server struct {
	ctx    context.Context
	cancel context.CancelFunc

	ms *xmain.State
	serverOpts

	l                net.Listener
	staticFileServer http.Handler
	appFileServer    http.Handler

	wsclientsMu sync.Mutex
	closing     bool
	wsclientsWG sync.WaitGroup
	wsclients   map[*wsclient]struct{}

	resMu sync.Mutex
	res   *update
	seq   int
}

func newServer(ctx context.Context, ms *xmain.State, opts serverOpts) (*server, error) {
	ctx, cancel := context.WithCancel(ctx)
	if opts.pollInterval == 0 {
		opts.pollInterval = 10 * time.Second
	}
	if opts.clock == nil {
		opts.clock = background.RealClock{}
	}

	s := &server{
		ctx:    ctx,
		cancel: cancel,

		ms:         ms,
		serverOpts: opts,

		appFileServer: http.FileServer(http.Dir(opts.dir)),
		wsclients:     make(map[*wsclient]struct{}),
	}
	sfs, err := fs.Sub(staticFS, "static")
	if err != nil {
		cancel()
		return nil, err
	}
	s.staticFileServer = http.FileServer(http.FS(sfs))

	err = s.listen()
	if err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *server) listen() error {
	l, err := net.Listen("tcp", net.JoinHostPort(s.host, s.port))
	if err != nil {
		return err
	}
	s.l = l
	s.ms.Log.Success.Printf("listening on %s", s.url())
	return nil
}

func (s *server) url() string {
	return fmt.Sprintf("http://%s", s.l.Addr())
}

func (s *server) run() error {
	defer s.close()

	var w *watcher
	if s.watch {
		var err error
		w, err = newWatcher(s)
		if err != nil {
			return err
		}
	}

	eg, ctx := errgroup.WithContext(s.ctx)
	eg.Go(func() error {
		return xhttp.Serve(ctx, time.Second*30, xhttp.NewServer(s.ms.Log.Warn, xhttp.Log(s.ms.Log, s.handler())), s.l)
	})
	if w != nil {
		eg.Go(func() error {
			return w.watchLoop(ctx)
		})
		eg.Go(func() error {
			return appconfig.Watch(ctx, s.dir, s.environment, s.configChanged)
		})
	}

	err := xbrowser.Open(ctx, s.ms.Env, s.url())
	if err != nil {
		s.ms.Log.Warn.Printf("failed to open browser to %v: %v", s.url(), err)
	}

	err = eg.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func (s *server) close() {
	s.wsclientsMu.Lock()
	if s.closing {
		s.wsclientsMu.Unlock()
		return
	}
	s.closing = true
	s.wsclientsMu.Unlock()

	s.cancel()
	s.l.Close()
	s.wsclientsWG.Wait()
}

func (s *server) handler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/", s.handleRoot)
	m.Handle("/_muse/", http.StripPrefix("/_muse", s.staticFileServer))
	m.Handle("/"+wasmExecName, xhttp.HandlerFuncAdapter{Log: s.ms.Log, Func: s.handleWasmExec})
	m.Handle("/watch", xhttp.HandlerFuncAdapter{Log: s.ms.Log, Func: s.handleWatch})
	return m
}

// handleRoot serves files from the app directory. Paths without an
// extension fall back to index.html so client side routes load the app.
func (s *server) handleRoot(hw http.ResponseWriter, r *http.Request) {
	p := path.Clean("/" + r.URL.Path)
	if p == "/" || p == "/index.html" || (path.Ext(p) == "" && !s.exists(p)) {
		s.serveIndex(hw, r)
		return
	}
	hw.Header().Set("Cache-Control", "no-cache")
	s.appFileServer.ServeHTTP(hw, r)
}

func (s *server) exists(p string) bool {
	_, err := os.Stat(filepath.Join(s.dir, filepath.FromSlash(p)))
	return err == nil
}

func (s *server) serveIndex(hw http.ResponseWriter, r *http.Request) {
	b, err := os.ReadFile(filepath.Join(s.dir, "index.html"))
	if err != nil {
		s.ms.Log.Error.Printf("failed to read index.html: %v", err)
		http.Error(hw, "index.html not found in app directory", http.StatusNotFound)
		return
	}
	b, err = rewriteIndex(b, s.watch)
	if err != nil {
		s.ms.Log.Error.Printf("failed to rewrite index.html: %v", err)
		http.Error(hw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	hw.Header().Set("Content-Type", "text/html; charset=utf-8")
	hw.Header().Set("Cache-Control", "no-cache")
	_, _ = hw.Write(b)
}

// rewriteIndex makes sure relative URLs resolve against the server root and,
// in watch mode, injects the live reload script.
func rewriteIndex(b []byte, watch bool) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if doc.Find("head base").Length() == 0 {
		doc.Find("head").PrependHtml(`<base href="/"/>`)
	}
	if watch && doc.Find(fmt.Sprintf(`script[src=%q]`, reloadScriptPath)).Length() == 0 {
		doc.Find("body").AppendHtml(fmt.Sprintf(`<script src=%q></script>`, reloadScriptPath))
	}
	html, err := doc.Html()
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}

func (s *server) handleWasmExec(hw http.ResponseWriter, r *http.Request) error {
	if s.exists("/" + wasmExecName) {
		s.appFileServer.ServeHTTP(hw, r)
		return nil
	}
	fp, err := findWasmExec(s.ms.Env.Getenv("GOROOT"))
	if err != nil {
		return xhttp.Errorf(http.StatusNotFound, nil, "%v", err)
	}
	hw.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	http.ServeFile(hw, r, fp)
	return nil
}

// findWasmExec locates wasm_exec.js in a Go installation. Go 1.24 moved it
// from misc/wasm to lib/wasm.
func findWasmExec(goroot string) (string, error) {
	if goroot == "" {
		goroot = runtime.GOROOT()
	}
	if goroot == "" {
		return "", errors.New("wasm_exec.js not in app directory and GOROOT is unknown")
	}
	for _, dir := range []string{"lib/wasm", "misc/wasm"} {
		fp := filepath.Join(goroot, filepath.FromSlash(dir), wasmExecName)
		if _, err := os.Stat(fp); err == nil {
			return fp, nil
		}
	}
	return "", fmt.Errorf("wasm_exec.js not in app directory or %s", goroot)
}

func (s *server) getRes() (*update, int) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return s.res, s.seq
}

func (s *server) broadcast(res *update) {
	s.resMu.Lock()
	s.res = res
	s.seq++
	s.resMu.Unlock()

	s.wsclientsMu.Lock()
	defer s.wsclientsMu.Unlock()
	clientsSuffix := ""
	if len(s.wsclients) != 1 {
		clientsSuffix = "s"
	}
	s.ms.Log.Info.Printf("broadcasting update to %d client%s", len(s.wsclients), clientsSuffix)
	for cl := range s.wsclients {
		select {
		case cl.resultsCh <- struct{}{}:
		default:
		}
	}
}

func (s *server) configChanged(cfg *appconfig.Config, err error) {
	if err != nil {
		s.ms.Log.Error.Printf("settings: %v", err)
		s.broadcast(&update{Err: err.Error()})
		return
	}
	logCanvasConfig(s.ms, cfg)
	s.broadcast(&update{Reload: true, Changed: []string{appconfig.BaseFile}})
}

func (s *server) handleWatch(hw http.ResponseWriter, r *http.Request) error {
	s.wsclientsMu.Lock()
	if s.closing {
		s.wsclientsMu.Unlock()
		return xhttp.Errorf(http.StatusServiceUnavailable, "server shutting down...", "server shutting down...")
	}
	// Register before upgrading so close waits for this client.
	s.wsclientsWG.Add(1)
	s.wsclientsMu.Unlock()

	c, err := websocket.Accept(hw, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.wsclientsWG.Done()
		return err
	}

	go func() {
		defer s.wsclientsWG.Done()
		defer c.Close(websocket.StatusInternalError, "the sky is falling")

		ctx, cancel := context.WithTimeout(s.ctx, time.Hour)
		defer cancel()

		cl := &wsclient{
			id:        uuid.NewString(),
			s:         s,
			resultsCh: make(chan struct{}, 1),
			c:         c,
		}
		// A reload that happened before this page loaded is stale, but an
		// error is still current.
		res, seq := s.getRes()
		cl.seen = seq
		if res != nil && res.Err != "" {
			cl.seen = seq - 1
		}

		s.wsclientsMu.Lock()
		s.wsclients[cl] = struct{}{}
		s.wsclientsMu.Unlock()
		s.ms.Log.Debug.Printf("client %s connected", cl.id)
		defer func() {
			s.wsclientsMu.Lock()
			delete(s.wsclients, cl)
			s.wsclientsMu.Unlock()
			s.ms.Log.Debug.Printf("client %s disconnected", cl.id)
		}()

		ctx = cl.c.CloseRead(ctx)
		go wsHeartbeat(ctx, cl.c)
		_ = cl.writeLoop(ctx)
	}()
	return nil
}

type wsclient struct {
	id        string
	s         *server
	resultsCh chan struct{}
	c         *websocket.Conn
	seen      int
}

func (cl *wsclient) writeLoop(ctx context.Context) error {
	for {
		res, seq := cl.s.getRes()
		if res != nil && seq != cl.seen {
			err := cl.write(ctx, res)
			if err != nil {
				return err
			}
			cl.seen = seq
		}

		select {
		case <-cl.resultsCh:
		case <-ctx.Done():
			cl.c.Close(websocket.StatusGoingAway, "server shutting down...")
			return ctx.Err()
		}
	}
}

func (cl *wsclient) write(ctx context.Context, res *update) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	return wsjson.Write(ctx, cl.c, res)
}

func wsHeartbeat(ctx context.Context, c *websocket.Conn) {
	defer c.Close(websocket.StatusInternalError, "the sky is falling")

	t := time.NewTimer(0)
	<-t.C
	for {
		err := c.Ping(ctx)
		if err != nil {
			return
		}

		t.Reset(time.Second * 30)
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}

// humanList joins paths relative to the working directory.
func humanList(ms *xmain.State, paths []string) string {
	hp := make([]string, len(paths))
	for i, p := range paths {
		hp[i] = ms.HumanPath(p)
	}
	return strings.Join(hp, ", ")
}
