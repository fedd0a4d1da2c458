package musecli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oss.terrastruct.com/util-go/cmdlog"
	"oss.terrastruct.com/util-go/xmain"
	"oss.terrastruct.com/util-go/xos"

	"oss.terrastruct.com/muse/appconfig"
	"oss.terrastruct.com/muse/lib/background"
	"oss.terrastruct.com/muse/lib/log"
)

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<title>Muse</title>
	<script src="wasm_exec.js"></script>
</head>
<body>
	<div id="app">Loading...</div>
</body>
</html>`

func writeApp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":       indexHTML,
		"app.wasm":         "\x00asm",
		"app.js":           "console.log('muse')",
		"css/app.css":      "body { margin: 0 }",
		appconfig.BaseFile: `{"Canvas": {"MaxAttempts": 30}}`,
	}
	for fp, data := range files {
		fp = filepath.Join(dir, filepath.FromSlash(fp))
		require.NoError(t, os.MkdirAll(filepath.Dir(fp), 0o755))
		require.NoError(t, os.WriteFile(fp, []byte(data), 0o644))
	}
	return dir
}

func testState(t *testing.T, dir string, environ ...string) *xmain.State {
	ms := &xmain.State{
		Name: "muse",

		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,

		Env: xos.NewEnv(append([]string{"BROWSER=0"}, environ...)),
		PWD: dir,
	}
	ms.Log = cmdlog.NewTB(ms.Env, t)
	return ms
}

type testServer struct {
	*server
	clock *background.FakeClock
	done  chan error
}

func startServer(t *testing.T, dir string, watch bool, environ ...string) *testServer {
	t.Helper()

	ctx, cancel := context.WithCancel(log.WithTB(context.Background(), t, nil))
	clock := background.NewFakeClock()
	s, err := newServer(ctx, testState(t, dir, environ...), serverOpts{
		host:         "127.0.0.1",
		port:         "0",
		dir:          dir,
		watch:        watch,
		environment:  "Development",
		pollInterval: time.Second,
		clock:        clock,
	})
	if err != nil {
		cancel()
		require.NoError(t, err)
	}

	ts := &testServer{server: s, clock: clock, done: make(chan error, 1)}
	go func() {
		ts.done <- s.run()
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-ts.done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return ts
}

func (ts *testServer) get(t *testing.T, p string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(ts.url() + p)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func (ts *testServer) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()
	before := ts.clients()
	c, _, err := websocket.Dial(ctx, strings.Replace(ts.url(), "http://", "ws://", 1)+"/watch", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close(websocket.StatusNormalClosure, "")
	})
	require.Eventually(t, func() bool {
		return ts.clients() > before
	}, 5*time.Second, 10*time.Millisecond)
	return c
}

func (ts *testServer) clients() int {
	ts.wsclientsMu.Lock()
	defer ts.wsclientsMu.Unlock()
	return len(ts.wsclients)
}

// waitWatching waits for the watcher's initial scan, which happens right
// before its poll ticker is created.
func (ts *testServer) waitWatching(t *testing.T) *background.FakeTicker {
	t.Helper()
	var ft *background.FakeTicker
	require.Eventually(t, func() bool {
		ft = ts.clock.Last()
		return ft != nil
	}, 5*time.Second, 10*time.Millisecond)
	return ft
}

func TestRewriteIndex(t *testing.T) {
	t.Parallel()

	b, err := rewriteIndex([]byte(indexHTML), true)
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(b)))
	require.NoError(t, err)

	href, ok := doc.Find("head base").Attr("href")
	assert.True(t, ok)
	assert.Equal(t, "/", href)
	assert.Equal(t, 1, doc.Find(`script[src="/_muse/reload.js"]`).Length())
	assert.Equal(t, "Loading...", doc.Find("#app").Text())

	// Rewriting is idempotent.
	b, err = rewriteIndex(b, true)
	require.NoError(t, err)
	doc, err = goquery.NewDocumentFromReader(strings.NewReader(string(b)))
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Find("base").Length())
	assert.Equal(t, 1, doc.Find(`script[src="/_muse/reload.js"]`).Length())

	b, err = rewriteIndex([]byte(`<html><head><base href="/app/"></head><body></body></html>`), false)
	require.NoError(t, err)
	doc, err = goquery.NewDocumentFromReader(strings.NewReader(string(b)))
	require.NoError(t, err)
	href, _ = doc.Find("base").Attr("href")
	assert.Equal(t, "/app/", href)
	assert.Equal(t, 0, doc.Find("script").Length())
}

func TestFindWasmExec(t *testing.T) {
	t.Parallel()

	goroot := t.TempDir()
	_, err := findWasmExec(goroot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wasm_exec.js not in app directory or "+goroot)

	misc := filepath.Join(goroot, "misc", "wasm", wasmExecName)
	require.NoError(t, os.MkdirAll(filepath.Dir(misc), 0o755))
	require.NoError(t, os.WriteFile(misc, []byte("// misc"), 0o644))
	fp, err := findWasmExec(goroot)
	require.NoError(t, err)
	assert.Equal(t, misc, fp)

	lib := filepath.Join(goroot, "lib", "wasm", wasmExecName)
	require.NoError(t, os.MkdirAll(filepath.Dir(lib), 0o755))
	require.NoError(t, os.WriteFile(lib, []byte("// lib"), 0o644))
	fp, err = findWasmExec(goroot)
	require.NoError(t, err)
	assert.Equal(t, lib, fp)
}

func TestServe(t *testing.T) {
	t.Parallel()

	dir := writeApp(t)
	goroot := t.TempDir()
	lib := filepath.Join(goroot, "lib", "wasm", wasmExecName)
	require.NoError(t, os.MkdirAll(filepath.Dir(lib), 0o755))
	require.NoError(t, os.WriteFile(lib, []byte("// go wasm support"), 0o644))

	ts := startServer(t, dir, false, "GOROOT="+goroot)

	for _, p := range []string{"/", "/index.html", "/notes/42"} {
		resp, body := ts.get(t, p)
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
		assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"), p)
		assert.Contains(t, body, `<base href="/"/>`, p)
		assert.NotContains(t, body, reloadScriptPath, p)
	}

	resp, body := ts.get(t, "/app.wasm")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/wasm", resp.Header.Get("Content-Type"))
	assert.Equal(t, "\x00asm", body)

	resp, body = ts.get(t, "/css/app.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body { margin: 0 }", body)

	resp, _ = ts.get(t, "/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.get(t, reloadScriptPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "new WebSocket")

	resp, body = ts.get(t, "/"+wasmExecName)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "// go wasm support", body)

	require.NoError(t, os.WriteFile(filepath.Join(dir, wasmExecName), []byte("// vendored"), 0o644))
	_, body = ts.get(t, "/"+wasmExecName)
	assert.Equal(t, "// vendored", body)
}

func TestWatchReload(t *testing.T) {
	t.Parallel()

	dir := writeApp(t)
	ts := startServer(t, dir, true)
	ft := ts.waitWatching(t)

	_, body := ts.get(t, "/")
	assert.Contains(t, body, fmt.Sprintf(`<script src=%q></script>`, reloadScriptPath))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := ts.dial(t, ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log('changed')"), 0o644))
	// Whichever of the event or the poll sees it first triggers the reload.
	assert.True(t, ft.Tick())

	var u update
	require.NoError(t, wsjson.Read(ctx, c, &u))
	assert.True(t, u.Reload)
	assert.Equal(t, []string{"app.js"}, u.Changed)
	assert.Empty(t, u.Err)
}

func TestWatchSettingsError(t *testing.T) {
	t.Parallel()

	dir := writeApp(t)
	ts := startServer(t, dir, true)
	ts.waitWatching(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := ts.dial(t, ctx)

	// The settings watcher starts concurrently, so keep writing until it
	// reports.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			_ = os.WriteFile(filepath.Join(dir, appconfig.BaseFile), []byte(`{"Canvas": {"MaxAttempts": 0}}`), 0o644)
			select {
			case <-stop:
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}()

	var u update
	require.NoError(t, wsjson.Read(ctx, c, &u))
	assert.False(t, u.Reload)
	assert.Contains(t, u.Err, "canvas.maxattempts must be positive, got 0")

	// Pages loaded after the error still see it.
	c2 := ts.dial(t, ctx)
	var u2 update
	require.NoError(t, wsjson.Read(ctx, c2, &u2))
	assert.Contains(t, u2.Err, "canvas.maxattempts must be positive")
}

func TestScanFindsMissedChanges(t *testing.T) {
	t.Parallel()

	dir := writeApp(t)
	s := &server{
		ms:         testState(t, dir),
		serverOpts: serverOpts{dir: dir, environment: "Development"},
	}
	w, err := newWatcher(s)
	require.NoError(t, err)
	defer w.fw.Close()

	all, err := w.scan()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "app.js"),
		filepath.Join(dir, "app.wasm"),
		filepath.Join(dir, "css", "app.css"),
		filepath.Join(dir, "index.html"),
	}, all)

	changed, err := w.scan()
	require.NoError(t, err)
	assert.Empty(t, changed)

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "app.js"), later, later))
	require.NoError(t, os.Remove(filepath.Join(dir, "css", "app.css")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, appconfig.BaseFile), []byte(`{}`), 0o644))

	changed, err = w.scan()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "app.js"),
		filepath.Join(dir, "css", "app.css"),
	}, changed)
}

func TestRun(t *testing.T) {
	t.Parallel()

	dir := writeApp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))

	testCases := []struct {
		name string
		args []string
		err  string
	}{
		{name: "too_many_args", args: []string{"a", "b"}, err: "too many arguments passed"},
		{name: "not_a_dir", args: []string{"notes.txt"}, err: "notes.txt is not a directory"},
		{name: "missing_dir", args: []string{"nope"}, err: "failed to read app directory"},
		{name: "empty_environment", args: []string{"--environment="}, err: "--environment must not be empty"},
		{name: "bad_flag", args: []string{"--nope"}, err: "failed to parse flags"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			tms := &xmain.TestState{
				Run:  Run,
				Env:  xos.NewEnv([]string{"BROWSER=0"}),
				Args: append([]string{"muse"}, tc.args...),
				PWD:  dir,
			}
			tms.Start(t, ctx)
			defer tms.Cleanup(t)
			err := tms.Wait(ctx)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestRunInvalidSettings(t *testing.T) {
	t.Parallel()

	dir := writeApp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, appconfig.EnvFile("Staging")), []byte(`{"Canvas": {"IntervalMS": 0}}`), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tms := &xmain.TestState{
		Run:  Run,
		Env:  xos.NewEnv([]string{"BROWSER=0"}),
		Args: []string{"muse", "--environment=Staging", "."},
		PWD:  dir,
	}
	tms.Start(t, ctx)
	defer tms.Cleanup(t)
	err := tms.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canvas.intervalms must be positive, got 0")
}
