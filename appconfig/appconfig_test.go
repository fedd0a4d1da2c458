package appconfig

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oss.terrastruct.com/muse/apiclient"
	"oss.terrastruct.com/muse/lib/log"
)

func TestDefaults(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)

	cfg, err := Load(ctx, FS(fstest.MapFS{}), "Production")
	require.NoError(t, err)
	assert.Equal(t, "Production", cfg.Environment)
	assert.Equal(t, "excalidraw-wrapper", cfg.Canvas.ContainerID)
	assert.Equal(t, 20, cfg.Canvas.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Canvas.Interval())
	assert.Equal(t, []string{"React", "ReactDOM", "Excalidraw"}, cfg.Canvas.Globals)
	assert.Equal(t, "Excalidraw.Excalidraw", cfg.Canvas.Export)
	assert.False(t, cfg.Canvas.ReadySignal)
	assert.Equal(t, "muse:", cfg.Storage.Prefix)
}

func TestLayers(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)

	fsys := fstest.MapFS{
		BaseFile: {Data: []byte(`{
  "Canvas": {"MaxAttempts": 40, "IntervalMS": 50, "Theme": "dark"},
  "Log": {"Level": "warn"}
}`)},
		EnvFile("Development"): {Data: []byte(`{"canvas": {"maxAttempts": 60, "ReadySignal": true}}`)},
	}

	cfg, err := Load(ctx, FS(fsys), "Development")
	require.NoError(t, err)
	assert.Equal(t, "Development", cfg.Environment)
	assert.Equal(t, 60, cfg.Canvas.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Canvas.Interval())
	assert.True(t, cfg.Canvas.ReadySignal)
	assert.Equal(t, "dark", cfg.Canvas.Theme)
	assert.Equal(t, "warn", cfg.Log.Level)

	// Other environments do not see the Development file.
	cfg, err = Load(ctx, FS(fsys), "Staging")
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Canvas.MaxAttempts)
	assert.False(t, cfg.Canvas.ReadySignal)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MUSE_CANVAS__MAXATTEMPTS", "7")
	t.Setenv("MUSE_CANVAS__GLOBALS", "React, ReactDOM,,Excalidraw")
	t.Setenv("MUSE_STORAGE__PREFIX", "")
	ctx := log.WithTB(context.Background(), t, nil)

	fsys := fstest.MapFS{
		BaseFile: {Data: []byte(`{"Canvas": {"MaxAttempts": 40}}`)},
	}
	cfg, err := Load(ctx, FS(fsys), "Production")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Canvas.MaxAttempts)
	assert.Equal(t, []string{"React", "ReactDOM", "Excalidraw"}, cfg.Canvas.Globals)
	assert.Equal(t, "", cfg.Storage.Prefix)
}

func TestInvalid(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)

	fsys := fstest.MapFS{
		BaseFile: {Data: []byte(`{"Canvas": {"ContainerID": "", "MaxAttempts": 0, "IntervalMS": -1, "Theme": "blue", "Export": "Excalidraw Excalidraw", "Globals": ["React,ReactDOM"]}, "Log": {"Level": "loud"}}`)},
	}
	_, err := Load(ctx, FS(fsys), "Production")
	require.Error(t, err)
	for _, msg := range []string{
		"canvas.containerid must not be empty",
		"canvas.maxattempts must be positive, got 0",
		"canvas.intervalms must be positive, got -1",
		`canvas.theme must be light or dark, got "blue"`,
		`log.level "loud" is not one of debug, info, warn, error`,
		`canvas.export "Excalidraw Excalidraw" is not a global name`,
		`canvas.globals entry "React,ReactDOM" is not a global name`,
	} {
		assert.Contains(t, err.Error(), msg)
	}

	fsys = fstest.MapFS{
		BaseFile: {Data: []byte(`{"Canvas": `)},
	}
	_, err = Load(ctx, FS(fsys), "Production")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse appsettings.json")
}

func TestHTTPSource(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/appsettings.json":
			fmt.Fprint(w, `{"Canvas": {"MaxAttempts": 3}}`)
		case "/appsettings.Broken.json":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()
	ctx := log.WithTB(context.Background(), t, nil)

	c, err := apiclient.New(ts.URL, ts.Client())
	require.NoError(t, err)

	cfg, err := Load(ctx, HTTP(c), "Production")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Canvas.MaxAttempts)

	_, err = Load(ctx, HTTP(c), "Broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read appsettings.Broken.json")
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, BaseFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"Canvas": {"MaxAttempts": 1}}`), 0o644))

	ctx, cancel := context.WithCancel(log.WithTB(context.Background(), t, nil))
	defer cancel()

	cfgs := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, "Production", func(cfg *Config, err error) {
			if err == nil {
				cfgs <- cfg
			}
		})
	}()

	// The watcher may not be registered yet when the first write lands.
	deadline := time.After(10 * time.Second)
	for i := 2; ; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`{"Canvas": {"MaxAttempts": %d}}`, i)), 0o644))
		select {
		case cfg := <-cfgs:
			assert.Greater(t, cfg.Canvas.MaxAttempts, 1)
			cancel()
			require.NoError(t, <-done)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
