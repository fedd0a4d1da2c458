//go:build !js && !wasm

package musewasm_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oss.terrastruct.com/muse/lib/background"
	"oss.terrastruct.com/muse/lib/jsdom/jsdomtest"
	"oss.terrastruct.com/muse/lib/jsrunner"
	"oss.terrastruct.com/muse/lib/log"
	"oss.terrastruct.com/muse/lib/version"
	"oss.terrastruct.com/muse/musehost"
	"oss.terrastruct.com/muse/musejs/musewasm"
)

func newAPI(t *testing.T, setup string) (context.Context, *musehost.Host, *musewasm.API) {
	t.Helper()
	ctx := log.WithTB(context.Background(), t, &slogtest.Options{IgnoreErrors: true})
	r := jsrunner.NewJSRunner()
	require.NoError(t, jsdomtest.Install(r))
	require.NoError(t, jsdomtest.AddElement(r, "app"))
	if setup != "" {
		_, err := r.RunString(setup)
		require.NoError(t, err)
	}

	b := musehost.NewBuilder(ctx, r, "https://muse.example/")
	b.RootComponents.Add("#app", musehost.App{})
	b.Services.Clock = background.NewFakeClock()
	h, err := b.Build()
	require.NoError(t, err)
	return ctx, h, musewasm.New(ctx, h)
}

func TestVersion(t *testing.T) {
	t.Parallel()

	_, _, api := newAPI(t, "")
	v := api.Version()
	assert.Equal(t, version.Version, v.Version)
	assert.Equal(t, "muse/"+version.Version, v.UserAgent)
}

func TestConfigAndCanvasState(t *testing.T) {
	t.Parallel()

	_, h, api := newAPI(t, "")
	assert.Same(t, h.Services().Config, api.Config())
	assert.Equal(t, &musewasm.CanvasStateResponse{
		Container: "excalidraw-wrapper",
		State:     "idle",
	}, api.CanvasState())
}

func TestStorageKeys(t *testing.T) {
	t.Parallel()

	ctx, h, api := newAPI(t, "")
	require.NoError(t, h.Services().LocalStorage.SetItemAsString(ctx, "theme", `"dark"`))
	require.NoError(t, h.Services().LocalStorage.SetItemAsString(ctx, "visits", "3"))
	require.NoError(t, h.Services().SessionStorage.SetItemAsString(ctx, "draft", "{}"))

	resp, err := api.StorageKeys("")
	require.NoError(t, err)
	assert.Equal(t, "local", resp.Store)
	assert.ElementsMatch(t, []string{"theme", "visits"}, resp.Keys)

	resp, err = api.StorageKeys("session")
	require.NoError(t, err)
	assert.Equal(t, "session", resp.Store)
	assert.Equal(t, []string{"draft"}, resp.Keys)

	_, err = api.StorageKeys("cookies")
	var merr *musewasm.Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, 400, merr.Code)
	assert.Equal(t, `store must be "local" or "session", got "cookies"`, merr.Message)
}

func TestStorageKeysUnavailable(t *testing.T) {
	t.Parallel()

	_, _, api := newAPI(t, `delete this.sessionStorage;`)
	_, err := api.StorageKeys("session")
	var merr *musewasm.Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, 503, merr.Code)
}

func TestResponseEncoding(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(musewasm.Response[musewasm.StorageKeysResponse]{
		Data: &musewasm.StorageKeysResponse{Store: "local", Keys: []string{"theme"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": {"store": "local", "keys": ["theme"]}}`, string(b))

	b, err = json.Marshal(musewasm.Response[musewasm.StorageKeysResponse]{
		Error: &musewasm.Error{Message: "nope", Code: 400},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error": {"message": "nope", "code": 400}}`, string(b))
}
