package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oss.terrastruct.com/muse/lib/log"
	"oss.terrastruct.com/muse/lib/version"
)

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New("/relative", nil)
	assert.EqualError(t, err, `base address "/relative" must be absolute`)

	_, err = New("http://[::1", nil)
	require.Error(t, err)

	c, err := New("https://muse.example/app", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://muse.example/app/", c.BaseAddress())

	testCases := []struct {
		path string
		exp  string
	}{
		{path: "appsettings.json", exp: "https://muse.example/app/appsettings.json"},
		{path: "/appsettings.json", exp: "https://muse.example/app/appsettings.json"},
		{path: "api/notes?id=3", exp: "https://muse.example/app/api/notes?id=3"},
		{path: "", exp: "https://muse.example/app/"},
	}
	for _, tc := range testCases {
		got, err := c.Resolve(tc.path)
		require.NoError(t, err)
		assert.Equal(t, tc.exp, got, tc.path)
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/appsettings.json":
			assert.Equal(t, version.UserAgent(), r.UserAgent())
			fmt.Fprint(w, `{"Canvas": {"MaxAttempts": 5}}`)
		case "/app/broken.json":
			fmt.Fprint(w, `{`)
		case "/app/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	ctx := log.WithTB(context.Background(), t, nil)
	c, err := New(ts.URL+"/app/", ts.Client())
	require.NoError(t, err)

	var v struct {
		Canvas struct {
			MaxAttempts int
		}
	}
	require.NoError(t, c.GetJSON(ctx, "appsettings.json", &v))
	assert.Equal(t, 5, v.Canvas.MaxAttempts)

	_, err = c.GetBytes(ctx, "appsettings.Development.json")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = c.GetBytes(ctx, "boom")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "unexpected status 500 Internal Server Error")

	err = c.GetJSON(ctx, "broken.json", &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode broken.json")
}
