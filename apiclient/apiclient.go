// Package apiclient is the app's HTTP client. Every request path resolves
// against the host's base address, the page URL the app was served from.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cdr.dev/slog"

	"oss.terrastruct.com/util-go/xdefer"

	"oss.terrastruct.com/muse/lib/log"
	timelib "oss.terrastruct.com/muse/lib/time"
	"oss.terrastruct.com/muse/lib/version"
)

const (
	// maxBody caps how much of a response is read.
	maxBody = 16 << 20
	// DefaultTimeout bounds each request unless MUSE_TIMEOUT overrides it.
	DefaultTimeout = 30 * time.Second
)

type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

type Client struct {
	base *url.URL
	http *http.Client
}

// New parses baseAddress, which must be absolute. A nil hc means
// http.DefaultClient.
func New(baseAddress string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(baseAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid base address %q: %w", baseAddress, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("base address %q must be absolute", baseAddress)
	}
	// Relative references resolve against the last slash.
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, http: hc}, nil
}

func (c *Client) BaseAddress() string {
	return c.base.String()
}

// Resolve returns the absolute URL for path relative to the base address.
func (c *Client) Resolve(path string) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

func (c *Client) GetBytes(ctx context.Context, path string) (_ []byte, err error) {
	u, err := c.Resolve(path)
	if err != nil {
		return nil, err
	}
	defer xdefer.Errorf(&err, "failed to get %s", u)

	ctx, cancel := timelib.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	log.Debug(ctx, "http get", slog.F("url", u), slog.F("status", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, &StatusError{Code: resp.StatusCode, URL: u}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

func (c *Client) GetJSON(ctx context.Context, path string, v interface{}) error {
	b, err := c.GetBytes(ctx, path)
	if err != nil {
		return err
	}
	err = json.Unmarshal(b, v)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
