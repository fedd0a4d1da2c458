// Package musewasm exposes a small diagnostic API to page script as
// window.muse. Every call returns a JSON encoded Response.
package musewasm

import (
	"context"
	"errors"
	"fmt"

	"oss.terrastruct.com/muse/appconfig"
	"oss.terrastruct.com/muse/lib/version"
	"oss.terrastruct.com/muse/musehost"
	"oss.terrastruct.com/muse/storage"
)

const Namespace = "muse"

type Error struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

func badRequest(format string, v ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, v...), Code: 400}
}

// Response is the envelope of every call. Exactly one of Data and Error is set.
type Response[T any] struct {
	Data  *T     `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// API serves window.muse for a running host.
type API struct {
	ctx context.Context
	h   *musehost.Host
}

func New(ctx context.Context, h *musehost.Host) *API {
	return &API{ctx: ctx, h: h}
}

type VersionResponse struct {
	Version   string `json:"version"`
	UserAgent string `json:"userAgent"`
}

func (api *API) Version() *VersionResponse {
	return &VersionResponse{
		Version:   version.Version,
		UserAgent: version.UserAgent(),
	}
}

// Config returns the settings the host was built with.
func (api *API) Config() *appconfig.Config {
	return api.h.Services().Config
}

type CanvasStateResponse struct {
	Container string `json:"container"`
	State     string `json:"state"`
	Attempts  int    `json:"attempts"`
}

func (api *API) CanvasState() *CanvasStateResponse {
	in := api.h.Interop()
	resp := &CanvasStateResponse{
		Container: api.h.Services().Config.Canvas.ContainerID,
		State:     in.State(),
	}
	if m := in.Last(); m != nil {
		resp.Attempts = m.Attempts()
	}
	return resp
}

type StorageKeysResponse struct {
	Store string   `json:"store"`
	Keys  []string `json:"keys"`
}

// StorageKeys lists the app's keys in store, "local" or "session".
// An empty store means local.
func (api *API) StorageKeys(store string) (*StorageKeysResponse, error) {
	if store == "" {
		store = "local"
	}

	var s storage.Store
	switch store {
	case "local":
		s = api.h.Services().LocalStorage
	case "session":
		s = api.h.Services().SessionStorage
	default:
		return nil, badRequest(`store must be "local" or "session", got %q`, store)
	}

	keys, err := s.Keys(api.ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotAvailable) {
			return nil, &Error{Message: err.Error(), Code: 503}
		}
		return nil, err
	}
	return &StorageKeysResponse{Store: store, Keys: keys}, nil
}
