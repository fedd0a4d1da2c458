//go:build js && wasm

package musewasm

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"syscall/js"

	"cdr.dev/slog"

	"oss.terrastruct.com/muse/appconfig"
	"oss.terrastruct.com/muse/lib/log"
)

// ExportTo sets target.muse:
//
//	muse.version()
//	muse.config()
//	muse.canvasState()
//	muse.storageKeys("local" | "session")
func (api *API) ExportTo(target js.Value) {
	ns := map[string]interface{}{
		"version": handle(api, func(args []js.Value) (*VersionResponse, error) {
			return api.Version(), nil
		}),
		"config": handle(api, func(args []js.Value) (*appconfig.Config, error) {
			return api.Config(), nil
		}),
		"canvasState": handle(api, func(args []js.Value) (*CanvasStateResponse, error) {
			return api.CanvasState(), nil
		}),
		"storageKeys": handle(api, func(args []js.Value) (*StorageKeysResponse, error) {
			var store string
			if len(args) > 0 && !args[0].IsUndefined() {
				if args[0].Type() != js.TypeString {
					return nil, badRequest("store must be a string, got %s", args[0].Type())
				}
				store = args[0].String()
			}
			return api.StorageKeys(store)
		}),
	}
	target.Set(Namespace, js.ValueOf(ns))
}

func handle[T any](api *API, fn func(args []js.Value) (*T, error)) js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) (result interface{}) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(api.ctx, "recovered panic in muse api", slog.F("panic", r), slog.F("stack", string(debug.Stack())))
				result = encode(Response[T]{
					Error: &Error{Message: fmt.Sprintf("panic recovered: %v", r), Code: 500},
				})
			}
		}()

		data, err := fn(args)
		if err != nil {
			var merr *Error
			if !errors.As(err, &merr) {
				merr = &Error{Message: err.Error(), Code: 500}
			}
			return encode(Response[T]{Error: merr})
		}
		return encode(Response[T]{Data: data})
	})
}

func encode[T any](resp Response[T]) string {
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(Response[T]{Error: &Error{Message: err.Error(), Code: 500}})
	}
	return string(b)
}
