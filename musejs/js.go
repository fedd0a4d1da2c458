//go:build js && wasm

package main

import (
	"context"
	"net/http"
	"syscall/js"

	"cdr.dev/slog"

	"oss.terrastruct.com/muse/apiclient"
	"oss.terrastruct.com/muse/appconfig"
	"oss.terrastruct.com/muse/lib/jsrunner"
	"oss.terrastruct.com/muse/lib/log"
	"oss.terrastruct.com/muse/musehost"
	"oss.terrastruct.com/muse/musejs/musewasm"
)

func main() {
	ctx := log.WithDefault(context.Background())
	r := jsrunner.NewJSRunner()
	baseAddress := js.Global().Get("document").Get("baseURI").String()

	c, err := apiclient.New(baseAddress, http.DefaultClient)
	if err != nil {
		log.Critical(ctx, "invalid base address", slog.Error(err))
		return
	}
	cfg, err := appconfig.Load(ctx, appconfig.HTTP(c), "")
	if err != nil {
		log.Critical(ctx, "failed to load configuration", slog.Error(err))
		return
	}
	ctx = log.Leveled(ctx, log.ParseLevel(cfg.Log.Level))

	b := musehost.NewBuilder(ctx, r, baseAddress)
	b.RootComponents.Add("#app", musehost.App{})
	b.RootComponents.Add(musehost.HeadAfter, musehost.HeadOutlet{Title: "Muse"})
	b.Services.HTTP = c
	b.Services.Config = cfg
	h, err := b.Build()
	if err != nil {
		log.Critical(ctx, "failed to build host", slog.Error(err))
		return
	}

	api := musewasm.New(ctx, h)
	api.ExportTo(js.Global())

	if cb := js.Global().Get("onMuseInitialized"); !cb.IsUndefined() {
		cb.Invoke()
	}

	err = h.Run(ctx)
	if err != nil {
		log.Critical(ctx, "host stopped", slog.Error(err))
	}
	select {}
}
