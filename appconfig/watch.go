package appconfig

import (
	"context"
	"os"
	"path/filepath"

	"cdr.dev/slog"
	"github.com/knadh/koanf/providers/file"
	"go.uber.org/multierr"

	"oss.terrastruct.com/muse/lib/log"
)

// Watch reloads the configuration from dir whenever appsettings.json or
// the environment file changes, until ctx is done. onChange receives the
// new configuration or the error that prevented loading it. Files created
// after Watch starts are not watched. Watch blocks.
func Watch(ctx context.Context, dir, environment string, onChange func(*Config, error)) error {
	changes := make(chan struct{}, 1)

	var providers []*file.File
	defer func() {
		for _, p := range providers {
			_ = p.Unwatch()
		}
	}()
	for _, name := range []string{BaseFile, EnvFile(environment)} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			// The file provider cannot watch a file that does not exist yet.
			log.Debug(ctx, "not watching missing settings file", slog.F("file", name))
			continue
		}
		p := file.Provider(path)
		err := p.Watch(func(event interface{}, err error) {
			if err != nil {
				log.Warn(ctx, "settings watcher error", slog.F("file", name), slog.Error(err))
				return
			}
			select {
			case changes <- struct{}{}:
			default:
			}
		})
		if err != nil {
			var errs error
			for _, p := range providers {
				errs = multierr.Append(errs, p.Unwatch())
			}
			providers = nil
			return multierr.Append(err, errs)
		}
		providers = append(providers, p)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			log.Info(ctx, "settings changed, reloading")
			onChange(Load(ctx, Dir(dir), environment))
		}
	}
}
