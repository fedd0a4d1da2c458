// Package musecli implements the muse dev server: it serves a built app
// directory and, with --watch, live reloads connected browsers on change.
package musecli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cdr.dev/slog"
	"github.com/spf13/pflag"

	"oss.terrastruct.com/util-go/go2"
	"oss.terrastruct.com/util-go/xmain"

	"oss.terrastruct.com/muse/appconfig"
	"oss.terrastruct.com/muse/lib/log"
	"oss.terrastruct.com/muse/lib/version"
)

func Run(ctx context.Context, ms *xmain.State) (err error) {
	ctx = log.WithDefault(ctx)
	// These should be kept up-to-date with help().
	watchFlag, err := ms.Opts.Bool("MUSE_WATCH", "watch", "w", false, "watch the app directory and live reload connected browsers on change.")
	if err != nil {
		return err
	}
	hostFlag := ms.Opts.String("HOST", "host", "h", "localhost", "host listening address")
	portFlag := ms.Opts.String("PORT", "port", "p", "0", "port listening address. 0 picks a random available port.")
	browserFlag := ms.Opts.String("BROWSER", "browser", "", "", "browser executable to open the app with. Setting to 0 opens no browser.")
	environmentFlag := ms.Opts.String("MUSE_ENVIRONMENT", "environment", "e", "Development", "hosting environment. Selects appsettings.{environment}.json.")
	debugFlag, err := ms.Opts.Bool("DEBUG", "debug", "d", false, "print debug logs.")
	if err != nil {
		ms.Log.Warn.Printf("Invalid DEBUG flag value ignored")
		debugFlag = go2.Pointer(false)
	}
	versionFlag, err := ms.Opts.Bool("", "version", "v", false, "get the version")
	if err != nil {
		return err
	}

	err = ms.Opts.Flags.Parse(ms.Opts.Args)
	if !errors.Is(err, pflag.ErrHelp) && err != nil {
		return xmain.UsageErrorf("failed to parse flags: %v", err)
	}
	if errors.Is(err, pflag.ErrHelp) {
		help(ms)
		return nil
	}

	if *versionFlag {
		fmt.Fprintln(ms.Stdout, version.Version)
		return nil
	}
	if len(ms.Opts.Flags.Args()) > 0 && ms.Opts.Flags.Arg(0) == "version" {
		if len(ms.Opts.Flags.Args()) > 1 {
			return xmain.UsageErrorf("version subcommand accepts no arguments")
		}
		fmt.Fprintln(ms.Stdout, version.Version)
		return nil
	}

	if *debugFlag {
		ctx = log.Leveled(ctx, slog.LevelDebug)
		ms.Env.Setenv("DEBUG", "1")
	}
	if *browserFlag != "" {
		ms.Env.Setenv("BROWSER", *browserFlag)
	}
	if strings.TrimSpace(*environmentFlag) == "" {
		return xmain.UsageErrorf("--environment must not be empty")
	}

	if len(ms.Opts.Flags.Args()) > 1 {
		return xmain.UsageErrorf("too many arguments passed")
	}
	dir := "."
	if len(ms.Opts.Flags.Args()) == 1 {
		dir = ms.Opts.Flags.Arg(0)
	}
	dir = ms.AbsPath(dir)
	d, err := os.Stat(dir)
	if err != nil {
		return xmain.UsageErrorf("failed to read app directory: %v", err)
	}
	if !d.IsDir() {
		return xmain.UsageErrorf("%s is not a directory", ms.HumanPath(dir))
	}

	cfg, err := appconfig.Load(ctx, appconfig.Dir(dir), *environmentFlag)
	if err != nil {
		return xmain.ExitErrorf(1, "%v", err)
	}
	logCanvasConfig(ms, cfg)

	s, err := newServer(ctx, ms, serverOpts{
		host:        *hostFlag,
		port:        *portFlag,
		dir:         dir,
		watch:       *watchFlag,
		environment: *environmentFlag,
	})
	if err != nil {
		return err
	}
	return s.run()
}

func logCanvasConfig(ms *xmain.State, cfg *appconfig.Config) {
	cc := cfg.Canvas
	ms.Log.Info.Printf("environment %s: canvas #%s, %d attempts every %v, globals %s",
		cfg.Environment, cc.ContainerID, cc.MaxAttempts, cc.Interval(), strings.Join(cc.Globals, ", "))
	if cc.ReadySignal {
		ms.Log.Debug.Printf("canvas mounts early on excalidrawInterop.notifyReady()")
	}
}
