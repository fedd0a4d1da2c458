package musecli

import (
	"fmt"
	"path/filepath"

	"oss.terrastruct.com/util-go/xmain"

	"oss.terrastruct.com/muse/lib/version"
)

func help(ms *xmain.State) {
	fmt.Fprintf(ms.Stdout, `%[1]s %[2]s
Usage:
  %[1]s [--watch] [--environment=Development] [dir]
  %[1]s version

%[1]s serves the built app in dir (default .) over HTTP: index.html, the
compiled app.wasm, wasm_exec.js and appsettings*.json. If dir has no
wasm_exec.js, the one shipped with the local Go toolchain is served.

appsettings.json and appsettings.{environment}.json are validated on startup.
With --watch, browsers reload whenever a file in dir changes and settings
errors are shown in the page.

Flags:
%[3]s
`, filepath.Base(ms.Name), version.Version, ms.Opts.Defaults())
}
