// Package xbrowser opens the dev server in a browser.
package xbrowser

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/pkg/browser"

	"oss.terrastruct.com/util-go/xos"
)

// openURL is swapped out in tests.
var openURL = browser.OpenURL

// Disabled reports whether $BROWSER asks for no browser at all.
func Disabled(env *xos.Env) bool {
	switch env.Getenv("BROWSER") {
	case "0", "none":
		return true
	default:
		return false
	}
}

// Open opens url with the shell command in $BROWSER, or the system default
// browser when it is unset. BROWSER=0 opens nothing.
func Open(ctx context.Context, env *xos.Env, url string) error {
	if Disabled(env) {
		return nil
	}
	browserEnv := env.Getenv("BROWSER")
	if browserEnv == "" {
		return openURL(url)
	}
	browserSh := fmt.Sprintf(`%s "$1"`, browserEnv)
	cmd := exec.CommandContext(ctx, "sh", "-c", browserSh, "--", url)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to run %v (out: %q): %w", cmd.Args, out, err)
	}
	return nil
}
