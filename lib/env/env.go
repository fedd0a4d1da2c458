package env

import (
	"os"
	"strconv"
	"strings"
)

func Dev() bool {
	return os.Getenv("DEV_MODE") != ""
}

func Debug() bool {
	return os.Getenv("DEBUG") != ""
}

// Environment is the hosting environment name used to pick
// appsettings.{Environment}.json. Defaults to Production.
func Environment() string {
	if s := strings.TrimSpace(os.Getenv("MUSE_ENVIRONMENT")); s != "" {
		return s
	}
	if Dev() {
		return "Development"
	}
	return "Production"
}

// Timeout is $MUSE_TIMEOUT in seconds.
func Timeout() (int, bool) {
	if s := os.Getenv("MUSE_TIMEOUT"); s != "" {
		i, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return int(i), true
		}
	}
	return -1, false
}
