package log

import (
	"testing"

	"cdr.dev/slog"

	"oss.terrastruct.com/util-go/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in  string
		exp slog.Level
	}{
		{in: "debug", exp: slog.LevelDebug},
		{in: " DEBUG ", exp: slog.LevelDebug},
		{in: "warning", exp: slog.LevelWarn},
		{in: "warn", exp: slog.LevelWarn},
		{in: "error", exp: slog.LevelError},
		{in: "critical", exp: slog.LevelCritical},
		{in: "info", exp: slog.LevelInfo},
		{in: "", exp: slog.LevelInfo},
		{in: "chatty", exp: slog.LevelInfo},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.exp, ParseLevel(tc.in))
		})
	}
}
