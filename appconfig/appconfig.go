// Package appconfig loads the app's settings. Layers apply in order, each
// overriding the last:
//
//	defaults
//	appsettings.json               (optional)
//	appsettings.{Environment}.json (optional)
//	MUSE_* environment variables   (MUSE_CANVAS__MAXATTEMPTS=5)
//
// Keys are case insensitive.
package appconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cdr.dev/slog"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	kenv "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"

	"oss.terrastruct.com/muse/apiclient"
	"oss.terrastruct.com/muse/lib/env"
	"oss.terrastruct.com/muse/lib/log"
)

const (
	BaseFile  = "appsettings.json"
	EnvPrefix = "MUSE_"
)

// EnvFile returns the name of the settings file for environment.
func EnvFile(environment string) string {
	return fmt.Sprintf("appsettings.%s.json", environment)
}

type Config struct {
	Environment string        `koanf:"environment"`
	BaseAddress string        `koanf:"baseaddress"`
	Canvas      CanvasConfig  `koanf:"canvas"`
	Storage     StorageConfig `koanf:"storage"`
	Log         LogConfig     `koanf:"log"`
}

type CanvasConfig struct {
	ContainerID string   `koanf:"containerid"`
	MaxAttempts int      `koanf:"maxattempts"`
	IntervalMS  int      `koanf:"intervalms"`
	ReadySignal bool     `koanf:"readysignal"`
	Export      string   `koanf:"export"`
	Globals     []string `koanf:"globals"`
	Theme       string   `koanf:"theme"`
}

func (c CanvasConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

type StorageConfig struct {
	// Prefix namespaces every key the app writes to browser storage.
	Prefix string `koanf:"prefix"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"environment":        "Production",
		"canvas.containerid": "excalidraw-wrapper",
		"canvas.maxattempts": 20,
		"canvas.intervalms":  100,
		"canvas.readysignal": false,
		"canvas.export":      "Excalidraw.Excalidraw",
		"canvas.globals":     []string{"React", "ReactDOM", "Excalidraw"},
		"canvas.theme":       "light",
		"storage.prefix":     "muse:",
		"log.level":          "info",
	}
}

// globalPath matches a dotted path of JS identifiers, e.g. Excalidraw.Excalidraw.
var globalPath = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*)*$`)

func (c *Config) Validate() error {
	var err error
	if c.Canvas.ContainerID == "" {
		err = multierr.Append(err, errors.New("canvas.containerid must not be empty"))
	}
	if c.Canvas.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("canvas.maxattempts must be positive, got %d", c.Canvas.MaxAttempts))
	}
	if c.Canvas.IntervalMS <= 0 {
		err = multierr.Append(err, fmt.Errorf("canvas.intervalms must be positive, got %d", c.Canvas.IntervalMS))
	}
	if c.Canvas.Export == "" {
		err = multierr.Append(err, errors.New("canvas.export must not be empty"))
	} else if !globalPath.MatchString(c.Canvas.Export) {
		err = multierr.Append(err, fmt.Errorf("canvas.export %q is not a global name", c.Canvas.Export))
	}
	for _, g := range c.Canvas.Globals {
		if !globalPath.MatchString(g) {
			err = multierr.Append(err, fmt.Errorf("canvas.globals entry %q is not a global name", g))
		}
	}
	switch c.Canvas.Theme {
	case "light", "dark":
	default:
		err = multierr.Append(err, fmt.Errorf("canvas.theme must be light or dark, got %q", c.Canvas.Theme))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return err
}

// Source fetches a settings file by name. A missing file is reported with
// an error satisfying errors.Is(err, fs.ErrNotExist) or apiclient.IsNotFound.
type Source interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// None is a Source without settings files. Loading from it yields the
// defaults plus environment overrides.
var None Source = noneSource{}

type noneSource struct{}

func (noneSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	return nil, fs.ErrNotExist
}

// Dir reads settings files from a directory on disk.
type Dir string

func (d Dir) Fetch(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(string(d), name))
}

// FS reads settings files from fsys, such as an embedded wwwroot.
func FS(fsys fs.FS) Source {
	return fsSource{fsys}
}

type fsSource struct {
	fsys fs.FS
}

func (s fsSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	return fs.ReadFile(s.fsys, name)
}

// HTTP fetches settings files relative to the client's base address.
func HTTP(c *apiclient.Client) Source {
	return httpSource{c}
}

type httpSource struct {
	c *apiclient.Client
}

func (s httpSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	return s.c.GetBytes(ctx, name)
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || apiclient.IsNotFound(err)
}

// Load reads and validates the layered configuration. environment selects
// the environment specific file; empty means lib/env.Environment().
func Load(ctx context.Context, src Source, environment string) (*Config, error) {
	if environment == "" {
		environment = env.Environment()
	}

	k := koanf.New(".")
	err := k.Load(confmap.Provider(defaults(), "."), nil)
	if err != nil {
		return nil, err
	}
	err = k.Set("environment", environment)
	if err != nil {
		return nil, err
	}

	for _, name := range []string{BaseFile, EnvFile(environment)} {
		b, err := src.Fetch(ctx, name)
		if err != nil {
			if isMissing(err) {
				log.Debug(ctx, "optional settings file not found", slog.F("file", name))
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		err = k.Load(rawbytes.Provider(b), lowerParser{json.Parser()})
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		log.Debug(ctx, "loaded settings file", slog.F("file", name))
	}

	err = k.Load(kenv.ProviderWithValue(EnvPrefix, ".", envValue), nil)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = k.Unmarshal("", cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envKey maps MUSE_CANVAS__MAXATTEMPTS to canvas.maxattempts.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// listKeys are settings whose environment value is a comma separated list.
var listKeys = map[string]bool{
	"canvas.globals": true,
}

func envValue(k, v string) (string, interface{}) {
	k = envKey(k)
	if !listKeys[k] {
		return k, v
	}
	items := []string{}
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			items = append(items, s)
		}
	}
	return k, items
}

// lowerParser lower cases every key so that "Canvas.MaxAttempts" in a file
// and MUSE_CANVAS__MAXATTEMPTS address the same setting.
type lowerParser struct {
	koanf.Parser
}

func (p lowerParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	m, err := p.Parser.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	return lowerKeys(m), nil
}

func lowerKeys(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]interface{}); ok {
			v = lowerKeys(sub)
		}
		out[strings.ToLower(k)] = v
	}
	return out
}
