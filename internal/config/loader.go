// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from these layers (highest
precedence last):

  1. Optional `.env` file at `<root>/conf/.env`.
  2. `conf/global.yaml`.
  3. Legacy variables `BOT_TOKEN`, `BOT_SOURCE`, and `SUPERADMIN_IDS`, kept so
     existing deployments keep working without edits.
  4. Environment variables prefixed `LOUNGE_`, where `__` maps to “.”
     (e.g., `LOUNGE_HTTP__LISTEN_ADDR → http.listen_addr`).

String values of the form `vault:<mount/path>#<key>` are then swapped for
the secret they point at.  The tree is unmarshalled into typed structs,
defaults are applied, the result is validated and cached in an
`atomic.Pointer` for lock-free reads.

Instrumentation
---------------
  • DEBUG – root discovery, YAML read, env overlay.
  • ERROR – YAML parse, env overlay, vault, unmarshal, validation failures.
  • INFO  – final “config loaded” with key highlights.
  • Logs use the global sugared logger (`zap.S()`) so early boot issues
    surface before the file logger is installed.
*/
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const (
	envPrefix   = "LOUNGE_"
	vaultPrefix = "vault:"
)

// ErrNoSecretResolver is returned when the config references Vault but no
// resolver was supplied.
var ErrNoSecretResolver = errors.New("config references vault but no resolver is configured")

// SecretResolver turns a `mount/path#key` reference into its value.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// RootDir resolves LOUNGE_ROOT or climbs directories until conf/global.yaml
// is found.  Falls back to the executable heuristic for the bin/ layout.
func RootDir() string {
	if r := os.Getenv(envPrefix + "ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads configuration from the discovered root.
func Load(ctx context.Context, secrets SecretResolver) (*Config, error) {
	return LoadFrom(ctx, RootDir(), secrets)
}

// LoadFrom reads .env, YAML, env overrides under root, validates, and caches
// the resulting Config.  secrets may be nil when no value uses Vault.
func LoadFrom(ctx context.Context, root string, secrets SecretResolver) (*Config, error) {
	zap.S().Debugw("config root resolved", "root", root)

	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, fmt.Errorf("load %s: %w", yamlPath, err)
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	if err := applyLegacyEnv(k); err != nil {
		return nil, err
	}

	// LOUNGE_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	if err := resolveSecrets(ctx, k, secrets); err != nil {
		zap.S().Errorw("config vault resolve failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Paths.Root = root
	applyDefaults(&cfg)

	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, fmt.Errorf("validate config: %w", err)
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"root", cfg.Paths.Root,
		"data_dir", cfg.Paths.DataDir,
		"source", cfg.Bot.Source,
		"timezone", cfg.Loyalty.Timezone,
		"launch_month", cfg.Loyalty.LaunchMonth,
		"listen_addr", cfg.HTTP.ListenAddr,
	)
	return &cfg, nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config { return current.Load() }

var legacyEnv = map[string]string{
	"BOT_TOKEN":      "bot.token",
	"BOT_SOURCE":     "bot.source",
	"SUPERADMIN_IDS": "roles.superadmin_ids",
}

func applyLegacyEnv(k *koanf.Koanf) error {
	for name, key := range legacyEnv {
		val := strings.TrimSpace(os.Getenv(name))
		if val == "" {
			continue
		}
		switch name {
		case "BOT_SOURCE":
			val = strings.ToLower(val)
		case "SUPERADMIN_IDS":
			val = strings.ReplaceAll(val, " ", "")
		}
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("legacy env %s: %w", name, err)
		}
		zap.S().Debugw("config legacy env applied", "var", name, "key", key)
	}
	return nil
}

func resolveSecrets(ctx context.Context, k *koanf.Koanf, secrets SecretResolver) error {
	for _, key := range k.Keys() {
		raw, ok := k.Get(key).(string)
		if !ok || !strings.HasPrefix(raw, vaultPrefix) {
			continue
		}
		if secrets == nil {
			return fmt.Errorf("%s: %w", key, ErrNoSecretResolver)
		}
		val, err := secrets.Resolve(ctx, strings.TrimPrefix(raw, vaultPrefix))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		zap.S().Debugw("config secret resolved", "key", key)
	}
	return nil
}
