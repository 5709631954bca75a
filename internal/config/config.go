// Package config assembles the bridge's configuration from built-in
// defaults, an optional project-local JSON file, and an environment-
// variable overlay with a fixed MCPLSP_ prefix — in that precedence order,
// matching spec §6. Config-file loading itself is named out of this
// core's scope; what lives here is the minimal defaults+overlay shape the
// rest of the core depends on, in the style of
// saibing-bingo/langserver/config.go's Config.Apply combined with
// loom/config.Config's load-then-merge pattern.
package config

import (
	"encoding/json"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// LanguageServer describes one configured LSP child command line.
type LanguageServer struct {
	Language   string            `json:"language"`
	Extensions []string          `json:"extensions"`
	Manifest   string            `json:"manifest"`
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Env        map[string]string `json:"env"`
	// InitializationOptions is passed through verbatim to the child's
	// initialize request (e.g. Python LSP plugin configuration).
	InitializationOptions map[string]interface{} `json:"initialization_options,omitempty"`
	// DiagnosticsQuiescenceMS resolves the Open Question in spec §9: the
	// diagnostic idle window is per-language configurable rather than a
	// hard-coded 300ms.
	DiagnosticsQuiescenceMS int `json:"diagnostics_quiescence_ms"`
	// RestartIntervalMinutes, when > 0, enables the periodic restart
	// policy from spec §4.2. Minimum enforced value is 1.
	RestartIntervalMinutes int `json:"restart_interval_minutes"`
}

// Pool holds Server Pool tunables.
type Pool struct {
	MaxServersPerLanguage int `json:"max_servers_per_language"`
	IdleTimeoutMS         int `json:"idle_timeout_ms"`
	CrashRestartDelayMS   int `json:"crash_restart_delay_ms"`
}

// Config is the bridge's full runtime configuration.
type Config struct {
	Languages         []LanguageServer `json:"languages"`
	Pool              Pool             `json:"pool"`
	RequestTimeoutMS  int              `json:"request_timeout_ms"`
	InitializeTimeoutMS int            `json:"initialize_timeout_ms"`
	Transport         string           `json:"transport"` // "stdio" or "websocket"
	WebSocketAddr     string           `json:"websocket_addr"`
	MaxParallelism    int              `json:"max_parallelism"`
}

// Default returns the built-in default configuration.
func Default() Config {
	maxParallelism := runtime.NumCPU() / 2
	if maxParallelism <= 0 {
		maxParallelism = 1
	}
	return Config{
		Pool: Pool{
			MaxServersPerLanguage: 2,
			IdleTimeoutMS:         60_000,
			CrashRestartDelayMS:   2_000,
		},
		RequestTimeoutMS:    30_000,
		InitializeTimeoutMS: 10_000,
		Transport:           "stdio",
		WebSocketAddr:       ":7777",
		MaxParallelism:      maxParallelism,
	}
}

// LoadFile merges a JSON config file over cfg, returning the merged
// result. A missing file is not an error; cfg is returned unchanged.
func LoadFile(cfg Config, path string) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return cfg, err
	}
	return merge(cfg, fileCfg), nil
}

// merge overlays non-zero fields of override onto base.
func merge(base, override Config) Config {
	if len(override.Languages) > 0 {
		base.Languages = override.Languages
	}
	if override.Pool.MaxServersPerLanguage != 0 {
		base.Pool.MaxServersPerLanguage = override.Pool.MaxServersPerLanguage
	}
	if override.Pool.IdleTimeoutMS != 0 {
		base.Pool.IdleTimeoutMS = override.Pool.IdleTimeoutMS
	}
	if override.Pool.CrashRestartDelayMS != 0 {
		base.Pool.CrashRestartDelayMS = override.Pool.CrashRestartDelayMS
	}
	if override.RequestTimeoutMS != 0 {
		base.RequestTimeoutMS = override.RequestTimeoutMS
	}
	if override.InitializeTimeoutMS != 0 {
		base.InitializeTimeoutMS = override.InitializeTimeoutMS
	}
	if override.Transport != "" {
		base.Transport = override.Transport
	}
	if override.WebSocketAddr != "" {
		base.WebSocketAddr = override.WebSocketAddr
	}
	if override.MaxParallelism != 0 {
		base.MaxParallelism = override.MaxParallelism
	}
	return base
}

// envPrefix is the fixed prefix every environment override carries, per
// spec §6: "fields mirror the config tree with a fixed prefix."
const envPrefix = "MCPLSP_"

// ApplyEnv overlays recognized MCPLSP_* environment variables onto cfg.
// Environment variables override file values, per spec §6.
func ApplyEnv(cfg Config, environ []string) Config {
	lookup := make(map[string]string, len(environ))
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		lookup[strings.TrimPrefix(name, envPrefix)] = value
	}

	if v, ok := lookup["POOL_MAX_SERVERS_PER_LANGUAGE"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxServersPerLanguage = n
		}
	}
	if v, ok := lookup["POOL_IDLE_TIMEOUT_MS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.IdleTimeoutMS = n
		}
	}
	if v, ok := lookup["POOL_CRASH_RESTART_DELAY_MS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.CrashRestartDelayMS = n
		}
	}
	if v, ok := lookup["REQUEST_TIMEOUT_MS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestTimeoutMS = n
		}
	}
	if v, ok := lookup["TRANSPORT"]; ok && v != "" {
		cfg.Transport = v
	}
	if v, ok := lookup["WEBSOCKET_ADDR"]; ok && v != "" {
		cfg.WebSocketAddr = v
	}
	return cfg
}

// JWTSecret reads the HMAC secret used for bearer-token verification.
// Per spec §6, secrets must come from the environment; there is no file
// or default fallback.
func JWTSecret(environ []string) (string, bool) {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if ok && name == "MCPLSP_JWT_SECRET" {
			return value, true
		}
	}
	return "", false
}
