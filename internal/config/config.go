// Package config provides configuration management for the memory engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Defaults for the environment-configurable surface named in §6.3.
const (
	DefaultModel                    = "haiku"
	DefaultDedupThreshold            = 0.92
	DefaultInjectionDedupThreshold   = 0.80
	DefaultDBPoolSize                = 8
	DefaultVisibilityTimeoutSeconds  = 300
	DefaultMaxRetries                = 5
	DefaultWorkerConcurrency         = 8
	DefaultQueueBatchSize            = 16
	DefaultHTTPPort                  = 37777
)

// Config holds the application configuration. Field order is grouped by concern, not
// alphabetized, matching the teacher's fieldalignment-driven layout for its own struct.
type Config struct {
	Model                      string
	DatabaseURL                string
	DBPoolSize                 int
	DedupThreshold             float64
	InjectionDedupThreshold    float64
	FilterPatterns             []string
	VisibilityTimeoutSeconds   int
	MaxRetries                 int
	WorkerConcurrency          int
	QueueBatchSize             int
	HTTPPort                   int
	ProjectExclusions          []string
	EmbeddingDimensions        int
	JudgeAPIKey                string
	JudgeBaseURL               string
	EmbeddingAPIKey            string
	EmbeddingBaseURL           string
	EmbeddingModelName         string
}

var (
	global     *Config
	globalOnce sync.Once
	globalMu   sync.RWMutex
)

// DataDir returns the engine's data directory (~/.memengine).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memengine")
}

// SettingsPath returns the JSON settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory (owner-only permissions) if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o700)
}

// Default returns a Config populated with the defaults named in spec.md §6.3.
func Default() *Config {
	return &Config{
		Model:                    DefaultModel,
		DBPoolSize:               DefaultDBPoolSize,
		DedupThreshold:           DefaultDedupThreshold,
		InjectionDedupThreshold:  DefaultInjectionDedupThreshold,
		VisibilityTimeoutSeconds: DefaultVisibilityTimeoutSeconds,
		MaxRetries:               DefaultMaxRetries,
		WorkerConcurrency:        DefaultWorkerConcurrency,
		QueueBatchSize:           DefaultQueueBatchSize,
		HTTPPort:                 DefaultHTTPPort,
		EmbeddingDimensions:      384,
	}
}

// settingsFile mirrors the on-disk JSON shape; unknown keys are tolerated, missing keys
// fall back to Default()'s values.
type settingsFile struct {
	Model                    *string  `json:"model"`
	DedupThreshold           *float64 `json:"dedup_threshold"`
	InjectionDedupThreshold  *float64 `json:"injection_dedup_threshold"`
	FilterPatterns           *string  `json:"filter_patterns"`
	DBPoolSize               *int     `json:"db_pool_size"`
}

// Load builds a Config from defaults, then the JSON settings file (tolerant of a missing
// or malformed file), then environment variables, which take final precedence — matching
// the override order spec.md §6.3 implies for its `*_`-prefixed variables.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(SettingsPath()); err == nil {
		var s settingsFile
		if err := json.Unmarshal(data, &s); err != nil {
			log.Warn().Err(err).Str("path", SettingsPath()).Msg("settings file is not valid JSON, using defaults")
		} else {
			applySettings(cfg, &s)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnv(cfg)

	cfg.DedupThreshold = clamp01("MEM_DEDUP_THRESHOLD", cfg.DedupThreshold)
	cfg.InjectionDedupThreshold = clamp01("MEM_INJECTION_DEDUP_THRESHOLD", cfg.InjectionDedupThreshold)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func applySettings(cfg *Config, s *settingsFile) {
	if s.Model != nil && *s.Model != "" {
		cfg.Model = *s.Model
	}
	if s.DedupThreshold != nil {
		cfg.DedupThreshold = *s.DedupThreshold
	}
	if s.InjectionDedupThreshold != nil {
		cfg.InjectionDedupThreshold = *s.InjectionDedupThreshold
	}
	if s.FilterPatterns != nil && *s.FilterPatterns != "" {
		cfg.FilterPatterns = splitTrim(*s.FilterPatterns)
	}
	if s.DBPoolSize != nil && *s.DBPoolSize > 0 {
		cfg.DBPoolSize = *s.DBPoolSize
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MEM_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.JudgeAPIKey = v
	}
	if v := os.Getenv("MEM_JUDGE_BASE_URL"); v != "" {
		cfg.JudgeBaseURL = v
	}
	if v := os.Getenv("MEM_EMBEDDING_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = v
	}
	if v := os.Getenv("MEM_EMBEDDING_BASE_URL"); v != "" {
		cfg.EmbeddingBaseURL = v
	}
	if v := os.Getenv("MEM_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModelName = v
	}
	if v := os.Getenv("MEM_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EmbeddingDimensions = n
		}
	}
	if v := os.Getenv("MEM_DEDUP_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DedupThreshold = f
		}
	}
	if v := os.Getenv("MEM_INJECTION_DEDUP_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.InjectionDedupThreshold = f
		}
	}
	if v := os.Getenv("MEM_FILTER_PATTERNS"); v != "" {
		cfg.FilterPatterns = splitTrim(v)
	}
	if v := os.Getenv("MEM_DB_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DBPoolSize = n
		}
	}
}

// clamp01 coerces a threshold into [0,1], warning on the coercion (§6.3's last line).
func clamp01(name string, v float64) float64 {
	if v < 0 {
		log.Warn().Str("setting", name).Float64("value", v).Msg("threshold below 0, clamped")
		return 0
	}
	if v > 1 {
		log.Warn().Str("setting", name).Float64("value", v).Msg("threshold above 1, clamped")
		return 1
	}
	return v
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the process-wide Config, loading it on first access.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Error().Err(err).Msg("config load failed, falling back to defaults")
			cfg = Default()
		}
		globalMu.Lock()
		global = cfg
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Set overrides the process-wide Config, used by tests and admin reload paths.
func Set(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cfg
}
