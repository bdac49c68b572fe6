package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/latchkey-labs/pileup/internal/common"
)

// Mode is the orchestrator's driving mode. Load does not read it from the
// environment or the config file; the full subcommand sets ModeAll.
type Mode string

// Mode constants.
const (
	ModeScan     Mode = "scan"
	ModeHash     Mode = "hash"
	ModeClassify Mode = "classify"
	ModePlan     Mode = "plan"
	ModeAll      Mode = "all"
)

// ParseMode validates a mode name; no command line path calls it.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeScan, ModeHash, ModeClassify, ModePlan, ModeAll:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", common.ErrConfig, raw)
	}
}

// Endpoint is one parsed entry of the OLLAMA_URL env var spec
// "url|workers|model,url2|workers2|model2,...".
type Endpoint struct {
	URL     string
	Model   string
	Workers int
}

// ParseEndpoints parses the comma-separated endpoint spec described in
// spec.md section 6.
func ParseEndpoints(spec string) ([]Endpoint, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var endpoints []Endpoint
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: malformed endpoint spec %q, want url|workers|model", common.ErrConfig, raw)
		}
		workers, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || workers <= 0 {
			return nil, fmt.Errorf("%w: invalid worker count in %q: %v", common.ErrConfig, raw, err)
		}
		endpoints = append(endpoints, Endpoint{
			URL:     strings.TrimSpace(parts[0]),
			Workers: workers,
			Model:   strings.TrimSpace(parts[2]),
		})
	}
	return endpoints, nil
}

// Config holds the full set of pipeline settings, bound from viper/env/flags.
type Config struct {
	CatalogPath        string
	RulesPath          string
	CategoriesPath     string
	SourceRoots        []string
	SourceWrapperRegex string

	Mode Mode

	ScanWorkers int
	HashWorkers int
	MoveWorkers int

	NoAI             bool
	AIEndpoints      []Endpoint
	AIRequestTimeout int // seconds
	AIMaxRetries     int

	FolderSampleLimit int
	HashAlgorithm     string // "sha256" or equivalent
	CatalogBatchSize  int

	// ClassifyBudgetSeconds bounds the classification stage's wall-clock
	// run time; on exceedance remaining folders fall through to default.
	ClassifyBudgetSeconds int
}

// DefaultConfig returns the pipeline's baseline settings.
func DefaultConfig() Config {
	return Config{
		CatalogPath:           "pileup.db",
		RulesPath:             "rules.csv",
		CategoriesPath:        "categories.csv",
		ScanWorkers:           8,
		HashWorkers:           8,
		MoveWorkers:           4,
		AIRequestTimeout:      120,
		AIMaxRetries:          2,
		FolderSampleLimit:     48,
		HashAlgorithm:         "sha256",
		CatalogBatchSize:      500,
		ClassifyBudgetSeconds: 1800,
	}
}

// LoadDotEnv loads a .env file (if present) before viper's environment
// binding takes over, matching the CLI-tool layering used by several
// repositories in the reference corpus; a missing .env file is not an
// error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path) // .env is optional; never fail startup over it
	return nil
}

// Load reads the full Config from viper, applying defaults and validating
// the parts that can be checked without touching the filesystem.
func Load() (Config, error) {
	cfg := DefaultConfig()

	if v := viper.GetString("catalog.path"); v != "" {
		cfg.CatalogPath = ExpandPath(v)
	}
	if v := viper.GetString("rules.path"); v != "" {
		cfg.RulesPath = ExpandPath(v)
	}
	if v := viper.GetString("categories.path"); v != "" {
		cfg.CategoriesPath = ExpandPath(v)
	}
	if v := viper.GetStringSlice("sources"); len(v) > 0 {
		cfg.SourceRoots = v
	}
	if v := viper.GetString("source_wrapper_regex"); v != "" {
		cfg.SourceWrapperRegex = v
	}
	if v := viper.GetInt("workers.scan"); v > 0 {
		cfg.ScanWorkers = v
	}
	if v := viper.GetInt("workers.hash"); v > 0 {
		cfg.HashWorkers = v
	}
	if v := viper.GetInt("workers.move"); v > 0 {
		cfg.MoveWorkers = v
	}
	if viper.IsSet("ai.disabled") {
		cfg.NoAI = viper.GetBool("ai.disabled")
	}
	_ = viper.BindEnv("ai.endpoints", "OLLAMA_URL")
	if v := viper.GetString("ai.endpoints"); v != "" {
		endpoints, err := ParseEndpoints(v)
		if err != nil {
			return cfg, err
		}
		cfg.AIEndpoints = endpoints
	}
	if v := viper.GetInt("ai.timeout_seconds"); v > 0 {
		cfg.AIRequestTimeout = v
	}
	if viper.IsSet("ai.max_retries") {
		if v := viper.GetInt("ai.max_retries"); v >= 0 {
			cfg.AIMaxRetries = v
		}
	}
	if v := viper.GetInt("folder_sample_limit"); v > 0 {
		cfg.FolderSampleLimit = v
	}
	if v := viper.GetInt("catalog.batch_size"); v > 0 {
		cfg.CatalogBatchSize = v
	}
	if v := viper.GetInt("classify.budget_seconds"); v > 0 {
		cfg.ClassifyBudgetSeconds = v
	}

	return cfg, nil
}
