package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// DefaultPath is the config file read by Load when no path is given.
	DefaultPath = "config.yaml"
	// DefaultOpenAIEndpoint is llm.endpoint's default.
	DefaultOpenAIEndpoint = "https://api.openai.com/v1"
)

// Config holds all configuration for the portfolio chat engine.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (warehouse password, LLM API key) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Engine    EngineConfig    `yaml:"engine"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	LLM       LLMConfig       `yaml:"llm"`
}

// EngineConfig holds conversation and query limits.
type EngineConfig struct {
	// MaxTurns bounds the turns kept per session.
	MaxTurns int `yaml:"max_turns" env:"ENGINE_MAX_TURNS" env-default:"50"`
	// SessionIdleTTL evicts sessions that received no turn for this long.
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl" env:"ENGINE_SESSION_IDLE_TTL" env-default:"30m"`
	// DefaultLimit is used by rankings that do not state a count.
	DefaultLimit int `yaml:"default_limit" env:"ENGINE_DEFAULT_LIMIT" env-default:"10"`
	// MaxLimit caps every plan, including "show all" expansions.
	MaxLimit int `yaml:"max_limit" env:"ENGINE_MAX_LIMIT" env-default:"1000"`
	// PreviewRows is how many result rows are kept on each turn.
	PreviewRows int `yaml:"preview_rows" env:"ENGINE_PREVIEW_ROWS" env-default:"20"`
	// ExecutionTimeout bounds one attempt against the warehouse.
	ExecutionTimeout time.Duration `yaml:"execution_timeout" env:"ENGINE_EXECUTION_TIMEOUT" env-default:"30s"`
	// ExecutionRetries is the number of retries after a failed execution (0 or 1).
	ExecutionRetries int `yaml:"execution_retries" env:"ENGINE_EXECUTION_RETRIES" env-default:"1"`
	// SpellCorrection enables edit-distance correction of domain terms.
	SpellCorrection bool `yaml:"spell_correction" env:"ENGINE_SPELL_CORRECTION" env-default:"true"`
}

// CatalogConfig locates the schema catalog.
type CatalogConfig struct {
	// Path to a catalog YAML file. Empty uses the embedded portfolio catalog.
	Path string `yaml:"path" env:"CATALOG_PATH" env-default:""`
}

// WarehouseConfig holds the execution collaborator's connection settings.
type WarehouseConfig struct {
	Type     string `yaml:"type" env:"WAREHOUSE_TYPE" env-default:"mssql"`
	Host     string `yaml:"host" env:"WAREHOUSE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"WAREHOUSE_PORT" env-default:"0"`
	User     string `yaml:"user" env:"WAREHOUSE_USER" env-default:""`
	Password string `yaml:"-" env:"WAREHOUSE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"WAREHOUSE_DATABASE" env-default:"portfolio"`
	// SSLMode applies to postgres.
	SSLMode string `yaml:"ssl_mode" env:"WAREHOUSE_SSL_MODE" env-default:"disable"`
	// Encrypt and TrustServerCertificate apply to SQL Server.
	Encrypt                bool `yaml:"encrypt" env:"WAREHOUSE_ENCRYPT" env-default:"true"`
	TrustServerCertificate bool `yaml:"trust_server_certificate" env:"WAREHOUSE_TRUST_SERVER_CERTIFICATE" env-default:"false"`
	// Path is the database file for duckdb. Empty opens an in-memory database.
	Path     string `yaml:"path" env:"WAREHOUSE_PATH" env-default:""`
	MaxConns int    `yaml:"max_conns" env:"WAREHOUSE_MAX_CONNS" env-default:"10"`
}

// LLMConfig holds the optional language-model collaborator.
type LLMConfig struct {
	// Provider is one of "none", "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider string        `yaml:"provider" env:"LLM_PROVIDER" env-default:"none"`
	Endpoint string        `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string        `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey   string        `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Timeout  time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"20s"`
	// MaxTokens bounds each completion.
	MaxTokens int `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"512"`
	// PhraseInsights lets the model rephrase template narratives.
	PhraseInsights bool `yaml:"phrase_insights" env:"LLM_PHRASE_INSIGHTS" env-default:"false"`
}

// Enabled returns true if a model provider is configured.
func (c *LLMConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != "none"
}

// Load reads configuration from path (config.yaml when empty) with environment
// variable overrides. A missing file is not an error: environment and defaults apply.
func Load(path, version string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Engine.MaxTurns <= 0 {
		return fmt.Errorf("engine.max_turns must be positive")
	}
	if c.Engine.DefaultLimit <= 0 || c.Engine.DefaultLimit > c.Engine.MaxLimit {
		return fmt.Errorf("engine.default_limit must be between 1 and engine.max_limit (%d)", c.Engine.MaxLimit)
	}
	if c.Engine.ExecutionRetries < 0 || c.Engine.ExecutionRetries > 1 {
		return fmt.Errorf("engine.execution_retries must be 0 or 1")
	}
	if c.Engine.ExecutionTimeout <= 0 {
		return fmt.Errorf("engine.execution_timeout must be positive")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}

	switch c.Warehouse.Type {
	case "mssql", "postgres", "duckdb":
	default:
		return fmt.Errorf("unsupported warehouse type %q", c.Warehouse.Type)
	}

	switch c.LLM.Provider {
	case "", "none":
	case "openai", "anthropic":
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required for provider %q", c.LLM.Provider)
		}
		if c.LLM.Timeout <= 0 {
			return fmt.Errorf("llm.timeout must be positive")
		}
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}

	return nil
}

// EffectivePort returns the configured port or the warehouse type's default.
func (c *WarehouseConfig) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	switch c.Type {
	case "postgres":
		return 5432
	case "mssql":
		return 1433
	default:
		return 0
	}
}
