// Package config provides configuration loading, validation, and the
// encrypted secrets store for the client.
//
// Settings are resolved in a fixed order: built-in defaults, then the
// optional YAML config file, then environment variables, then the decrypted
// secrets store for credential material. The result is validated once and
// passed around as a value; nothing downstream reads raw environment
// variables or re-parses files.
//
// State (run history, audit events) never belongs here - that lives in the
// database. Config is only what the operator sets before startup.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied before the config file and environment are read.
const (
	DefaultConfigFile         = "foundry.yaml"
	DefaultModelDeployment    = "gpt-4o"
	DefaultAPIVersion         = "2024-05-01-preview"
	DefaultMaxTokens          = 4000
	DefaultConversationLimit  = 20
	DefaultAgentTimeoutSecs   = 300
	DefaultMaxRetries         = 3
	DefaultRetryInitialMS     = 2000
	DefaultRetryMaxMS         = 10000
	DefaultRetryBackoffFactor = 2.0
	DefaultAuditDBPath        = "foundry.db"
	DefaultLogLevel           = "info"
)

// Auth method names reported by AuthMethod. The credential resolver tries
// them in this order; config only reports what the field set implies.
const (
	AuthMethodManagedIdentity  = "managed_identity"
	AuthMethodServicePrincipal = "service_principal"
	AuthMethodCLI              = "cli"
)

// Environment variables honored by the managed identity runtime. Presence of
// either means the process is running with an ambient identity endpoint.
const (
	msiEndpointEnv      = "MSI_ENDPOINT"
	identityEndpointEnv = "IDENTITY_ENDPOINT"
)

// Config is the validated settings surface for the client. Field order
// mirrors the YAML file layout.
type Config struct {
	// Project coordinates.
	Endpoint       string `yaml:"endpoint"`
	SubscriptionID string `yaml:"subscription_id"`
	ResourceGroup  string `yaml:"resource_group"`
	ProjectName    string `yaml:"project_name"`

	// Service principal credentials. All three must be present for the
	// credential chain to consider them; a partial set is skipped. The
	// secret is never written to the YAML file - it comes from the
	// environment or the encrypted secrets store.
	TenantID     string `yaml:"tenant_id,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"-"`

	// Model settings.
	ModelDeployment string `yaml:"model_deployment"`
	APIVersion      string `yaml:"api_version"`

	// Request limits.
	MaxTokensPerRequest    int `yaml:"max_tokens_per_request"`
	MaxConversationHistory int `yaml:"max_conversation_history"`
	AgentTimeoutSeconds    int `yaml:"agent_timeout_seconds"`

	// Safety and audit.
	EnableContentFilter bool   `yaml:"enable_content_filter"`
	EnableAuditLog      bool   `yaml:"enable_audit_log"`
	AuditDBPath         string `yaml:"audit_db_path"`

	// Retry policy for session opens and platform calls.
	MaxRetries          int     `yaml:"max_retries"`
	RetryInitialDelayMS int     `yaml:"retry_initial_delay_ms"`
	RetryMaxDelayMS     int     `yaml:"retry_max_delay_ms"`
	RetryBackoffFactor  float64 `yaml:"retry_backoff_factor"`

	// Observability.
	LogLevel      string `yaml:"log_level"`
	MetricsAddr   string `yaml:"metrics_addr,omitempty"`
	PrometheusURL string `yaml:"prometheus_url,omitempty"`
}

// Default returns a config populated with built-in defaults. Required
// project coordinates are left empty and must come from the file or
// environment.
func Default() *Config {
	return &Config{
		ModelDeployment:        DefaultModelDeployment,
		APIVersion:             DefaultAPIVersion,
		MaxTokensPerRequest:    DefaultMaxTokens,
		MaxConversationHistory: DefaultConversationLimit,
		AgentTimeoutSeconds:    DefaultAgentTimeoutSecs,
		EnableContentFilter:    true,
		EnableAuditLog:         false,
		AuditDBPath:            DefaultAuditDBPath,
		MaxRetries:             DefaultMaxRetries,
		RetryInitialDelayMS:    DefaultRetryInitialMS,
		RetryMaxDelayMS:        DefaultRetryMaxMS,
		RetryBackoffFactor:     DefaultRetryBackoffFactor,
		LogLevel:               DefaultLogLevel,
	}
}

// Load resolves the full config: defaults, then the YAML file at path (or
// DefaultConfigFile when path is empty; a missing default file is not an
// error), then environment overrides, then the secrets store for the client
// secret. The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Default file is optional; env vars may carry everything.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	// Service principal secret may live in the encrypted secrets store
	// instead of the shell environment.
	if cfg.ClientSecret == "" {
		if value, err := GetSecret("AZURE_CLIENT_SECRET"); err == nil {
			cfg.ClientSecret = value
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers environment variables over whatever the file set.
// Azure coordinates use the standard AZURE_* names so existing tooling and
// CI environments work unchanged; everything else is FOUNDRY_-prefixed.
func (c *Config) applyEnvOverrides() {
	envString("AZURE_AI_ENDPOINT", &c.Endpoint)
	envString("AZURE_SUBSCRIPTION_ID", &c.SubscriptionID)
	envString("AZURE_RESOURCE_GROUP", &c.ResourceGroup)
	envString("AZURE_AI_PROJECT_NAME", &c.ProjectName)
	envString("AZURE_TENANT_ID", &c.TenantID)
	envString("AZURE_CLIENT_ID", &c.ClientID)
	envString("AZURE_CLIENT_SECRET", &c.ClientSecret)

	envString("FOUNDRY_MODEL_DEPLOYMENT", &c.ModelDeployment)
	envString("FOUNDRY_API_VERSION", &c.APIVersion)
	envInt("FOUNDRY_MAX_TOKENS_PER_REQUEST", &c.MaxTokensPerRequest)
	envInt("FOUNDRY_MAX_CONVERSATION_HISTORY", &c.MaxConversationHistory)
	envInt("FOUNDRY_AGENT_TIMEOUT_SECONDS", &c.AgentTimeoutSeconds)
	envBool("FOUNDRY_ENABLE_CONTENT_FILTER", &c.EnableContentFilter)
	envBool("FOUNDRY_ENABLE_AUDIT_LOG", &c.EnableAuditLog)
	envString("FOUNDRY_AUDIT_DB_PATH", &c.AuditDBPath)
	envInt("FOUNDRY_MAX_RETRIES", &c.MaxRetries)
	envString("FOUNDRY_LOG_LEVEL", &c.LogLevel)
	envString("FOUNDRY_METRICS_ADDR", &c.MetricsAddr)
	envString("FOUNDRY_PROMETHEUS_URL", &c.PrometheusURL)
}

// Validate normalizes and checks the config. It is called by Load but is
// also safe to call on a hand-built Config.
func (c *Config) Validate() error {
	c.Endpoint = strings.TrimRight(strings.TrimSpace(c.Endpoint), "/")

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required (set AZURE_AI_ENDPOINT or the endpoint field)")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("endpoint %q is not a valid URL", c.Endpoint)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("endpoint must use https, got %q", c.Endpoint)
	}

	if c.SubscriptionID == "" {
		return fmt.Errorf("subscription_id is required")
	}
	if c.ResourceGroup == "" {
		return fmt.Errorf("resource_group is required")
	}
	if c.ProjectName == "" {
		return fmt.Errorf("project_name is required")
	}
	if c.ModelDeployment == "" {
		return fmt.Errorf("model_deployment must not be empty")
	}
	if c.APIVersion == "" {
		return fmt.Errorf("api_version must not be empty")
	}

	if c.MaxTokensPerRequest < 1 || c.MaxTokensPerRequest > 128000 {
		return fmt.Errorf("max_tokens_per_request must be between 1 and 128000 (got %d)", c.MaxTokensPerRequest)
	}
	if c.MaxConversationHistory < 1 || c.MaxConversationHistory > 100 {
		return fmt.Errorf("max_conversation_history must be between 1 and 100 (got %d)", c.MaxConversationHistory)
	}
	if c.AgentTimeoutSeconds < 10 || c.AgentTimeoutSeconds > 600 {
		return fmt.Errorf("agent_timeout_seconds must be between 10 and 600 (got %d)", c.AgentTimeoutSeconds)
	}

	if c.EnableAuditLog && c.AuditDBPath == "" {
		return fmt.Errorf("audit_db_path must be set when audit logging is enabled")
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10 (got %d)", c.MaxRetries)
	}
	if c.RetryInitialDelayMS < 1 {
		return fmt.Errorf("retry_initial_delay_ms must be positive (got %d)", c.RetryInitialDelayMS)
	}
	if c.RetryMaxDelayMS < c.RetryInitialDelayMS {
		return fmt.Errorf("retry_max_delay_ms must be >= retry_initial_delay_ms (got %d < %d)",
			c.RetryMaxDelayMS, c.RetryInitialDelayMS)
	}
	if c.RetryBackoffFactor < 1.0 {
		return fmt.Errorf("retry_backoff_factor must be >= 1.0 (got %g)", c.RetryBackoffFactor)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}

	if c.PrometheusURL != "" {
		if _, err := url.Parse(c.PrometheusURL); err != nil {
			return fmt.Errorf("prometheus_url %q is not a valid URL: %w", c.PrometheusURL, err)
		}
	}

	return nil
}

// ConnectionString returns the project connection string in the
// endpoint;subscription;resourceGroup;project form the platform tooling
// expects.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf("%s;%s;%s;%s", c.Endpoint, c.SubscriptionID, c.ResourceGroup, c.ProjectName)
}

// AuthMethod reports which credential source the current field set implies.
// The credential resolver makes the final call; this exists for logging and
// the status command.
func (c *Config) AuthMethod() string {
	if msiEndpointPresent() {
		return AuthMethodManagedIdentity
	}
	if c.HasServicePrincipal() {
		return AuthMethodServicePrincipal
	}
	return AuthMethodCLI
}

// HasServicePrincipal reports whether all three service principal fields are
// set. A partial set is treated as absent.
func (c *Config) HasServicePrincipal() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// AgentTimeout returns the per-run timeout as a duration.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// String renders the config for logs with credential material redacted.
func (c *Config) String() string {
	secret := ""
	if c.ClientSecret != "" {
		secret = "[redacted]"
	}
	return fmt.Sprintf("endpoint=%s project=%s deployment=%s api_version=%s auth=%s client_secret=%s",
		c.Endpoint, c.ProjectName, c.ModelDeployment, c.APIVersion, c.AuthMethod(), secret)
}

func msiEndpointPresent() bool {
	return os.Getenv(msiEndpointEnv) != "" || os.Getenv(identityEndpointEnv) != ""
}

func envString(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func envInt(key string, dst *int) {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			*dst = b
		}
	}
}
