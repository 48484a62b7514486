package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/exigo-bridge/internal/domain"
)

// Config holds all configuration for the bridge.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Log           LogConfig           `yaml:"log"`
	AWS           AWSConfig           `yaml:"aws"`
	SnapshotStore SnapshotStoreConfig `yaml:"snapshot_store"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Fanout        FanoutConfig        `yaml:"fanout"`
	Fluid         FluidConfig         `yaml:"fluid"`
	Exigo         ExigoConfig         `yaml:"exigo"`
	Sync          SyncConfig          `yaml:"sync"`
	Companies     []CompanyConfig     `yaml:"companies" validate:"dive"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port       int    `yaml:"port" validate:"min=1,max=65535"`
	Host       string `yaml:"host"`
	AdminToken string `yaml:"admin_token"`
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the bridge's own Postgres connection.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection used for locks and fan-out sets.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// AWSConfig holds AWS settings shared by the S3 archive, SQS page queue,
// SES alerts, and the DynamoDB snapshot store.
type AWSConfig struct {
	Region          string   `yaml:"region"`
	Profile         string   `yaml:"profile"` // Empty string uses default credential chain
	AccessKeyID     string   `yaml:"access_key_id"`
	SecretAccessKey string   `yaml:"secret_access_key"`
	ArchiveBucket   string   `yaml:"archive_bucket"`
	PageQueueURL    string   `yaml:"page_queue_url" validate:"omitempty,url"`
	AlertSender     string   `yaml:"alert_sender" validate:"omitempty,email"`
	AlertRecipients []string `yaml:"alert_recipients" validate:"dive,email"`
	SnapshotTable   string   `yaml:"snapshot_table"`
}

// SnapshotStoreConfig selects the snapshot backend.
type SnapshotStoreConfig struct {
	Type string `yaml:"type" validate:"oneof=postgres dynamodb"`
}

// SchedulerConfig controls the recurring per-company sync loop.
type SchedulerConfig struct {
	IntervalMinutes    int `yaml:"interval_minutes"`
	CompanyConcurrency int `yaml:"company_concurrency"`
	RunTimeoutMinutes  int `yaml:"run_timeout_minutes"`
	LockTTLMinutes     int `yaml:"lock_ttl_minutes"`
}

// Interval returns the scheduling interval as a duration
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// RunTimeout bounds one company's run.
func (c SchedulerConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// LockTTL is the TTL of the per-company run lock.
func (c SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// FanoutConfig controls batch page processing.
type FanoutConfig struct {
	Mode          string `yaml:"mode" validate:"oneof=local sqs"`
	PageSize      int    `yaml:"page_size" validate:"min=1,max=500"`
	Workers       int    `yaml:"workers" validate:"min=1"`
	SetTTLMinutes int    `yaml:"set_ttl_minutes"`
}

// SetTTL is how long the shared active-ID set lives in Redis.
func (c FanoutConfig) SetTTL() time.Duration {
	return time.Duration(c.SetTTLMinutes) * time.Minute
}

// FluidConfig holds Fluid API configuration
type FluidConfig struct {
	BaseURL        string `yaml:"base_url" validate:"required,url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c FluidConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExigoConfig holds Exigo REST API configuration shared by all companies.
type ExigoConfig struct {
	TimeoutSeconds      int `yaml:"timeout_seconds"`
	MaxRetries          int `yaml:"max_retries"`
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c ExigoConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// QueryTimeout bounds the autoship SQL query.
func (c ExigoConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// SyncConfig holds engine-wide settings.
type SyncConfig struct {
	// DryRun turns every platform and back-office mutation into a logged no-op.
	DryRun   bool           `yaml:"dry_run"`
	Defaults SettingsConfig `yaml:"defaults"`
	// AuditRetentionDays deletes transitions older than this many days.
	// Zero keeps them forever.
	AuditRetentionDays int `yaml:"audit_retention_days" validate:"min=0"`
}

// AuditRetention returns the retention window, zero when disabled.
func (c SyncConfig) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

// SettingsConfig is the YAML form of domain.IntegrationSettings.
type SettingsConfig struct {
	PreferredCustomerTypeID int     `yaml:"preferred_customer_type_id" validate:"min=0"`
	RetailCustomerTypeID    int     `yaml:"retail_customer_type_id" validate:"min=0"`
	APIDelaySeconds         float64 `yaml:"api_delay_seconds"`
	SnapshotsToKeep         int     `yaml:"snapshots_to_keep" validate:"min=0"`
	DailyWarmupLimit        int     `yaml:"daily_warmup_limit" validate:"min=0"`
}

// Settings converts to domain settings. Unset fields stay zero so that
// domain.IntegrationSettings.WithDefaults can fill them.
func (c SettingsConfig) Settings() domain.IntegrationSettings {
	return domain.IntegrationSettings{
		PreferredCustomerTypeID: c.PreferredCustomerTypeID,
		RetailCustomerTypeID:    c.RetailCustomerTypeID,
		APIDelay:                time.Duration(c.APIDelaySeconds * float64(time.Second)),
		SnapshotsToKeep:         c.SnapshotsToKeep,
		DailyWarmupLimit:        c.DailyWarmupLimit,
	}
}

// CompanyConfig holds one tenant's credentials. Secrets may reference
// environment variables as ${NAME}; they are expanded once by Load.
type CompanyConfig struct {
	ID           string             `yaml:"id" validate:"required"`
	Name         string             `yaml:"name"`
	Active       *bool              `yaml:"active"`
	ExigoEnabled bool               `yaml:"exigo_enabled"`
	Fluid        CompanyFluidConfig `yaml:"fluid"`
	Exigo        CompanyExigoConfig `yaml:"exigo"`
	Settings     *SettingsConfig    `yaml:"settings"`
}

// IsActive defaults to true when unset.
func (c CompanyConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

// CompanyFluidConfig holds a company's Fluid credentials.
type CompanyFluidConfig struct {
	APIToken      string `yaml:"api_token"`
	WebhookSecret string `yaml:"webhook_secret"`
	BaseURL       string `yaml:"base_url" validate:"omitempty,url"`
}

// CompanyExigoConfig holds a company's Exigo credentials: the Sync
// database for autoship reads and the REST API for customer-type writes.
type CompanyExigoConfig struct {
	SQLDriver   string `yaml:"sql_driver" validate:"omitempty,oneof=sqlserver snowflake"`
	SQLDSN      string `yaml:"sql_dsn"`
	APIBaseURL  string `yaml:"api_base_url" validate:"omitempty,url"`
	LoginName   string `yaml:"login_name"`
	Password    string `yaml:"password"`
	CompanyName string `yaml:"company_name"`
}

// Company returns the company's config by ID.
func (c *Config) Company(id string) (CompanyConfig, bool) {
	for _, cc := range c.Companies {
		if cc.ID == id {
			return cc, true
		}
	}
	return CompanyConfig{}, false
}

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

// Validate checks struct tags and the cross-field rules tags can't express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	seen := make(map[string]bool, len(c.Companies))
	for _, cc := range c.Companies {
		if seen[cc.ID] {
			return fmt.Errorf("%w: duplicate company id %q", ErrInvalid, cc.ID)
		}
		seen[cc.ID] = true
		if !cc.ExigoEnabled {
			continue
		}
		var missing []string
		if cc.Fluid.APIToken == "" {
			missing = append(missing, "fluid.api_token")
		}
		if cc.Exigo.SQLDSN == "" {
			missing = append(missing, "exigo.sql_dsn")
		}
		if cc.Exigo.APIBaseURL == "" {
			missing = append(missing, "exigo.api_base_url")
		}
		if cc.Exigo.LoginName == "" || cc.Exigo.Password == "" {
			missing = append(missing, "exigo.login_name/password")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: company %q is exigo_enabled but missing %s",
				ErrInvalid, cc.ID, strings.Join(missing, ", "))
		}
	}
	if c.SnapshotStore.Type == "dynamodb" && c.AWS.SnapshotTable == "" {
		return fmt.Errorf("%w: snapshot_store dynamodb requires aws.snapshot_table", ErrInvalid)
	}
	if c.Fanout.Mode == "sqs" && c.AWS.PageQueueURL == "" {
		return fmt.Errorf("%w: fanout mode sqs requires aws.page_queue_url", ErrInvalid)
	}
	return nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.expandSecrets()
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}
	if c.SnapshotStore.Type == "" {
		c.SnapshotStore.Type = "postgres"
	}
	if c.Scheduler.IntervalMinutes == 0 {
		c.Scheduler.IntervalMinutes = 24 * 60
	}
	if c.Scheduler.CompanyConcurrency == 0 {
		c.Scheduler.CompanyConcurrency = 4
	}
	if c.Scheduler.RunTimeoutMinutes == 0 {
		c.Scheduler.RunTimeoutMinutes = 6 * 60
	}
	if c.Scheduler.LockTTLMinutes == 0 {
		c.Scheduler.LockTTLMinutes = 15
	}
	if c.Fanout.Mode == "" {
		c.Fanout.Mode = "local"
	}
	if c.Fanout.PageSize == 0 {
		c.Fanout.PageSize = 100
	}
	if c.Fanout.Workers == 0 {
		c.Fanout.Workers = 4
	}
	if c.Fanout.SetTTLMinutes == 0 {
		c.Fanout.SetTTLMinutes = 12 * 60
	}
	if c.Fluid.BaseURL == "" {
		c.Fluid.BaseURL = "https://api.fluid.app"
	}
	if c.Fluid.TimeoutSeconds == 0 {
		c.Fluid.TimeoutSeconds = 30
	}
	if c.Fluid.MaxRetries == 0 {
		c.Fluid.MaxRetries = 3
	}
	if c.Exigo.TimeoutSeconds == 0 {
		c.Exigo.TimeoutSeconds = 30
	}
	if c.Exigo.MaxRetries == 0 {
		c.Exigo.MaxRetries = 3
	}
	if c.Exigo.QueryTimeoutSeconds == 0 {
		c.Exigo.QueryTimeoutSeconds = 120
	}
	for i := range c.Companies {
		if c.Companies[i].Exigo.SQLDriver == "" {
			c.Companies[i].Exigo.SQLDriver = "sqlserver"
		}
	}
}

// expandSecrets resolves ${NAME} references in credential fields, once.
func (c *Config) expandSecrets() {
	c.Server.AdminToken = os.ExpandEnv(c.Server.AdminToken)
	c.Database.URL = os.ExpandEnv(c.Database.URL)
	c.Redis.URL = os.ExpandEnv(c.Redis.URL)
	c.AWS.AccessKeyID = os.ExpandEnv(c.AWS.AccessKeyID)
	c.AWS.SecretAccessKey = os.ExpandEnv(c.AWS.SecretAccessKey)
	for i := range c.Companies {
		cc := &c.Companies[i]
		cc.Fluid.APIToken = os.ExpandEnv(cc.Fluid.APIToken)
		cc.Fluid.WebhookSecret = os.ExpandEnv(cc.Fluid.WebhookSecret)
		cc.Exigo.SQLDSN = os.ExpandEnv(cc.Exigo.SQLDSN)
		cc.Exigo.LoginName = os.ExpandEnv(cc.Exigo.LoginName)
		cc.Exigo.Password = os.ExpandEnv(cc.Exigo.Password)
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("FLUID_BASE_URL"); v != "" {
		cfg.Fluid.BaseURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("SYNC_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sync.DryRun = b
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
