// Package config loads the service configuration from defaults, an optional
// YAML file, a .env file and REPORTS_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ahrav/codereport/pkg/common/validate"
)

// EnvPrefix prefixes every environment override, e.g. REPORTS_DB_DSN.
const EnvPrefix = "REPORTS"

// Config is the complete service configuration.
type Config struct {
	// Dev swaps Postgres and S3 for in-memory stores.
	Dev     bool          `mapstructure:"dev"`
	Web     WebConfig     `mapstructure:"web"`
	DB      DBConfig      `mapstructure:"db"`
	S3      S3Config      `mapstructure:"s3"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Otel    OtelConfig    `mapstructure:"otel"`
	GitHub  GitHubConfig  `mapstructure:"github"`
	Reports ReportsConfig `mapstructure:"reports"`
	Log     LogConfig     `mapstructure:"log"`
}

// WebConfig configures the API and debug servers.
type WebConfig struct {
	APIHost            string        `mapstructure:"api_host" validate:"required,hostname_port"`
	DebugHost          string        `mapstructure:"debug_host" validate:"required,hostname_port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxUploadBytes     int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
}

// DBConfig configures the Postgres pool.
type DBConfig struct {
	DSN               string        `mapstructure:"dsn"`
	MaxConns          int32         `mapstructure:"max_conns" validate:"gte=1"`
	MinConns          int32         `mapstructure:"min_conns" validate:"gte=0,ltefield=MaxConns"`
	ConnectMaxElapsed time.Duration `mapstructure:"connect_max_elapsed" validate:"gt=0"`
}

// S3Config configures the archive bucket.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	Region          string `mapstructure:"region" validate:"required"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
}

// AuthConfig configures bearer token checks on the report routes.
type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// HS256Secret and RS256PublicKey (PEM) select the signing method.
	HS256Secret    string `mapstructure:"hs256_secret"`
	RS256PublicKey string `mapstructure:"rs256_public_key"`
	Issuer         string `mapstructure:"issuer"`
	Audience       string `mapstructure:"audience"`
}

// KafkaConfig configures status event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// OtelConfig configures telemetry export. No endpoint disables it.
type OtelConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	Probability float64 `mapstructure:"probability" validate:"gte=0,lte=1"`
	ServiceName string  `mapstructure:"service_name" validate:"required"`
}

// GitHubConfig configures archive downloads.
type GitHubConfig struct {
	Token           string        `mapstructure:"token"`
	MaxArchiveBytes int64         `mapstructure:"max_archive_bytes" validate:"gte=0"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec" validate:"gte=0"`
	Burst           int           `mapstructure:"burst" validate:"gte=0"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// ReportsConfig configures report generation.
type ReportsConfig struct {
	GenerationTimeout time.Duration `mapstructure:"generation_timeout" validate:"gte=0"`
	RecoveryTimeout   time.Duration `mapstructure:"recovery_timeout" validate:"gt=0"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace" validate:"gt=0"`
	DelayScale        float64       `mapstructure:"delay_scale" validate:"gte=0"`
	// CatalogPath overrides the embedded generator catalog.
	CatalogPath string `mapstructure:"catalog_path"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dev", false)

	v.SetDefault("web.api_host", "0.0.0.0:8000")
	v.SetDefault("web.debug_host", "0.0.0.0:8010")
	v.SetDefault("web.read_timeout", 5*time.Minute)
	v.SetDefault("web.write_timeout", 5*time.Minute)
	v.SetDefault("web.idle_timeout", 2*time.Minute)
	v.SetDefault("web.shutdown_timeout", 20*time.Second)
	v.SetDefault("web.max_upload_bytes", int64(4)<<30)
	v.SetDefault("web.cors_allowed_origins", []string{})

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.connect_max_elapsed", time.Minute)

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.bucket", "archives")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.hs256_secret", "")
	v.SetDefault("auth.rs256_public_key", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "report-status")
	v.SetDefault("kafka.client_id", "codereport")

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", true)
	v.SetDefault("otel.probability", 0.05)
	v.SetDefault("otel.service_name", "codereport")

	v.SetDefault("github.token", "")
	v.SetDefault("github.max_archive_bytes", int64(1)<<30)
	v.SetDefault("github.requests_per_sec", 0)
	v.SetDefault("github.burst", 1)
	v.SetDefault("github.timeout", 5*time.Minute)

	v.SetDefault("reports.generation_timeout", time.Duration(0))
	v.SetDefault("reports.recovery_timeout", 10*time.Second)
	v.SetDefault("reports.shutdown_grace", 15*time.Second)
	v.SetDefault("reports.delay_scale", 1.0)
	v.SetDefault("reports.catalog_path", "")

	v.SetDefault("log.level", "info")
}

func init() {
	validate.RegisterStructValidation(validateAuth, AuthConfig{})
	validate.RegisterStructValidation(validateConfig, Config{})
}

func validateAuth(sl validator.StructLevel) {
	a := sl.Current().Interface().(AuthConfig)
	if !a.Enabled {
		return
	}
	if a.HS256Secret == "" && a.RS256PublicKey == "" {
		sl.ReportError(a.HS256Secret, "hs256_secret", "HS256Secret", "required_without", "rs256_public_key")
	}
	if a.HS256Secret != "" && a.RS256PublicKey != "" {
		sl.ReportError(a.RS256PublicKey, "rs256_public_key", "RS256PublicKey", "excluded_with", "hs256_secret")
	}
}

func validateConfig(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)
	if !c.Dev && c.DB.DSN == "" {
		sl.ReportError(c.DB.DSN, "db.dsn", "DSN", "required", "")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		sl.ReportError(c.Kafka.Topic, "kafka.topic", "Topic", "required", "")
	}
}

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigFile is an optional YAML file.
	ConfigFile string
	// EnvFiles are dotenv files loaded into the environment. Missing files
	// are ignored. Defaults to ".env".
	EnvFiles []string
}

// Load builds and validates the configuration.
func Load(opts Options) (Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if err := validate.Check(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// String renders the configuration with secrets masked, for startup logs.
func (c Config) String() string {
	masked := c
	masked.DB.DSN = mask(c.DB.DSN)
	masked.S3.SecretAccessKey = mask(c.S3.SecretAccessKey)
	masked.Auth.HS256Secret = mask(c.Auth.HS256Secret)
	masked.GitHub.Token = mask(c.GitHub.Token)
	type plain Config
	return fmt.Sprintf("%+v", plain(masked))
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "xxxxxx"
}
