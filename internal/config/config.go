package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	CORS      CORSConfig      `yaml:"cors"`
	Cooldown  CooldownConfig  `yaml:"cooldown"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	DVLA      UpstreamConfig  `yaml:"dvla"`
	Tyres     UpstreamConfig  `yaml:"tyres"`
	Email     EmailConfig     `yaml:"email"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Audit     AuditConfig     `yaml:"audit"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Environment     string        `yaml:"environment"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Cooldown windows for the vehicle lookup endpoint.
type CooldownConfig struct {
	CoarseWindow time.Duration `yaml:"coarse_window"`
	FineWindow   time.Duration `yaml:"fine_window"`
	Capacity     int           `yaml:"capacity"`
}

// Fixed-window limits for the enquiry endpoint.
type RateLimitConfig struct {
	Window   time.Duration `yaml:"window"`
	IPMax    int           `yaml:"ip_max"`
	EmailMax int           `yaml:"email_max"`
	Capacity int           `yaml:"capacity"`
}

type UpstreamConfig struct {
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key"`
	AuthScheme        string        `yaml:"auth_scheme"` // "x-api-key" or "bearer"
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxFailures       int           `yaml:"max_failures"`
	OpenTimeout       time.Duration `yaml:"open_timeout"`
}

type EmailConfig struct {
	URL       string        `yaml:"url"`
	AccessKey string        `yaml:"access_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

type SheetsConfig struct {
	ServiceAccountEmail string        `yaml:"service_account_email"`
	PrivateKey          string        `yaml:"private_key"`
	SpreadsheetID       string        `yaml:"spreadsheet_id"`
	TokenURL            string        `yaml:"token_url"`
	BaseURL             string        `yaml:"base_url"`
	OrdersRange         string        `yaml:"orders_range"`
	APILogRange         string        `yaml:"api_log_range"`
	Timeout             time.Duration `yaml:"timeout"`
}

func (s SheetsConfig) Enabled() bool {
	return s.ServiceAccountEmail != "" && s.PrivateKey != "" && s.SpreadsheetID != ""
}

type RedisConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	LookupTTL time.Duration `yaml:"lookup_ttl"`
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (r RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	SlowQuery       time.Duration `yaml:"slow_query"`
}

func (d DatabaseConfig) Enabled() bool {
	return d.DSN != ""
}

type AuditConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	IPHashKey     string        `yaml:"ip_hash_key"`
}

// Default returns the configuration used when no file or environment overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Environment:     "development",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		CORS: CORSConfig{
			AllowedOrigins: []string{
				"https://ossettyres.co.uk",
				"https://www.ossettyres.co.uk",
			},
		},
		Cooldown: CooldownConfig{
			CoarseWindow: 2 * time.Second,
			FineWindow:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Window:   time.Minute,
			IPMax:    5,
			EmailMax: 3,
		},
		DVLA: UpstreamConfig{
			URL:               "https://driver-vehicle-licensing.api.gov.uk/vehicle-enquiry/v1/vehicles",
			AuthScheme:        "x-api-key",
			Timeout:           8 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			MaxFailures:       5,
			OpenTimeout:       30 * time.Second,
		},
		Tyres: UpstreamConfig{
			URL:               "https://api.oneautoapi.com/driverightdata/oetyrefitmentdata/v2",
			AuthScheme:        "x-api-key",
			Timeout:           8 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			MaxFailures:       5,
			OpenTimeout:       30 * time.Second,
		},
		Email: EmailConfig{
			URL:     "https://api.web3forms.com/submit",
			Timeout: 10 * time.Second,
		},
		Sheets: SheetsConfig{
			TokenURL:    "https://oauth2.googleapis.com/token",
			BaseURL:     "https://sheets.googleapis.com",
			OrdersRange: "Orders!A:Z",
			APILogRange: "api logging tracker!A:Z",
			Timeout:     10 * time.Second,
		},
		Redis: RedisConfig{
			Port:      6379,
			LookupTTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			MaxIdleConns:    2,
			MaxOpenConns:    10,
			ConnMaxLifetime: time.Hour,
			SlowQuery:       500 * time.Millisecond,
		},
		Audit: AuditConfig{
			BufferSize:    1000,
			BatchSize:     50,
			FlushInterval: 5 * time.Second,
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(file, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.Sheets.PrivateKey = normalizePrivateKey(cfg.Sheets.PrivateKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Environment, "ENVIRONMENT")
	setString(&c.Logging.Level, "LOG_LEVEL")

	if v := getEnv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORS.AllowedOrigins = splitCSV(v)
	}

	setString(&c.DVLA.APIKey, "DVLA_API_KEY")
	setString(&c.DVLA.URL, "DVLA_URL")
	setString(&c.Tyres.APIKey, "ONEAUTO_API_KEY")
	setString(&c.Tyres.URL, "ONEAUTO_URL")
	setString(&c.Tyres.AuthScheme, "ONEAUTO_AUTH_SCHEME")
	setString(&c.Email.AccessKey, "WEB3FORMS_KEY")
	setString(&c.Email.URL, "WEB3FORMS_URL")

	setString(&c.Sheets.ServiceAccountEmail, "GOOGLE_SA_EMAIL")
	setString(&c.Sheets.PrivateKey, "GOOGLE_SA_PRIVATE_KEY")
	setString(&c.Sheets.SpreadsheetID, "GOOGLE_SHEETS_ID")

	setString(&c.Redis.Host, "REDIS_HOST")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	if err := setInt(&c.Redis.Port, "REDIS_PORT"); err != nil {
		return err
	}
	if err := setInt(&c.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}

	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.Audit.IPHashKey, "AUDIT_IP_HASH_KEY")

	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Cooldown.CoarseWindow <= 0 || c.Cooldown.FineWindow <= 0 {
		return errors.New("cooldown windows must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	if c.RateLimit.IPMax <= 0 || c.RateLimit.EmailMax <= 0 {
		return errors.New("rate limit thresholds must be positive")
	}
	if c.Cooldown.Capacity < 0 || c.RateLimit.Capacity < 0 {
		return errors.New("limiter capacity cannot be negative")
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		return errors.New("at least one allowed origin is required")
	}
	for _, scheme := range []string{c.DVLA.AuthScheme, c.Tyres.AuthScheme} {
		if scheme != "x-api-key" && scheme != "bearer" {
			return errors.Errorf("unsupported upstream auth scheme: %q", scheme)
		}
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return errors.New("database pool sizes cannot be negative")
	}
	if c.Audit.BufferSize <= 0 || c.Audit.BatchSize <= 0 || c.Audit.FlushInterval <= 0 {
		return errors.New("audit buffer, batch size and flush interval must be positive")
	}
	return nil
}

// normalizePrivateKey turns literal "\n" sequences, as stored in env files, into newlines.
func normalizePrivateKey(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), `\n`, "\n")
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := getEnv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := getEnv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "invalid %s", key)
	}
	*dst = n
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		item := strings.TrimSpace(p)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
