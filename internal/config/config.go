package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverBadger  = "badger"
	DriverSurreal = "surreal"
)

// Provider is the read-only view of the configuration that components
// depend on.
type Provider interface {
	GetListenAddr() string
	GetAllowedOrigin() string
	OriginPatterns() []string
	GetStoreDriver() string
	GetDataDir() string

	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration

	GetMaxContentLength() int
	GetPushTimeout() time.Duration
	GetSendBuffer() int
	GetPresenceShards() int
	GetFrameRate() float64
	GetFrameBurst() int
	GetPingInterval() time.Duration
	GetSendRate() float64

	GetLogFormat() string
	GetLogLevel() string
	GetSeedUsers() []string
	GetBreakerMaxFailures() uint32
	GetBreakerCooldown() time.Duration
	GetShutdownTimeout() time.Duration

	GetTracingEnabled() bool
	GetTracingServiceName() string
	GetZipkinURL() string
}

// Config holds all configuration for the application.
type Config struct {
	ListenAddr    string `envconfig:"DUOCHAT_ADDR" default:":8080"`
	AllowedOrigin string `envconfig:"DUOCHAT_ALLOWED_ORIGIN" default:"http://localhost:5173"`
	StoreDriver   string `envconfig:"DUOCHAT_STORE" default:"badger"`
	DataDir       string `envconfig:"DUOCHAT_DATA_DIR" default:"data/badger"`

	DBURL            string        `envconfig:"SURREAL_URL"`
	DBNs             string        `envconfig:"SURREAL_NS" default:"duochat"`
	DBDb             string        `envconfig:"SURREAL_DB" default:"duochat"`
	DBUser           string        `envconfig:"SURREAL_USER"`
	DBPass           string        `envconfig:"SURREAL_PASS"`
	DBQueryTimeout   time.Duration `envconfig:"SURREAL_QUERY_TIMEOUT" default:"10s"`
	DBExecuteTimeout time.Duration `envconfig:"SURREAL_EXECUTE_TIMEOUT" default:"30s"`

	MaxContentLength int           `envconfig:"DUOCHAT_MAX_CONTENT_LENGTH" default:"2000"`
	PushTimeout      time.Duration `envconfig:"DUOCHAT_PUSH_TIMEOUT" default:"5s"`
	SendBuffer       int           `envconfig:"DUOCHAT_SEND_BUFFER" default:"256"`
	PresenceShards   int           `envconfig:"DUOCHAT_PRESENCE_SHARDS" default:"32"`
	FrameRate        float64       `envconfig:"DUOCHAT_FRAME_RATE" default:"20"`
	FrameBurst       int           `envconfig:"DUOCHAT_FRAME_BURST" default:"40"`
	PingInterval     time.Duration `envconfig:"DUOCHAT_PING_INTERVAL" default:"30s"`
	SendRate         float64       `envconfig:"DUOCHAT_SEND_RATE" default:"10"`

	LogFormat          string        `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
	SeedUsers          []string      `envconfig:"DUOCHAT_SEED_USERS"`
	BreakerMaxFailures uint32        `envconfig:"DUOCHAT_BREAKER_MAX_FAILURES" default:"5"`
	BreakerCooldown    time.Duration `envconfig:"DUOCHAT_BREAKER_COOLDOWN" default:"10s"`
	ShutdownTimeout    time.Duration `envconfig:"DUOCHAT_SHUTDOWN_TIMEOUT" default:"10s"`

	TracingEnabled     bool   `envconfig:"OTEL_ENABLED" default:"false"`
	TracingServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"duochat"`
	ZipkinURL          string `envconfig:"OTEL_ZIPKIN_URL" default:"http://localhost:9411/api/v2/spans"`
}

// Load reads the given .env files (".env" when none are named) into the
// process environment, then populates and validates a Config. Missing .env
// files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv populates a Config from the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	cfg.SeedUsers = cleanList(cfg.SeedUsers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverBadger:
	case DriverSurreal:
		if c.DBURL == "" || c.DBNs == "" || c.DBDb == "" {
			errs = append(errs, errors.New("SURREAL_URL, SURREAL_NS and SURREAL_DB are required for the surreal store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}
	if c.AllowedOrigin != "*" {
		if u, err := url.Parse(c.AllowedOrigin); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("allowed origin %q must be an absolute URL or *", c.AllowedOrigin))
		}
	}
	if c.MaxContentLength <= 0 {
		errs = append(errs, errors.New("max content length must be positive"))
	}
	if c.PushTimeout <= 0 {
		errs = append(errs, errors.New("push timeout must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send buffer must be positive"))
	}
	if c.PresenceShards <= 0 {
		errs = append(errs, errors.New("presence shards must be positive"))
	}
	if c.FrameRate <= 0 || c.FrameBurst <= 0 {
		errs = append(errs, errors.New("frame rate and burst must be positive"))
	}
	return errors.Join(errs...)
}

// OriginPatterns returns the host patterns accepted on the real-time
// endpoint.
func (c *Config) OriginPatterns() []string {
	if c.AllowedOrigin == "*" {
		return []string{"*"}
	}
	u, err := url.Parse(c.AllowedOrigin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) GetListenAddr() string    { return c.ListenAddr }
func (c *Config) GetAllowedOrigin() string { return c.AllowedOrigin }
func (c *Config) GetStoreDriver() string   { return c.StoreDriver }
func (c *Config) GetDataDir() string       { return c.DataDir }

func (c *Config) GetDBURL() string                   { return c.DBURL }
func (c *Config) GetDBNs() string                    { return c.DBNs }
func (c *Config) GetDBDb() string                    { return c.DBDb }
func (c *Config) GetDBUser() string                  { return c.DBUser }
func (c *Config) GetDBPass() string                  { return c.DBPass }
func (c *Config) GetDBQueryTimeout() time.Duration   { return c.DBQueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration { return c.DBExecuteTimeout }

func (c *Config) GetMaxContentLength() int       { return c.MaxContentLength }
func (c *Config) GetPushTimeout() time.Duration  { return c.PushTimeout }
func (c *Config) GetSendBuffer() int             { return c.SendBuffer }
func (c *Config) GetPresenceShards() int         { return c.PresenceShards }
func (c *Config) GetFrameRate() float64          { return c.FrameRate }
func (c *Config) GetFrameBurst() int             { return c.FrameBurst }
func (c *Config) GetPingInterval() time.Duration { return c.PingInterval }
func (c *Config) GetSendRate() float64           { return c.SendRate }

func (c *Config) GetLogFormat() string              { return c.LogFormat }
func (c *Config) GetLogLevel() string               { return c.LogLevel }
func (c *Config) GetSeedUsers() []string            { return c.SeedUsers }
func (c *Config) GetBreakerMaxFailures() uint32     { return c.BreakerMaxFailures }
func (c *Config) GetBreakerCooldown() time.Duration { return c.BreakerCooldown }
func (c *Config) GetShutdownTimeout() time.Duration { return c.ShutdownTimeout }

func (c *Config) GetTracingEnabled() bool       { return c.TracingEnabled }
func (c *Config) GetTracingServiceName() string { return c.TracingServiceName }
func (c *Config) GetZipkinURL() string          { return c.ZipkinURL }
