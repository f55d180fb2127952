package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/roach88/audittrail/internal/tasks"
)

//go:embed schema.cue
var schema string

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config is the service configuration. Fields tagged json:"-" are secrets;
// they are validated by the env parser only and never encoded.
type Config struct {
	SigningKey string `env:"AUDITTRAIL_SIGNING_KEY,required,notEmpty" json:"-"`

	StoreDriver   string        `env:"AUDITTRAIL_STORE_DRIVER" envDefault:"sqlite" json:"store_driver"`
	SQLitePath    string        `env:"AUDITTRAIL_SQLITE_PATH" envDefault:"audittrail.db" json:"sqlite_path"`
	MongoURI      string        `env:"AUDITTRAIL_MONGO_URI" envDefault:"mongodb://localhost:27017" json:"-"`
	MongoDatabase string        `env:"AUDITTRAIL_MONGO_DATABASE" envDefault:"audittrail_db" json:"mongo_database"`
	StoreTimeout  time.Duration `env:"AUDITTRAIL_STORE_TIMEOUT" envDefault:"2s" json:"store_timeout"`

	BufferCapacity   int           `env:"AUDITTRAIL_BUFFER_CAPACITY" envDefault:"100" json:"buffer_capacity"`
	FlushInterval    time.Duration `env:"AUDITTRAIL_FLUSH_INTERVAL" envDefault:"10s" json:"flush_interval"`
	FlushMaxAttempts int           `env:"AUDITTRAIL_FLUSH_MAX_ATTEMPTS" envDefault:"5" json:"flush_max_attempts"`
	FlushRetryDelay  time.Duration `env:"AUDITTRAIL_FLUSH_RETRY_DELAY" envDefault:"10s" json:"flush_retry_delay"`

	ArchiveMaxAttempts int           `env:"AUDITTRAIL_ARCHIVE_MAX_ATTEMPTS" envDefault:"3" json:"archive_max_attempts"`
	ArchiveRetryDelay  time.Duration `env:"AUDITTRAIL_ARCHIVE_RETRY_DELAY" envDefault:"60s" json:"archive_retry_delay"`
	ArchiveDays        int           `env:"AUDITTRAIL_ARCHIVE_DAYS" envDefault:"30" json:"archive_days"`
	TaskWorkers        int           `env:"AUDITTRAIL_TASK_WORKERS" envDefault:"2" json:"task_workers"`

	DeadLetterPath string `env:"AUDITTRAIL_DEADLETTER_PATH" envDefault:"audittrail-deadletter.jsonl" json:"deadletter_path"`

	HTTPAddr         string `env:"AUDITTRAIL_HTTP_ADDR" envDefault:":8080" json:"http_addr"`
	JWTSecret        string `env:"AUDITTRAIL_JWT_SECRET" json:"-"`
	RateLimitPerHour int    `env:"AUDITTRAIL_RATE_LIMIT_PER_HOUR" envDefault:"0" json:"rate_limit_per_hour"`
	ListLimit        int    `env:"AUDITTRAIL_LIST_LIMIT" envDefault:"100" json:"list_limit"`
	ListMaxLimit     int    `env:"AUDITTRAIL_LIST_MAX_LIMIT" envDefault:"1000" json:"list_max_limit"`

	LogLevel     string `env:"AUDITTRAIL_LOG_LEVEL" envDefault:"info" json:"log_level"`
	LogFormat    string `env:"AUDITTRAIL_LOG_FORMAT" envDefault:"text" json:"log_format"`
	OTelEndpoint string `env:"AUDITTRAIL_OTEL_ENDPOINT" json:"otel_endpoint"`
}

// Load reads dotenv files, then parses and validates the environment.
// With no paths, ".env" is tried. Missing files are ignored; variables
// already set in the environment win over file values.
func Load(dotenv ...string) (Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, path := range dotenv {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom parses and validates cfg from an explicit environment instead
// of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks cfg against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	def := ctx.CompileString(schema).LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		var msgs []string
		for _, e := range cueerrors.Errors(err) {
			msgs = append(msgs, strings.TrimSpace(cueerrors.Details(e, nil)))
		}
		return fmt.Errorf("invalid config:\n  %s", strings.Join(msgs, "\n  "))
	}
	return nil
}

// FlushRetry is the insert retry policy for flushed batches.
func (c Config) FlushRetry() tasks.RetryPolicy {
	return tasks.RetryPolicy{MaxAttempts: c.FlushMaxAttempts, Delay: c.FlushRetryDelay}
}

// ArchiveRetry is the retry policy for archival passes.
func (c Config) ArchiveRetry() tasks.RetryPolicy {
	return tasks.RetryPolicy{MaxAttempts: c.ArchiveMaxAttempts, Delay: c.ArchiveRetryDelay}
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the service logger writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
