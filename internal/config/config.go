package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is read from the environment (optionally seeded by a .env file).
type Config struct {
	HTTPAddr    string `validate:"required"`
	DatabaseURL string `validate:"required"`
	JWTSecret   string `validate:"required,min=16"`

	GatewayMode    string        `validate:"oneof=http embedded"`
	GatewayTimeout time.Duration `validate:"gt=0"`
	DevicesDir     string        `validate:"required_if=GatewayMode embedded"`

	DispatchMode    string `validate:"oneof=direct webhook amqp"`
	RelayWebhookURL string `validate:"required_if=DispatchMode webhook"`
	AMQPURL         string `validate:"required_if=DispatchMode amqp"`
	AMQPExchange    string `validate:"required_if=DispatchMode amqp"`

	InboundWebhookBaseURL string `validate:"required,url"`
	WebhookEvents         []string

	StatusCacheTTL time.Duration `validate:"gt=0"`
	RepairOnSend   bool
	PollInterval   time.Duration `validate:"gt=0"`
	PollTimeout    time.Duration `validate:"gtfield=PollInterval"`

	SendRatePerSecond float64 `validate:"gt=0"`
	SendBurst         int     `validate:"gt=0"`
	APIRatePerSecond  float64 `validate:"gt=0"`
	APIBurst          int     `validate:"gt=0"`

	MediaStorageDir        string `validate:"required"`
	MediaPublicURL         string `validate:"required,url"`
	MediaMigrationSchedule string
	MediaMigrationBatch    int `validate:"gt=0"`

	ChannelAliasesFile string

	TelegramBotToken    string
	TelegramAlertChatID int64 `validate:"required_with=TelegramBotToken"`

	LogLevel string `validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Load reads .env (when present) and the environment, applies defaults and validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := envReader{getenv: getenv}
	cfg := &Config{
		HTTPAddr:    r.str("HTTP_ADDR", "0.0.0.0:8080"),
		DatabaseURL: r.str("DATABASE_URL", ""),
		JWTSecret:   r.str("JWT_SECRET", ""),

		GatewayMode:    strings.ToLower(r.str("GATEWAY_MODE", "http")),
		GatewayTimeout: r.duration("GATEWAY_TIMEOUT", 15*time.Second),
		DevicesDir:     r.str("DEVICES_DIR", "devices"),

		DispatchMode:    strings.ToLower(r.str("DISPATCH_MODE", "direct")),
		RelayWebhookURL: r.str("RELAY_WEBHOOK_URL", ""),
		AMQPURL:         r.str("AMQP_URL", ""),
		AMQPExchange:    r.str("AMQP_EXCHANGE", "atendimento"),

		InboundWebhookBaseURL: strings.TrimRight(r.str("INBOUND_WEBHOOK_BASE_URL", "http://localhost:8080"), "/"),
		WebhookEvents:         r.list("WEBHOOK_EVENTS", []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE", "QRCODE_UPDATED"}),

		StatusCacheTTL: r.duration("STATUS_CACHE_TTL", 30*time.Second),
		RepairOnSend:   r.boolean("REPAIR_ON_SEND", false),
		PollInterval:   r.duration("POLL_INTERVAL", 3*time.Second),
		PollTimeout:    r.duration("POLL_TIMEOUT", 2*time.Minute),

		SendRatePerSecond: r.float("SEND_RATE_PER_SECOND", 1),
		SendBurst:         r.integer("SEND_BURST", 5),
		APIRatePerSecond:  r.float("API_RATE_PER_SECOND", 10),
		APIBurst:          r.integer("API_BURST", 20),

		MediaStorageDir:        r.str("MEDIA_STORAGE_DIR", "media"),
		MediaPublicURL:         r.str("MEDIA_PUBLIC_URL", "http://localhost:8080/media"),
		MediaMigrationSchedule: r.str("MEDIA_MIGRATION_SCHEDULE", "*/10 * * * *"),
		MediaMigrationBatch:    r.integer("MEDIA_MIGRATION_BATCH", 50),

		ChannelAliasesFile: r.str("CHANNEL_ALIASES_FILE", ""),

		TelegramBotToken:    r.str("TELEGRAM_BOT_TOKEN", ""),
		TelegramAlertChatID: int64(r.integer("TELEGRAM_ALERT_CHAT_ID", 0)),

		LogLevel: strings.ToLower(r.str("LOG_LEVEL", "info")),
	}
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// TelegramEnabled reports whether ops alerts should be sent.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramAlertChatID != 0
}

type envReader struct {
	getenv func(string) string
	errs   []error
}

func (r *envReader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *envReader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *envReader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r *envReader) list(key string, def []string) []string {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// aliasFile is the on-disk layout of CHANNEL_ALIASES_FILE:
//
//	aliases:
//	  yelena: Yelena AI
//	  loja: Loja Centro
type aliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// LoadAliases reads the curated slug -> channel display name table.
// An empty path yields an empty table.
func LoadAliases(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse aliases: %w", err)
	}
	out := make(map[string]string, len(f.Aliases))
	for slug, name := range f.Aliases {
		slug, name = strings.TrimSpace(slug), strings.TrimSpace(name)
		if slug == "" || name == "" {
			return nil, fmt.Errorf("parse aliases: empty entry %q: %q", slug, name)
		}
		out[slug] = name
	}
	return out, nil
}

// NewLogger returns a JSON slog logger at the named level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
