// Package config loads settings from defaults, an optional config file, a
// .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Protocol-Lattice/fingpt-relay/src/logging"
	"github.com/Protocol-Lattice/fingpt-relay/src/relay"
	"github.com/Protocol-Lattice/fingpt-relay/src/render"
	"github.com/Protocol-Lattice/fingpt-relay/src/telegram"
	"github.com/Protocol-Lattice/fingpt-relay/src/tracing"
)

const EnvPrefix = "FINGPT"

type Config struct {
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Backend      BackendConfig      `mapstructure:"backend"`
	Render       RenderConfig       `mapstructure:"render"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Journal      JournalConfig      `mapstructure:"journal"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Relay        RelayConfig        `mapstructure:"relay"`
	Reply        ReplyConfig        `mapstructure:"reply"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Logging      logging.Config     `mapstructure:"logging"`
	Tracing      tracing.Config     `mapstructure:"tracing"`
}

type TelegramConfig struct {
	Token        string        `mapstructure:"token"`
	BaseURL      string        `mapstructure:"base_url"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	AllowedChats []string      `mapstructure:"allowed_chats"`
}

// AllowedChatIDs parses the allow-list. An empty list allows every chat.
func (t TelegramConfig) AllowedChatIDs() ([]int64, error) {
	var ids []int64
	for _, raw := range t.AllowedChats {
		for _, field := range strings.Split(raw, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("telegram.allowed_chats: %q is not a chat id", field)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type BackendConfig struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Host     string        `mapstructure:"host"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RenderConfig struct {
	Dir      string `mapstructure:"dir"`
	Filename string `mapstructure:"filename"`
}

type ConversationConfig struct {
	IdleTTL      time.Duration `mapstructure:"idle_ttl"`
	Max          int           `mapstructure:"max"`
	HistoryTurns int           `mapstructure:"history_turns"`
}

type JournalConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type DispatchConfig struct {
	MaxConcurrency int   `mapstructure:"max_concurrency"`
	MaxFileBytes   int64 `mapstructure:"max_file_bytes"`
}

type RelayConfig struct {
	WarnDropped bool `mapstructure:"warn_dropped"`
}

type ReplyConfig struct {
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// legacyEnv lists unprefixed variable names honoured for compatibility.
var legacyEnv = map[string][]string{
	"telegram.token":  {"TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"},
	"backend.api_key": {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"backend.model":   {"MODEL_ID"},
}

// SetDefaults registers every key so environment overrides apply to
// Unmarshal as well as Get.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.base_url", telegram.DefaultBaseURL)
	v.SetDefault("telegram.poll_timeout", "30s")
	v.SetDefault("telegram.allowed_chats", []string{})

	v.SetDefault("backend.provider", "gemini")
	v.SetDefault("backend.model", "")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.host", "")
	v.SetDefault("backend.timeout", "0s")

	v.SetDefault("render.dir", "")
	v.SetDefault("render.filename", render.DefaultName)

	v.SetDefault("conversation.idle_ttl", "24h")
	v.SetDefault("conversation.max", 1000)
	v.SetDefault("conversation.history_turns", 20)

	v.SetDefault("journal.driver", "memory")
	v.SetDefault("journal.dsn", "")
	v.SetDefault("journal.database", "fingpt")
	v.SetDefault("journal.collection", "fingpt_exchanges")

	v.SetDefault("dispatch.max_concurrency", 8)
	v.SetDefault("dispatch.max_file_bytes", telegram.DefaultMaxFileBytes)

	v.SetDefault("relay.warn_dropped", false)
	v.SetDefault("reply.format", "html")
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", tracing.DefaultServiceName)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)
}

// BindEnv wires FINGPT_* variables and the legacy names into v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(append([]string{key, prefixed}, names...)...)
	}
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ReadFile merges an optional config file into v.
func ReadFile(v *viper.Viper, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return &relay.Error{Kind: relay.ConfigError, Op: "read config", Err: err}
	}
	return nil
}

// Load decodes v into a Config. Validation is left to the caller, which
// knows which parts are needed.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &relay.Error{Kind: relay.ConfigError, Op: "decode config", Err: err}
	}
	cfg.Backend.Provider = strings.ToLower(strings.TrimSpace(cfg.Backend.Provider))
	cfg.Reply.Format = strings.ToLower(strings.TrimSpace(cfg.Reply.Format))
	return &cfg, nil
}

// ValidateBackend checks the settings needed to talk to the AI backend.
func (c *Config) ValidateBackend() error {
	var problems []string
	switch c.Backend.Provider {
	case "dummy":
	case "gemini", "google", "openai", "anthropic", "claude":
		if strings.TrimSpace(c.Backend.APIKey) == "" {
			problems = append(problems, "backend.api_key is required for provider "+c.Backend.Provider)
		}
		if strings.TrimSpace(c.Backend.Model) == "" {
			problems = append(problems, "backend.model is required")
		}
	case "ollama":
		if strings.TrimSpace(c.Backend.Model) == "" {
			problems = append(problems, "backend.model is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown backend.provider %q", c.Backend.Provider))
	}
	if c.Backend.Timeout < 0 {
		problems = append(problems, "backend.timeout must not be negative")
	}
	return configError("validate backend", problems)
}

// Validate checks everything the bot needs to serve.
func (c *Config) Validate() error {
	var problems []string
	if err := c.ValidateBackend(); err != nil {
		var re *relay.Error
		if errors.As(err, &re) {
			problems = append(problems, re.Err.Error())
		}
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		problems = append(problems, "telegram.token is required")
	}
	if _, err := c.Telegram.AllowedChatIDs(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Telegram.PollTimeout <= 0 || c.Telegram.PollTimeout > telegram.MaxPollTimeout {
		problems = append(problems, fmt.Sprintf("telegram.poll_timeout must be within (0, %s], got %s", telegram.MaxPollTimeout, c.Telegram.PollTimeout))
	}
	if c.Dispatch.MaxConcurrency < 1 {
		problems = append(problems, "dispatch.max_concurrency must be at least 1")
	}
	switch c.Reply.Format {
	case "html", "plain":
	default:
		problems = append(problems, fmt.Sprintf("reply.format must be html or plain, got %q", c.Reply.Format))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Tracing.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	return configError("validate", problems)
}

func configError(op string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &relay.Error{Kind: relay.ConfigError, Op: op, Err: errors.New(strings.Join(problems, "; "))}
}
