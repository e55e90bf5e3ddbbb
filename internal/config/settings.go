package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds process configuration read from file, environment and flags.
type Settings struct {
	Server   ServerSettings  `mapstructure:"server"`
	DB       DBSettings      `mapstructure:"db"`
	Auth     AuthSettings    `mapstructure:"auth"`
	LLM      LLMSettings     `mapstructure:"llm"`
	Public   PublicSettings  `mapstructure:"public"`
	Usage    UsageSettings   `mapstructure:"usage"`
	Admin    AdminSettings   `mapstructure:"admin"`
	Log      LogSettings     `mapstructure:"log"`
	Catalog  CatalogSettings `mapstructure:"catalog"`
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type ServerSettings struct {
	Addr     string `mapstructure:"addr"`
	BasePath string `mapstructure:"base_path"`
}

type DBSettings struct {
	Workspace string `mapstructure:"workspace"`
}

type AuthSettings struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// LLMSettings selects and tunes the model provider.
type LLMSettings struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

type PublicSettings struct {
	SiteAPIKey      string `mapstructure:"site_api_key"`
	TurnstileSecret string `mapstructure:"turnstile_secret"`
	RatePerHour     int    `mapstructure:"rate_per_hour"`
	MaxInput        int    `mapstructure:"max_input"`
}

type UsageSettings struct {
	RequestLogRetention int `mapstructure:"request_log_retention"`
}

type AdminSettings struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type LogSettings struct {
	Mode string `mapstructure:"mode"`
}

type CatalogSettings struct {
	File string `mapstructure:"file"`
}

// WebhookConfig describes one audit event subscriber.
type WebhookConfig struct {
	URL            string   `mapstructure:"url"`
	Secret         string   `mapstructure:"secret"`
	Events         []string `mapstructure:"events"`
	Enabled        *bool    `mapstructure:"enabled"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderDisabled  = "disabled"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("db.workspace", ".")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.model", "gpt-4.1-mini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("public.rate_per_hour", 10)
	v.SetDefault("public.max_input", 4000)
	v.SetDefault("usage.request_log_retention", 100)
	v.SetDefault("admin.name", "Administrator")
	v.SetDefault("log.mode", "dev")
}

// New returns a viper instance with defaults and ANAGAMI_* environment binding.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ANAGAMI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional YAML file at path and overlays environment variables.
func Load(path string) (*Settings, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes settings from an already prepared viper instance.
func FromViper(v *viper.Viper) (*Settings, error) {
	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{"auth.jwt_secret", "llm.api_key", "llm.base_url", "public.site_api_key", "public.turnstile_secret", "admin.email", "admin.password", "catalog.file"} {
		_ = v.BindEnv(key)
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if s.LLM.APIKey == "" && s.LLM.Provider == ProviderOpenAI {
		s.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Default returns settings with every default applied and nothing else.
func Default() *Settings {
	s, err := FromViper(New())
	if err != nil {
		panic(fmt.Sprintf("default settings: %v", err))
	}
	return s
}

// Validate ensures the settings are usable.
func (s *Settings) Validate() error {
	switch s.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderDisabled:
	default:
		return fmt.Errorf("llm.provider must be one of openai, anthropic, disabled (got %q)", s.LLM.Provider)
	}
	if s.LLM.Timeout <= 0 {
		return errors.New("llm.timeout must be positive")
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	if s.Public.RatePerHour <= 0 {
		return errors.New("public.rate_per_hour must be positive")
	}
	if s.Public.MaxInput <= 0 {
		return errors.New("public.max_input must be positive")
	}
	if s.Usage.RequestLogRetention <= 0 {
		return errors.New("usage.request_log_retention must be positive")
	}
	if s.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	for i, hook := range s.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}
