package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

// Settings holds daemon configuration loaded from <home>/config.yaml with
// CONTENTD_* env overrides. Zero-config startup works: every field has a default.
type Settings struct {
	LLM struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
		Model   string `mapstructure:"model"`
	} `mapstructure:"llm"`

	Defaults struct {
		MinSEOScore   int `mapstructure:"min_seo_score"`
		MaxIterations int `mapstructure:"max_iterations"`
	} `mapstructure:"defaults"`

	Timeouts struct {
		Generation time.Duration `mapstructure:"generation"`
		Validation time.Duration `mapstructure:"validation"`
		Research   time.Duration `mapstructure:"research"`
	} `mapstructure:"timeouts"`

	Retry struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		BackoffBase time.Duration `mapstructure:"backoff_base"`
	} `mapstructure:"retry"`

	Events struct {
		Retention        time.Duration `mapstructure:"retention"`
		SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	} `mapstructure:"events"`

	Research struct {
		Sources []string `mapstructure:"sources"`
	} `mapstructure:"research"`

	Notify struct {
		SlackWebhookURL string `mapstructure:"slack_webhook_url"`
	} `mapstructure:"notify"`
}

// LoadSettings reads <home>/config.yaml if present and applies env overrides.
// A missing config file is not an error; defaults carry the daemon.
func LoadSettings(home string) (Settings, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home != "" {
		v.AddConfigPath(home)
	}
	v.SetEnvPrefix("CONTENTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("llm.base_url", "https://api.openai.com")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("defaults.min_seo_score", models.DefaultMinSEOScore)
	v.SetDefault("defaults.max_iterations", models.DefaultMaxIterations)
	v.SetDefault("timeouts.generation", 60*time.Second)
	v.SetDefault("timeouts.validation", 30*time.Second)
	v.SetDefault("timeouts.research", 45*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_base", 500*time.Millisecond)
	v.SetDefault("events.retention", 30*time.Second)
	v.SetDefault("events.subscriber_buffer", models.DefaultSubscriberBuffer)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// SettingsPath returns the expected config file path for diagnostics.
func SettingsPath(home string) string {
	return filepath.Join(home, "config.yaml")
}
