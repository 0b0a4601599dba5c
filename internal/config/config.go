package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Service modes. Sandbox serves both record stores from a local database;
// proxy forwards every store call to the upstream scheduling and clinical
// record services.
const (
	ModeSandbox = "sandbox"
	ModeProxy   = "proxy"
)

const (
	envPrefix              = "CONSULTA"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "consulta.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "consulta_session"
	defaultSessionIssuer   = "consulta-auth"
	defaultMode            = ModeSandbox
	defaultUpstreamTimeout = 15 * time.Second
	defaultDebounceSeconds = 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	Mode              string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	AgendaBaseURL     string
	ExpedixBaseURL    string
	UpstreamTimeout   time.Duration
	AutosaveDebounce  time.Duration
	DatabasePath      string
	SeedDemoData      bool
	LogLevel          string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("mode", defaultMode)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("upstream.timeout", defaultUpstreamTimeout)
	configViper.SetDefault("autosave.debounce_seconds", defaultDebounceSeconds)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.seed", true)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		Mode:              strings.ToLower(strings.TrimSpace(configViper.GetString("mode"))),
		SessionSigningKey: configViper.GetString("session.signing_secret"),
		SessionIssuer:     configViper.GetString("session.issuer"),
		SessionCookieName: configViper.GetString("session.cookie_name"),
		AgendaBaseURL:     configViper.GetString("agenda.base_url"),
		ExpedixBaseURL:    configViper.GetString("expedix.base_url"),
		UpstreamTimeout:   configViper.GetDuration("upstream.timeout"),
		AutosaveDebounce:  time.Duration(configViper.GetInt("autosave.debounce_seconds")) * time.Second,
		DatabasePath:      configViper.GetString("database.path"),
		SeedDemoData:      configViper.GetBool("database.seed"),
		LogLevel:          configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.AutosaveDebounce <= 0 {
		return fmt.Errorf("autosave.debounce_seconds must be positive")
	}
	switch c.Mode {
	case ModeSandbox:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required in sandbox mode")
		}
	case ModeProxy:
		if strings.TrimSpace(c.AgendaBaseURL) == "" {
			return fmt.Errorf("agenda.base_url is required in proxy mode")
		}
		if strings.TrimSpace(c.ExpedixBaseURL) == "" {
			return fmt.Errorf("expedix.base_url is required in proxy mode")
		}
	default:
		return fmt.Errorf("mode must be %q or %q", ModeSandbox, ModeProxy)
	}
	return nil
}
