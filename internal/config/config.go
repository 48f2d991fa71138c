// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override (HARVESTER_LOGGER_LEVEL, ...).
const EnvPrefix = "HARVESTER"

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Portal   PortalConfig   `mapstructure:"portal" yaml:"portal"`
	Harvest  HarvestConfig  `mapstructure:"harvest" yaml:"harvest"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driving the portal.
type BrowserConfig struct {
	Headless        bool   `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool   `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserDataDir     string `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	UserAgent       string `mapstructure:"user_agent" yaml:"user_agent"`
	Locale          string `mapstructure:"locale" yaml:"locale"`
	Timezone        string `mapstructure:"timezone" yaml:"timezone"`
	// Stealth masks the automation markers the portal's scripts look for.
	Stealth bool     `mapstructure:"stealth" yaml:"stealth"`
	Args    []string `mapstructure:"args" yaml:"args"`
	// ElementTimeout bounds every generic element wait.
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// ActionsPerSecond paces clicks, fills and navigations against the portal.
	ActionsPerSecond float64 `mapstructure:"actions_per_second" yaml:"actions_per_second"`
}

// PortalConfig holds the provider URLs. Overridable so tests and mirrors can
// point the harvester elsewhere.
type PortalConfig struct {
	BaseURL          string `mapstructure:"base_url" yaml:"base_url"`
	ClientSpaceURL   string `mapstructure:"client_space_url" yaml:"client_space_url"`
	HomepageURL      string `mapstructure:"homepage_url" yaml:"homepage_url"`
	PersonalInfosURL string `mapstructure:"personal_infos_url" yaml:"personal_infos_url"`
	InfosConsoURL    string `mapstructure:"infos_conso_url" yaml:"infos_conso_url"`
	BillsPath        string `mapstructure:"bills_path" yaml:"bills_path"`
	RedBrandHost     string `mapstructure:"red_brand_host" yaml:"red_brand_host"`
	SessionCookie    string `mapstructure:"session_cookie" yaml:"session_cookie"`
}

// HarvestConfig tunes bill discovery and document transport.
type HarvestConfig struct {
	// Transport is "url" or "datauri".
	Transport string `mapstructure:"transport" yaml:"transport"`
	// SettleDelay is the initial poll interval after a "load more" click.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// SettleTimeout bounds how long a page of older bills may take to load.
	SettleTimeout   time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	MaxPages        int           `mapstructure:"max_pages" yaml:"max_pages"`
	IdentityTimeout time.Duration `mapstructure:"identity_timeout" yaml:"identity_timeout"`
}

// AuthConfig holds the login settings.
type AuthConfig struct {
	Login              string        `mapstructure:"login" yaml:"login"`
	Password           string        `mapstructure:"password" yaml:"-"`
	LogoutAttempts     int           `mapstructure:"logout_attempts" yaml:"logout_attempts"`
	LogoutSettle       time.Duration `mapstructure:"logout_settle" yaml:"logout_settle"`
	InteractiveTimeout time.Duration `mapstructure:"interactive_timeout" yaml:"interactive_timeout"`
	WatchInterval      time.Duration `mapstructure:"watch_interval" yaml:"watch_interval"`
}

// DatabaseConfig selects the vault backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver" yaml:"driver"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// StorageConfig configures the object store receiving data-URI documents.
type StorageConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey   string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey   string `mapstructure:"secret_key" yaml:"-"`
	Bucket      string `mapstructure:"bucket" yaml:"bucket"`
	UseSSL      bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "telco-harvester")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_data_dir", "~/.telco-harvester/chrome")
	v.SetDefault("browser.locale", "fr-FR")
	v.SetDefault("browser.timezone", "Europe/Paris")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.element_timeout", "10s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.actions_per_second", 4.0)

	// -- Portal --
	v.SetDefault("portal.base_url", "https://espace-client.sfr.fr")
	v.SetDefault("portal.client_space_url", "https://www.sfr.fr/mon-espace-client/")
	v.SetDefault("portal.homepage_url", "https://www.sfr.fr/mon-espace-client/#sfrclicid=EC_mire_Me-Connecter")
	v.SetDefault("portal.personal_infos_url", "https://espace-client.sfr.fr/infospersonnelles/contrat/informations/")
	v.SetDefault("portal.infos_conso_url", "https://www.sfr.fr/routage/info-conso")
	v.SetDefault("portal.bills_path", "/facture-mobile/consultation")
	v.SetDefault("portal.red_brand_host", "red-by-sfr.fr")
	v.SetDefault("portal.session_cookie", "sfrSessionId")

	// -- Harvest --
	v.SetDefault("harvest.transport", "url")
	v.SetDefault("harvest.settle_delay", "500ms")
	v.SetDefault("harvest.settle_timeout", "15s")
	v.SetDefault("harvest.max_pages", 40)
	v.SetDefault("harvest.identity_timeout", "30s")

	// -- Auth --
	v.SetDefault("auth.logout_attempts", 3)
	v.SetDefault("auth.logout_settle", "2s")
	v.SetDefault("auth.interactive_timeout", "10m")
	v.SetDefault("auth.watch_interval", "1s")

	// -- Database --
	v.SetDefault("database.driver", "memory")

	// -- Storage --
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "bills")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.concurrency", 4)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are only ever read from the environment.
	_ = v.BindEnv("auth.password", EnvPrefix+"_AUTH_PASSWORD")
	_ = v.BindEnv("auth.login", EnvPrefix+"_AUTH_LOGIN")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")
	_ = v.BindEnv("storage.secret_key", EnvPrefix+"_STORAGE_SECRET_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.Browser.UserDataDir, err = homedir.Expand(c.Browser.UserDataDir); err != nil {
		return fmt.Errorf("failed to expand browser.user_data_dir: %w", err)
	}
	if c.Logger.LogFile, err = homedir.Expand(c.Logger.LogFile); err != nil {
		return fmt.Errorf("failed to expand logger.log_file: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.ElementTimeout <= 0 {
		return fmt.Errorf("browser.element_timeout must be a positive duration")
	}
	if c.Browser.ActionsPerSecond <= 0 {
		return fmt.Errorf("browser.actions_per_second must be positive")
	}
	if c.Portal.BaseURL == "" || c.Portal.ClientSpaceURL == "" {
		return fmt.Errorf("portal.base_url and portal.client_space_url are required")
	}
	if err := c.Harvest.Validate(); err != nil {
		return fmt.Errorf("harvest configuration invalid: %w", err)
	}
	if c.Auth.LogoutAttempts <= 0 {
		return fmt.Errorf("auth.logout_attempts must be a positive integer")
	}
	if c.Auth.InteractiveTimeout <= 0 {
		return fmt.Errorf("auth.interactive_timeout must be a positive duration")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q (supported: memory, postgres)", c.Database.Driver)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the harvest settings.
func (h *HarvestConfig) Validate() error {
	switch h.Transport {
	case "url", "datauri":
	default:
		return fmt.Errorf("transport must be one of url, datauri (got %q)", h.Transport)
	}
	if h.SettleDelay <= 0 || h.SettleTimeout < h.SettleDelay {
		return fmt.Errorf("settle_delay must be positive and not exceed settle_timeout")
	}
	if h.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be a positive integer")
	}
	if h.IdentityTimeout <= 0 {
		return fmt.Errorf("identity_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the object storage settings.
func (s *StorageConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Endpoint == "" || s.Bucket == "" {
		return fmt.Errorf("endpoint and bucket are required when storage is enabled")
	}
	if s.AccessKey == "" || s.SecretKey == "" {
		return fmt.Errorf("access_key and secret_key are required. Ensure HARVESTER_STORAGE_SECRET_KEY is set")
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be a positive integer")
	}
	return nil
}
