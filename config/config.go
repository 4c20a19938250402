package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Lighthouse LighthouseConfig `mapstructure:"lighthouse"`
	PageSpeed  PageSpeedConfig  `mapstructure:"pagespeed"`
	Traffic    TrafficConfig    `mapstructure:"traffic"`
	Backlinks  BacklinksConfig  `mapstructure:"backlinks"`
	Content    ContentConfig    `mapstructure:"content"`
	Store      StoreConfig      `mapstructure:"store"`
	OAuth      OAuthConfig      `mapstructure:"oauth"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	DevMode      bool          `mapstructure:"dev_mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"rps"`
	Burst             int     `mapstructure:"burst"`
}

// AnalysisConfig controls sequencing of the single-site analyzer
type AnalysisConfig struct {
	BrowserCooldown    time.Duration `mapstructure:"browser_cooldown"`
	LighthouseAttempts int           `mapstructure:"lighthouse_attempts"`
	LighthouseBackoff  time.Duration `mapstructure:"lighthouse_backoff"`
	SiteDelay          time.Duration `mapstructure:"site_delay"`
	RenderTimeout      time.Duration `mapstructure:"render_timeout"`
	TechnicalTimeout   time.Duration `mapstructure:"technical_timeout"`
	ChangesTimeout     time.Duration `mapstructure:"changes_timeout"`
}

type BrowserConfig struct {
	Engine    string `mapstructure:"engine"` // "playwright" or "http"
	Headless  bool   `mapstructure:"headless"`
	UserAgent string `mapstructure:"user_agent"`
}

type LighthouseConfig struct {
	Binary      string        `mapstructure:"binary"`
	ChromeFlags string        `mapstructure:"chrome_flags"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PageSpeedConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type TrafficConfig struct {
	SimilarWebAPIKey   string        `mapstructure:"similarweb_api_key"`
	SimilarWebEndpoint string        `mapstructure:"similarweb_endpoint"`
	AnalyticsEndpoint  string        `mapstructure:"analytics_endpoint"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type BacklinksConfig struct {
	Login    string        `mapstructure:"login"`
	Password string        `mapstructure:"password"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type ContentConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxChildSitemaps int           `mapstructure:"max_child_sitemaps"`
}

type StoreConfig struct {
	Driver    string        `mapstructure:"driver"` // "memory", "sqlite" or "postgres"
	DSN       string        `mapstructure:"dsn"`
	ReportTTL time.Duration `mapstructure:"report_ttl"`
}

type OAuthConfig struct {
	StateTTL  time.Duration             `mapstructure:"state_ttl"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig describes one OAuth2 authorization-code provider
type ProviderConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type StatsConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
	Output string `mapstructure:"output"`
}

// LoadEnv loads .env.development first (for local development), then .env
func LoadEnv() {
	if err := godotenv.Load(".env.development"); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Debug().Msg("No .env file found, using environment variables")
		}
	}
}

// Load reads configuration from an optional file, the environment and defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.insights")
	}

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.OAuth.Providers == nil {
		cfg.OAuth.Providers = make(map[string]ProviderConfig)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")

	v.SetDefault("ratelimit.rps", 2)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("analysis.browser_cooldown", "1500ms")
	v.SetDefault("analysis.lighthouse_attempts", 2)
	v.SetDefault("analysis.lighthouse_backoff", "1500ms")
	v.SetDefault("analysis.site_delay", "3s")
	v.SetDefault("analysis.render_timeout", "45s")
	v.SetDefault("analysis.technical_timeout", "20s")
	v.SetDefault("analysis.changes_timeout", "15s")

	v.SetDefault("browser.engine", "playwright")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (compatible; InsightsBot/1.0)")

	v.SetDefault("lighthouse.binary", "lighthouse")
	v.SetDefault("lighthouse.chrome_flags", "--headless --no-sandbox --disable-gpu")
	v.SetDefault("lighthouse.timeout", "90s")

	v.SetDefault("pagespeed.endpoint", "https://www.googleapis.com/pagespeedonline/v5/runPagespeed")
	v.SetDefault("pagespeed.timeout", "60s")

	v.SetDefault("traffic.similarweb_endpoint", "https://api.similarweb.com/v1/website")
	v.SetDefault("traffic.analytics_endpoint", "https://analyticsdata.googleapis.com/v1beta")
	v.SetDefault("traffic.timeout", "20s")

	v.SetDefault("backlinks.endpoint", "https://api.dataforseo.com/v3/backlinks/summary/live")
	v.SetDefault("backlinks.timeout", "20s")

	v.SetDefault("content.timeout", "10s")
	v.SetDefault("content.max_child_sitemaps", 50)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "./data/insights.db")
	v.SetDefault("store.report_ttl", "24h")

	v.SetDefault("oauth.state_ttl", "10m")
	v.SetDefault("oauth.providers.google.auth_url", "https://accounts.google.com/o/oauth2/v2/auth")
	v.SetDefault("oauth.providers.google.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("oauth.providers.google.redirect_url", "http://localhost:8082/api/oauth/google/callback")
	v.SetDefault("oauth.providers.google.scopes", []string{"https://www.googleapis.com/auth/analytics.readonly"})

	v.SetDefault("stats.data_dir", "./data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("INSIGHTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("server.port", "INSIGHTS_SERVER_PORT", "PORT")
	v.BindEnv("server.mode", "INSIGHTS_SERVER_MODE", "GIN_MODE")
	v.BindEnv("server.dev_mode", "INSIGHTS_SERVER_DEV_MODE", "DEV_MODE")
	v.BindEnv("pagespeed.api_key", "INSIGHTS_PAGESPEED_API_KEY", "PAGESPEED_API_KEY")
	v.BindEnv("traffic.similarweb_api_key", "INSIGHTS_TRAFFIC_SIMILARWEB_API_KEY", "SIMILARWEB_API_KEY")
	v.BindEnv("backlinks.login", "INSIGHTS_BACKLINKS_LOGIN", "DATAFORSEO_LOGIN")
	v.BindEnv("backlinks.password", "INSIGHTS_BACKLINKS_PASSWORD", "DATAFORSEO_PASSWORD")
	v.BindEnv("store.dsn", "INSIGHTS_STORE_DSN", "DATABASE_URL")
	v.BindEnv("oauth.providers.google.client_id", "GOOGLE_CLIENT_ID")
	v.BindEnv("oauth.providers.google.client_secret", "GOOGLE_CLIENT_SECRET")
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var err error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port must be between 1 and 65535"))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		err = multierr.Append(err, fmt.Errorf("ratelimit.rps and ratelimit.burst must be positive"))
	}
	if c.Analysis.LighthouseAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("analysis.lighthouse_attempts must be positive"))
	}
	if c.Analysis.BrowserCooldown < 0 || c.Analysis.LighthouseBackoff < 0 || c.Analysis.SiteDelay < 0 {
		err = multierr.Append(err, fmt.Errorf("analysis delays must not be negative"))
	}

	timeouts := map[string]time.Duration{
		"analysis.render_timeout":    c.Analysis.RenderTimeout,
		"analysis.technical_timeout": c.Analysis.TechnicalTimeout,
		"analysis.changes_timeout":   c.Analysis.ChangesTimeout,
		"lighthouse.timeout":         c.Lighthouse.Timeout,
		"pagespeed.timeout":          c.PageSpeed.Timeout,
		"traffic.timeout":            c.Traffic.Timeout,
		"backlinks.timeout":          c.Backlinks.Timeout,
		"content.timeout":            c.Content.Timeout,
	}
	for _, key := range []string{
		"analysis.render_timeout", "analysis.technical_timeout", "analysis.changes_timeout",
		"lighthouse.timeout", "pagespeed.timeout", "traffic.timeout", "backlinks.timeout", "content.timeout",
	} {
		if timeouts[key] <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive", key))
		}
	}

	switch c.Browser.Engine {
	case "playwright", "http":
	default:
		err = multierr.Append(err, fmt.Errorf("browser.engine must be playwright or http, got %q", c.Browser.Engine))
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			err = multierr.Append(err, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("store.driver must be memory, sqlite or postgres, got %q", c.Store.Driver))
	}

	if c.Store.ReportTTL <= 0 {
		err = multierr.Append(err, fmt.Errorf("store.report_ttl must be positive"))
	}
	if c.OAuth.StateTTL <= 0 {
		err = multierr.Append(err, fmt.Errorf("oauth.state_ttl must be positive"))
	}

	if c.PageSpeed.APIKey == "" {
		// Not an error, PageSpeed works without a key at a lower quota
		log.Warn().Msg("PageSpeed API key not set; requests use the anonymous quota")
	}

	return err
}
