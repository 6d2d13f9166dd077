// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	ProxyCheck() ProxyCheckConfig
	Site() SiteConfig
	Publish() PublishConfig
	Categories() CategoriesConfig
	Store() StoreConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserExecPath(string)

	// Publish Setters
	SetPublishTimeout(time.Duration)

	// ProxyCheck Setters
	SetProxyCheckLeakPolicy(LeakPolicy)
}

// Config holds the entire application configuration.
// Fields are exported for viper; callers go through the Interface getters.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	NetworkCfg    NetworkConfig    `mapstructure:"network" yaml:"network"`
	ProxyCheckCfg ProxyCheckConfig `mapstructure:"proxycheck" yaml:"proxycheck"`
	SiteCfg       SiteConfig       `mapstructure:"site" yaml:"site"`
	PublishCfg    PublishConfig    `mapstructure:"publish" yaml:"publish"`
	CategoriesCfg CategoriesConfig `mapstructure:"categories" yaml:"categories"`
	StoreCfg      StoreConfig      `mapstructure:"store" yaml:"store"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig       { return c.NetworkCfg }
func (c *Config) ProxyCheck() ProxyCheckConfig { return c.ProxyCheckCfg }
func (c *Config) Site() SiteConfig             { return c.SiteCfg }
func (c *Config) Publish() PublishConfig       { return c.PublishCfg }
func (c *Config) Categories() CategoriesConfig { return c.CategoriesCfg }
func (c *Config) Store() StoreConfig           { return c.StoreCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)          { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserExecPath(p string)        { c.BrowserCfg.ExecPath = p }
func (c *Config) SetPublishTimeout(d time.Duration)  { c.PublishCfg.Timeout = d }
func (c *Config) SetProxyCheckLeakPolicy(p LeakPolicy) { c.ProxyCheckCfg.LeakPolicy = p }

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

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the headless browser sessions.
type BrowserConfig struct {
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
	// ProfileDirPrefix names the per-session temporary user-data directory.
	ProfileDirPrefix string        `mapstructure:"profile_dir_prefix" yaml:"profile_dir_prefix"`
	Args             []string      `mapstructure:"args" yaml:"args"`
	SessionTimeout   time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	ActionTimeout    time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// ForwardAllProxies routes credentialed http proxies through the local forward.
	// When false, credentials are answered through the CDP auth hook instead.
	ForwardAllProxies bool `mapstructure:"forward_all_proxies" yaml:"forward_all_proxies"`
	Debug             bool `mapstructure:"debug" yaml:"debug"`
}

// NetworkConfig tunes the shared HTTP client.
type NetworkConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	DialTimeout     time.Duration     `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string            `mapstructure:"user_agent" yaml:"user_agent"`
	Headers         map[string]string `mapstructure:"headers" yaml:"headers"`
}

// LeakPolicy decides what happens when the direct egress IP is unknown.
type LeakPolicy string

const (
	// LeakPolicySkip passes the probe and flags the skipped leak check.
	LeakPolicySkip LeakPolicy = "skip"
	// LeakPolicyFail fails the probe as an identity leak.
	LeakPolicyFail LeakPolicy = "fail"
)

// ProxyCheckConfig configures the proxy validator.
type ProxyCheckConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ConnectTarget  string        `mapstructure:"connect_target" yaml:"connect_target"`
	LookupServices []string      `mapstructure:"lookup_services" yaml:"lookup_services"`
	DirectServices []string      `mapstructure:"direct_services" yaml:"direct_services"`
	GeoFallbackURL string        `mapstructure:"geo_fallback_url" yaml:"geo_fallback_url"`
	LeakPolicy     LeakPolicy    `mapstructure:"leak_policy" yaml:"leak_policy"`
	GeoIPDatabase  string        `mapstructure:"geoip_database" yaml:"geoip_database"`
	PingEnabled    bool          `mapstructure:"ping_enabled" yaml:"ping_enabled"`
	BulkDelay      time.Duration `mapstructure:"bulk_delay" yaml:"bulk_delay"`
	QuickCheckURL  string        `mapstructure:"quick_check_url" yaml:"quick_check_url"`
	QuickTimeout   time.Duration `mapstructure:"quick_timeout" yaml:"quick_timeout"`
}

// SiteConfig describes the marketplace surface.
type SiteConfig struct {
	BaseURL       string `mapstructure:"base_url" yaml:"base_url"`
	CookieDomain  string `mapstructure:"cookie_domain" yaml:"cookie_domain"`
	LoginFragment string `mapstructure:"login_fragment" yaml:"login_fragment"`
	MessagesPath  string `mapstructure:"messages_path" yaml:"messages_path"`
	MyAdsPath     string `mapstructure:"my_ads_path" yaml:"my_ads_path"`
	CreateAdPath  string `mapstructure:"create_ad_path" yaml:"create_ad_path"`
}

// PublishConfig tunes the publish flow and its state detection.
type PublishConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FormTimeout       time.Duration `mapstructure:"form_timeout" yaml:"form_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StateTimeout      time.Duration `mapstructure:"state_timeout" yaml:"state_timeout"`
	DirectBuyRetries  int           `mapstructure:"direct_buy_retries" yaml:"direct_buy_retries"`
	DirectBuyWait     time.Duration `mapstructure:"direct_buy_wait" yaml:"direct_buy_wait"`
	TypingDelayMin    time.Duration `mapstructure:"typing_delay_min" yaml:"typing_delay_min"`
	TypingDelayMax    time.Duration `mapstructure:"typing_delay_max" yaml:"typing_delay_max"`
	PostFillPauseMin  time.Duration `mapstructure:"post_fill_pause_min" yaml:"post_fill_pause_min"`
	PostFillPauseMax  time.Duration `mapstructure:"post_fill_pause_max" yaml:"post_fill_pause_max"`
	MaxFormErrors     int           `mapstructure:"max_form_errors" yaml:"max_form_errors"`
	RetryWithoutProxy bool          `mapstructure:"retry_without_proxy" yaml:"retry_without_proxy"`
}

// CategoriesConfig configures the category tree service.
type CategoriesConfig struct {
	CachePath string        `mapstructure:"cache_path" yaml:"cache_path"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	Sources   []string      `mapstructure:"sources" yaml:"sources"`
	MaxDepth  int           `mapstructure:"max_depth" yaml:"max_depth"`
	// RequestInterval spaces live page fetches; zero disables pacing.
	RequestInterval time.Duration `mapstructure:"request_interval" yaml:"request_interval"`
	// Backend is "file" or "redis".
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds the connection settings for the optional redis cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "file", "memory" or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path locates the JSON document of the file backend.
	Path string `mapstructure:"path" yaml:"path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "kleinpost")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_dir_prefix", "kl-profile-")
	v.SetDefault("browser.session_timeout", "600s")
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.forward_all_proxies", true)
	v.SetDefault("browser.debug", false)

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.dial_timeout", "10s")
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")

	// -- Proxy Check --
	v.SetDefault("proxycheck.timeout", "10s")
	v.SetDefault("proxycheck.connect_target", "example.com:443")
	v.SetDefault("proxycheck.lookup_services", []string{
		"https://ipinfo.io/json",
		"https://api64.ipify.org?format=json",
		"http://ip-api.com/json",
	})
	v.SetDefault("proxycheck.direct_services", []string{
		"https://api.ipify.org?format=json",
		"https://api64.ipify.org?format=json",
		"https://ipinfo.io/json",
	})
	v.SetDefault("proxycheck.geo_fallback_url", "http://ip-api.com/json/%s")
	v.SetDefault("proxycheck.leak_policy", string(LeakPolicySkip))
	v.SetDefault("proxycheck.geoip_database", "")
	v.SetDefault("proxycheck.ping_enabled", true)
	v.SetDefault("proxycheck.bulk_delay", "1s")
	v.SetDefault("proxycheck.quick_check_url", "https://www.google.com")
	v.SetDefault("proxycheck.quick_timeout", "5s")

	// -- Site --
	v.SetDefault("site.base_url", "https://www.kleinanzeigen.de")
	v.SetDefault("site.cookie_domain", ".kleinanzeigen.de")
	v.SetDefault("site.login_fragment", "m-einloggen")
	v.SetDefault("site.messages_path", "/m-nachrichten.html")
	v.SetDefault("site.my_ads_path", "/m-meine-anzeigen.html")
	v.SetDefault("site.create_ad_path", "/p-anzeige-aufgeben-schritt2.html")

	// -- Publish --
	v.SetDefault("publish.timeout", "600s")
	v.SetDefault("publish.form_timeout", "20s")
	v.SetDefault("publish.poll_interval", "400ms")
	v.SetDefault("publish.state_timeout", "30s")
	v.SetDefault("publish.direct_buy_retries", 3)
	v.SetDefault("publish.direct_buy_wait", "4s")
	v.SetDefault("publish.typing_delay_min", "40ms")
	v.SetDefault("publish.typing_delay_max", "120ms")
	v.SetDefault("publish.post_fill_pause_min", "150ms")
	v.SetDefault("publish.post_fill_pause_max", "400ms")
	v.SetDefault("publish.max_form_errors", 6)
	v.SetDefault("publish.retry_without_proxy", true)

	// -- Categories --
	v.SetDefault("categories.cache_path", "~/.kleinpost/categories.json")
	v.SetDefault("categories.cache_ttl", "24h")
	v.SetDefault("categories.sources", []string{
		"https://www.kleinanzeigen.de/s-kategorie/",
		"https://www.kleinanzeigen.de/s-kategorie",
	})
	v.SetDefault("categories.max_depth", 2)
	v.SetDefault("categories.request_interval", "250ms")
	v.SetDefault("categories.backend", "file")
	v.SetDefault("categories.redis.addr", "localhost:6379")
	v.SetDefault("categories.redis.db", 0)
	v.SetDefault("categories.redis.key", "kleinpost:categories")

	// -- Store --
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "~/.kleinpost/store.json")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "KLEINPOST_DATABASE_URL")
	_ = v.BindEnv("categories.redis.password", "KLEINPOST_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.SiteCfg.BaseURL == "" {
		return fmt.Errorf("site.base_url is a required configuration field")
	}
	if c.ProxyCheckCfg.Timeout <= 0 {
		return fmt.Errorf("proxycheck.timeout must be a positive duration")
	}
	switch c.ProxyCheckCfg.LeakPolicy {
	case LeakPolicySkip, LeakPolicyFail:
	default:
		return fmt.Errorf("proxycheck.leak_policy must be %q or %q", LeakPolicySkip, LeakPolicyFail)
	}
	if c.PublishCfg.PollInterval <= 0 {
		return fmt.Errorf("publish.poll_interval must be a positive duration")
	}
	if c.PublishCfg.TypingDelayMax < c.PublishCfg.TypingDelayMin {
		return fmt.Errorf("publish.typing_delay_max must not be below typing_delay_min")
	}
	if c.CategoriesCfg.MaxDepth < 0 {
		return fmt.Errorf("categories.max_depth must not be negative")
	}
	switch c.CategoriesCfg.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("categories.backend must be \"file\" or \"redis\"")
	}
	switch c.StoreCfg.Backend {
	case "file":
		if c.StoreCfg.Path == "" {
			return fmt.Errorf("store.path is required when store.backend is file")
		}
	case "memory":
	case "postgres":
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be \"file\", \"memory\" or \"postgres\"")
	}
	return nil
}
