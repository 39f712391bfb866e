package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// MinTabs and MaxTabs bound the number of concurrently open crawl tabs
	MinTabs = 1
	MaxTabs = 10

	// DefaultProfilePattern matches an Instagram profile page URL
	DefaultProfilePattern = `https://www\.instagram\.com/[^/]+/?`

	envPrefix = "IGCRAWLER_"
)

// Config holds all configuration options for the crawler
type Config struct {
	Browser       BrowserConfig      `yaml:"browser" json:"browser"`
	Crawler       CrawlerConfig      `yaml:"crawler" json:"crawler"`
	Storage       StorageConfig      `yaml:"storage" json:"storage"`
	Sinks         SinksConfig        `yaml:"sinks" json:"sinks"`
	Server        ServerConfig       `yaml:"server" json:"server"`
	Avatars       AvatarConfig       `yaml:"avatars" json:"avatars"`
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`
	Logging       LoggingConfig      `yaml:"logging" json:"logging"`
}

// BrowserConfig controls how Chrome is launched or attached to
type BrowserConfig struct {
	// RemoteURL attaches to an already running browser (ws://...) instead of
	// launching one
	RemoteURL      string `yaml:"remote_url" json:"remote_url"`
	Headless       bool   `yaml:"headless" json:"headless"`
	Stealth        bool   `yaml:"stealth" json:"stealth"`
	BlockResources bool   `yaml:"block_resources" json:"block_resources"`
	UserAgent      string `yaml:"user_agent" json:"user_agent"`
	Bin            string `yaml:"bin" json:"bin"`
	// Account names the stored session whose cookies are installed in a
	// launched browser. Empty picks the default account, if any.
	Account string `yaml:"account" json:"account"`
}

// CrawlerConfig holds scheduler settings
type CrawlerConfig struct {
	MaxTabs        int           `yaml:"max_tabs" json:"max_tabs"`
	DevMode        bool          `yaml:"dev_mode" json:"dev_mode"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout" json:"ready_timeout"`
	TaskTimeout    time.Duration `yaml:"task_timeout" json:"task_timeout"`
	TabsPerMinute  int           `yaml:"tabs_per_minute" json:"tabs_per_minute"`
	SeedURL        string        `yaml:"seed_url" json:"seed_url"`
	ProfilePattern string        `yaml:"profile_pattern" json:"profile_pattern"`
	OpenRetries    int           `yaml:"open_retries" json:"open_retries"`
}

// StorageConfig selects and configures the result store backend
type StorageConfig struct {
	Backend     string `yaml:"backend" json:"backend"`
	Path        string `yaml:"path" json:"path"`
	RedisAddr   string `yaml:"redis_addr" json:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix" json:"redis_prefix"`
}

// SinksConfig configures optional record sinks. Empty values disable a sink.
type SinksConfig struct {
	KafkaBrokers  []string `yaml:"kafka_brokers" json:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic" json:"kafka_topic"`
	Neo4jURI      string   `yaml:"neo4j_uri" json:"neo4j_uri"`
	Neo4jUser     string   `yaml:"neo4j_user" json:"neo4j_user"`
	Neo4jPassword string   `yaml:"neo4j_password" json:"-"`
}

// ServerConfig holds the HTTP control surface settings
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// AvatarConfig controls profile image downloads
type AvatarConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Directory  string        `yaml:"directory" json:"directory"`
	Concurrent int           `yaml:"concurrent" json:"concurrent"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	OnComplete bool `yaml:"on_complete" json:"on_complete"`
	OnError    bool `yaml:"on_error" json:"on_error"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	Format  string `yaml:"format" json:"format"`
	File    string `yaml:"file" json:"file"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless: true,
			Stealth:  true,
		},
		Crawler: CrawlerConfig{
			MaxTabs:        5,
			PollInterval:   time.Second,
			ReadyTimeout:   30 * time.Second,
			TaskTimeout:    20 * time.Second,
			ProfilePattern: DefaultProfilePattern,
			OpenRetries:    3,
		},
		Storage: StorageConfig{
			Backend:     "file",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "igcrawler",
		},
		Sinks: SinksConfig{
			KafkaTopic: "igcrawler.profiles",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
		Avatars: AvatarConfig{
			Directory:  "./avatars",
			Concurrent: 3,
			Timeout:    30 * time.Second,
		},
		Notifications: NotificationConfig{
			Enabled:    false,
			OnComplete: true,
			OnError:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ClampTabs clamps n into [MinTabs, MaxTabs]
func ClampTabs(n int) int {
	if n < MinTabs {
		return MinTabs
	}
	if n > MaxTabs {
		return MaxTabs
	}
	return n
}

// LoadFromEnv overrides fields from IGCRAWLER_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	envString("BROWSER_URL", &c.Browser.RemoteURL)
	envString("BROWSER_BIN", &c.Browser.Bin)
	envString("USER_AGENT", &c.Browser.UserAgent)
	envString("ACCOUNT", &c.Browser.Account)
	errs = append(errs,
		envBool("HEADLESS", &c.Browser.Headless),
		envBool("STEALTH", &c.Browser.Stealth),
		envInt("MAX_TABS", &c.Crawler.MaxTabs),
		envBool("DEV_MODE", &c.Crawler.DevMode),
		envDuration("POLL_INTERVAL", &c.Crawler.PollInterval),
		envDuration("READY_TIMEOUT", &c.Crawler.ReadyTimeout),
		envDuration("TASK_TIMEOUT", &c.Crawler.TaskTimeout),
		envInt("TABS_PER_MINUTE", &c.Crawler.TabsPerMinute),
		envBool("AVATARS_ENABLED", &c.Avatars.Enabled),
		envBool("NOTIFICATIONS_ENABLED", &c.Notifications.Enabled),
	)
	envString("SEED_URL", &c.Crawler.SeedURL)

	envString("STORAGE_BACKEND", &c.Storage.Backend)
	envString("STORAGE_PATH", &c.Storage.Path)
	envString("REDIS_ADDR", &c.Storage.RedisAddr)

	if brokers := os.Getenv(envPrefix + "KAFKA_BROKERS"); brokers != "" {
		c.Sinks.KafkaBrokers = strings.Split(brokers, ",")
	}
	envString("KAFKA_TOPIC", &c.Sinks.KafkaTopic)
	envString("NEO4J_URI", &c.Sinks.Neo4jURI)
	envString("NEO4J_USER", &c.Sinks.Neo4jUser)
	envString("NEO4J_PASSWORD", &c.Sinks.Neo4jPassword)

	envString("LISTEN_ADDR", &c.Server.Addr)
	envString("AVATAR_DIR", &c.Avatars.Directory)
	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FORMAT", &c.Logging.Format)
	envString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}

// LoadFromFile loads configuration from a YAML file. An empty path searches
// the default locations; finding nothing there is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// DefaultPath is where `config init` writes a new file
func DefaultPath() string {
	return filepath.Join(configHome(), "igcrawler", "config.yaml")
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func findConfigFile() string {
	locations := []string{
		".igcrawler.yaml",
		".igcrawler.yml",
		DefaultPath(),
		filepath.Join(os.Getenv("HOME"), ".igcrawler.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Crawler.MaxTabs < MinTabs || c.Crawler.MaxTabs > MaxTabs {
		errs = append(errs, fmt.Errorf("max tabs must be between %d and %d", MinTabs, MaxTabs))
	}
	if c.Crawler.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Crawler.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("ready timeout must be positive"))
	}
	if c.Crawler.TaskTimeout <= 0 {
		errs = append(errs, errors.New("task timeout must be positive"))
	}
	if c.Crawler.TabsPerMinute < 0 {
		errs = append(errs, errors.New("tabs per minute cannot be negative"))
	}
	if c.Crawler.OpenRetries < 0 {
		errs = append(errs, errors.New("open retries cannot be negative"))
	}
	if _, err := regexp.Compile(c.Crawler.ProfilePattern); err != nil {
		errs = append(errs, fmt.Errorf("invalid profile pattern: %w", err))
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "file", "sqlite", "memory":
	case "redis":
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if len(c.Sinks.KafkaBrokers) > 0 && c.Sinks.KafkaTopic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	if c.Sinks.Neo4jURI != "" && c.Sinks.Neo4jUser == "" {
		errs = append(errs, errors.New("neo4j user is required when a neo4j uri is set"))
	}

	if c.Avatars.Enabled {
		if c.Avatars.Directory == "" {
			errs = append(errs, errors.New("avatar directory is required"))
		}
		if c.Avatars.Concurrent <= 0 || c.Avatars.Concurrent > 10 {
			errs = append(errs, errors.New("concurrent avatar downloads must be between 1 and 10"))
		}
		if c.Avatars.Timeout <= 0 {
			errs = append(errs, errors.New("avatar timeout must be positive"))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MergeCommandLineFlags applies flag values that were explicitly set.
// Keys are the cobra flag names.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["max-tabs"].(int); ok && v != 0 {
		c.Crawler.MaxTabs = ClampTabs(v)
	}
	if v, ok := flags["dev-mode"].(bool); ok {
		c.Crawler.DevMode = v
	}
	if v, ok := flags["seed"].(string); ok && v != "" {
		c.Crawler.SeedURL = v
	}
	if v, ok := flags["task-timeout"].(time.Duration); ok && v > 0 {
		c.Crawler.TaskTimeout = v
	}
	if v, ok := flags["tabs-per-minute"].(int); ok && v >= 0 {
		c.Crawler.TabsPerMinute = v
	}
	if v, ok := flags["browser-url"].(string); ok && v != "" {
		c.Browser.RemoteURL = v
	}
	if v, ok := flags["account"].(string); ok && v != "" {
		c.Browser.Account = v
	}
	if v, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = v
	}
	if v, ok := flags["storage"].(string); ok && v != "" {
		c.Storage.Backend = v
	}
	if v, ok := flags["storage-path"].(string); ok && v != "" {
		c.Storage.Path = v
	}
	if v, ok := flags["addr"].(string); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := flags["avatars"].(bool); ok {
		c.Avatars.Enabled = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence:
// flags > environment > .env file > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igcrawler.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}
