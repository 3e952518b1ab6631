package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"

	FetchHTTP    = "http"
	FetchBrowser = "browser"

	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Scraper   ScraperConfig
	Delays    DelayConfig
	Discovery DiscoveryConfig
	Browser   BrowserConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Output    OutputConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	QueueSize       int
}

type ScraperConfig struct {
	Mode          string
	Fetch         string
	MaxAttempts   int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	TimeoutMin    time.Duration
	TimeoutMax    time.Duration
	Workers       int
	SessionLimit  int
	UserAgents    []string
	SelectorsFile string
}

// DelayConfig holds the randomized pause bands used between page actions.
type DelayConfig struct {
	SessionMin   time.Duration
	SessionMax   time.Duration
	NavigateMin  time.Duration
	NavigateMax  time.Duration
	AfterItemMin time.Duration
	AfterItemMax time.Duration
	PreFetchMin  time.Duration
	PreFetchMax  time.Duration
	ScrollMin    time.Duration
	ScrollMax    time.Duration
	ScrollSteps  int
	ScrollPxMin  int
	ScrollPxMax  int
}

type DiscoveryConfig struct {
	ListingURL     string
	TargetCount    int
	SettleInterval time.Duration
	InitialWait    time.Duration
	MaxScrolls     int
}

type BrowserConfig struct {
	Headless          bool
	NavigationTimeout time.Duration
	Timeout           time.Duration
	SlowMo            time.Duration
	ViewportMinWidth  int
	ViewportMaxWidth  int
	ViewportMinHeight int
	ViewportMaxHeight int
	AcceptLanguage    string
	TimezoneID        string
	Locale            string
	ProxyServer       string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type OutputConfig struct {
	Format      string
	Dir         string
	StorageFile string
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			QueueSize:       getIntOrDefault("SERVER_QUEUE_SIZE", 100),
		},
		Scraper: ScraperConfig{
			Mode:          getEnvOrDefault("SCRAPER_MODE", ModeSequential),
			Fetch:         getEnvOrDefault("SCRAPER_FETCH", FetchHTTP),
			MaxAttempts:   getIntOrDefault("SCRAPER_MAX_ATTEMPTS", 3),
			BackoffMin:    getDurationOrDefault("SCRAPER_BACKOFF_MIN", 2*time.Second),
			BackoffMax:    getDurationOrDefault("SCRAPER_BACKOFF_MAX", 7*time.Second),
			TimeoutMin:    getDurationOrDefault("SCRAPER_TIMEOUT_MIN", 10*time.Second),
			TimeoutMax:    getDurationOrDefault("SCRAPER_TIMEOUT_MAX", 15*time.Second),
			Workers:       getIntOrDefault("SCRAPER_WORKERS", 0),
			SessionLimit:  getIntOrDefault("SCRAPER_SESSION_LIMIT", 10),
			UserAgents:    getStringSliceOrDefault("SCRAPER_USER_AGENTS", DefaultUserAgents()),
			SelectorsFile: getEnvOrDefault("SELECTORS_FILE", ""),
		},
		Delays: DelayConfig{
			SessionMin:   getDurationOrDefault("DELAY_SESSION_MIN", 5*time.Second),
			SessionMax:   getDurationOrDefault("DELAY_SESSION_MAX", 10*time.Second),
			NavigateMin:  getDurationOrDefault("DELAY_NAVIGATE_MIN", 2*time.Second),
			NavigateMax:  getDurationOrDefault("DELAY_NAVIGATE_MAX", 5*time.Second),
			AfterItemMin: getDurationOrDefault("DELAY_AFTER_ITEM_MIN", 2*time.Second),
			AfterItemMax: getDurationOrDefault("DELAY_AFTER_ITEM_MAX", 4*time.Second),
			PreFetchMin:  getDurationOrDefault("DELAY_PREFETCH_MIN", 500*time.Millisecond),
			PreFetchMax:  getDurationOrDefault("DELAY_PREFETCH_MAX", 2*time.Second),
			ScrollMin:    getDurationOrDefault("DELAY_SCROLL_MIN", 3*time.Second),
			ScrollMax:    getDurationOrDefault("DELAY_SCROLL_MAX", 8*time.Second),
			ScrollSteps:  getIntOrDefault("SCROLL_STEPS", 2),
			ScrollPxMin:  getIntOrDefault("SCROLL_PX_MIN", 300),
			ScrollPxMax:  getIntOrDefault("SCROLL_PX_MAX", 800),
		},
		Discovery: DiscoveryConfig{
			ListingURL:     getEnvOrDefault("LISTING_URL", "https://poshmark.com/closet/peechypies?availability=available"),
			TargetCount:    getIntOrDefault("TARGET_COUNT", 10),
			SettleInterval: getDurationOrDefault("DISCOVERY_SETTLE_INTERVAL", 2*time.Second),
			InitialWait:    getDurationOrDefault("DISCOVERY_INITIAL_WAIT", 30*time.Second),
			MaxScrolls:     getIntOrDefault("DISCOVERY_MAX_SCROLLS", 0),
		},
		Browser: BrowserConfig{
			Headless:          getBoolOrDefault("BROWSER_HEADLESS", true),
			NavigationTimeout: getDurationOrDefault("BROWSER_NAVIGATION_TIMEOUT", 30*time.Second),
			Timeout:           getDurationOrDefault("BROWSER_TIMEOUT", 10*time.Second),
			SlowMo:            getDurationOrDefault("BROWSER_SLOW_MO", 200*time.Millisecond),
			ViewportMinWidth:  getIntOrDefault("BROWSER_VIEWPORT_MIN_WIDTH", 1280),
			ViewportMaxWidth:  getIntOrDefault("BROWSER_VIEWPORT_MAX_WIDTH", 1780),
			ViewportMinHeight: getIntOrDefault("BROWSER_VIEWPORT_MIN_HEIGHT", 800),
			ViewportMaxHeight: getIntOrDefault("BROWSER_VIEWPORT_MAX_HEIGHT", 1300),
			AcceptLanguage:    getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:        getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:            getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			ProxyServer:       getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "closet_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:listings"),
		},
		Output: OutputConfig{
			Format:      strings.ToLower(getEnvOrDefault("OUTPUT_FORMAT", FormatJSON)),
			Dir:         getEnvOrDefault("OUTPUT_DIR", "."),
			StorageFile: getEnvOrDefault("STORAGE_FILE", "listing_links.json"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
			File:   getEnvOrDefault("LOG_FILE", ""),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Scraper.Mode {
	case ModeSequential, ModeParallel:
	default:
		return fmt.Errorf("SCRAPER_MODE must be %q or %q, got %q", ModeSequential, ModeParallel, c.Scraper.Mode)
	}

	switch c.Scraper.Fetch {
	case FetchHTTP, FetchBrowser:
	default:
		return fmt.Errorf("SCRAPER_FETCH must be %q or %q, got %q", FetchHTTP, FetchBrowser, c.Scraper.Fetch)
	}

	if c.Scraper.MaxAttempts < 1 {
		return fmt.Errorf("SCRAPER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Scraper.Workers < 0 {
		return fmt.Errorf("SCRAPER_WORKERS cannot be negative")
	}

	if c.Scraper.SessionLimit < 1 {
		return fmt.Errorf("SCRAPER_SESSION_LIMIT must be at least 1")
	}

	if len(c.Scraper.UserAgents) == 0 {
		return fmt.Errorf("SCRAPER_USER_AGENTS must contain at least one user agent")
	}

	bands := []struct {
		name     string
		min, max time.Duration
	}{
		{"SCRAPER_BACKOFF", c.Scraper.BackoffMin, c.Scraper.BackoffMax},
		{"SCRAPER_TIMEOUT", c.Scraper.TimeoutMin, c.Scraper.TimeoutMax},
		{"DELAY_SESSION", c.Delays.SessionMin, c.Delays.SessionMax},
		{"DELAY_NAVIGATE", c.Delays.NavigateMin, c.Delays.NavigateMax},
		{"DELAY_AFTER_ITEM", c.Delays.AfterItemMin, c.Delays.AfterItemMax},
		{"DELAY_PREFETCH", c.Delays.PreFetchMin, c.Delays.PreFetchMax},
		{"DELAY_SCROLL", c.Delays.ScrollMin, c.Delays.ScrollMax},
	}
	for _, b := range bands {
		if b.min < 0 || b.min > b.max {
			return fmt.Errorf("%s_MIN cannot be negative or greater than %s_MAX", b.name, b.name)
		}
	}

	if c.Scraper.TimeoutMin <= 0 {
		return fmt.Errorf("SCRAPER_TIMEOUT_MIN must be positive")
	}

	if c.Delays.ScrollPxMin > c.Delays.ScrollPxMax {
		return fmt.Errorf("SCROLL_PX_MIN cannot be greater than SCROLL_PX_MAX")
	}

	if c.Browser.ViewportMinWidth > c.Browser.ViewportMaxWidth ||
		c.Browser.ViewportMinHeight > c.Browser.ViewportMaxHeight {
		return fmt.Errorf("browser viewport minimum cannot exceed maximum")
	}

	if c.Discovery.SettleInterval < 0 {
		return fmt.Errorf("DISCOVERY_SETTLE_INTERVAL cannot be negative")
	}

	switch c.Output.Format {
	case FormatJSON, FormatCSV, FormatPostgres:
	default:
		return fmt.Errorf("OUTPUT_FORMAT must be one of json, csv, postgres, got %q", c.Output.Format)
	}

	return nil
}

// DatabaseURL builds the pgx connection string.
func (c DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, "|") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}

// DefaultUserAgents is the desktop user agent pool rotated per session.
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.4 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
	}
}
