package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X main.solverAPIKey=YOUR_KEY -X main.defaultCookie=..."
var (
	solverAPIKey  string // -X main.solverAPIKey=...
	defaultCookie string // -X main.defaultCookie=...
)

const defaultConfigFile = "sunoapi.toml"

// Duration is a time.Duration that reads "1.5s"-style strings from TOML and env.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config enumerates every option the service understands.
type Config struct {
	Cookie       string        `toml:"cookie"`
	DefaultModel string        `toml:"default_model" validate:"required"`
	ListenAddr   string        `toml:"listen_addr" validate:"required"`
	LogLevel     string        `toml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFile      string        `toml:"log_file"`
	ProxyFile    string        `toml:"proxy_file"`
	ClientTTL    Duration      `toml:"client_ttl" validate:"gte=0"`
	Remote       RemoteConfig  `toml:"remote"`
	Browser      BrowserConfig `toml:"browser"`
	Solver       SolverConfig  `toml:"solver"`
	Poll         PollConfig    `toml:"poll"`
}

type RemoteConfig struct {
	StudioBaseURL  string   `toml:"studio_base_url" validate:"required,url"`
	ClerkBaseURL   string   `toml:"clerk_base_url" validate:"required,url"`
	ClerkVersion   string   `toml:"clerk_version" validate:"required"`
	RequestTimeout Duration `toml:"request_timeout" validate:"gt=0"`
}

type BrowserConfig struct {
	Engine               string   `toml:"engine" validate:"oneof=chromium firefox"`
	Headless             bool     `toml:"headless"`
	Locale               string   `toml:"locale" validate:"required"`
	GhostCursor          bool     `toml:"ghost_cursor"`
	CreatePageURL        string   `toml:"create_page_url" validate:"required,url"`
	CookieDomain         string   `toml:"cookie_domain" validate:"required"`
	NavigationTimeout    Duration `toml:"navigation_timeout" validate:"gt=0"`
	ChallengeWaitTimeout Duration `toml:"challenge_wait_timeout" validate:"gt=0"`
	ChallengeDrainWindow Duration `toml:"challenge_drain_window" validate:"gt=0"`
}

type SolverConfig struct {
	Backend string `toml:"backend" validate:"oneof=2captcha 2captcha-task"`
	APIKey  string `toml:"api_key"`
}

type PollConfig struct {
	InitialDelay Duration `toml:"initial_delay" validate:"gte=0"`
	Interval     Duration `toml:"interval" validate:"gt=0"`
	Timeout      Duration `toml:"timeout" validate:"gt=0"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		DefaultModel: DefaultModel,
		ListenAddr:   ":3000",
		LogLevel:     "info",
		Remote: RemoteConfig{
			StudioBaseURL:  "https://studio-api.prod.suno.com",
			ClerkBaseURL:   "https://clerk.suno.com",
			ClerkVersion:   "5.15.0",
			RequestTimeout: Duration(10 * time.Second),
		},
		Browser: BrowserConfig{
			Engine:               "chromium",
			Headless:             true,
			Locale:               "en",
			CreatePageURL:        "https://suno.com/create",
			CookieDomain:         ".suno.com",
			NavigationTimeout:    Duration(60 * time.Second),
			ChallengeWaitTimeout: Duration(60 * time.Second),
			ChallengeDrainWindow: Duration(time.Second),
		},
		Solver: SolverConfig{
			Backend: "2captcha",
		},
		Poll: PollConfig{
			InitialDelay: Duration(5 * time.Second),
			Interval:     Duration(3 * time.Second),
			Timeout:      Duration(100 * time.Second),
		},
	}
}

// LoadConfig layers defaults, the optional TOML file, .env, the process
// environment and build-time secrets, then validates the result.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("SUNOAPI_CONFIG")
	if path == "" {
		path = defaultConfigFile
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.Solver.APIKey == "" {
		cfg.Solver.APIKey = solverAPIKey
	}
	if cfg.Cookie == "" {
		cfg.Cookie = defaultCookie
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"SUNO_COOKIE":     &c.Cookie,
		"DEFAULT_MODEL":   &c.DefaultModel,
		"LISTEN_ADDR":     &c.ListenAddr,
		"LOG_LEVEL":       &c.LogLevel,
		"LOG_FILE":        &c.LogFile,
		"PROXY_FILE":      &c.ProxyFile,
		"STUDIO_BASE_URL": &c.Remote.StudioBaseURL,
		"CLERK_BASE_URL":  &c.Remote.ClerkBaseURL,
		"CLERK_VERSION":   &c.Remote.ClerkVersion,
		"BROWSER":         &c.Browser.Engine,
		"BROWSER_LOCALE":  &c.Browser.Locale,
		"TWOCAPTCHA_KEY":  &c.Solver.APIKey,
		"SOLVER_BACKEND":  &c.Solver.Backend,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	c.Browser.Engine = strings.ToLower(c.Browser.Engine)

	bools := map[string]*bool{
		"BROWSER_HEADLESS":     &c.Browser.Headless,
		"BROWSER_GHOST_CURSOR": &c.Browser.GhostCursor,
	}
	for key, dst := range bools {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := parseYesNo(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}

	durations := map[string]*Duration{
		"CLIENT_TTL":              &c.ClientTTL,
		"REQUEST_TIMEOUT":         &c.Remote.RequestTimeout,
		"NAVIGATION_TIMEOUT":      &c.Browser.NavigationTimeout,
		"CHALLENGE_WAIT_TIMEOUT":  &c.Browser.ChallengeWaitTimeout,
		"CHALLENGE_DRAIN_TIMEOUT": &c.Browser.ChallengeDrainWindow,
		"POLL_INITIAL_DELAY":      &c.Poll.InitialDelay,
		"POLL_INTERVAL":           &c.Poll.Interval,
		"POLL_TIMEOUT":            &c.Poll.Timeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Validate checks the struct tags of the whole configuration tree.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// parseYesNo accepts the usual spellings of a boolean flag.
func parseYesNo(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "y", "yes", "on":
		return true, nil
	case "n", "no", "off":
		return false, nil
	}
	return strconv.ParseBool(v)
}
