package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bhandras/ussdpilot/internal/surface"
	"gopkg.in/yaml.v3"
)

// ConfirmMode selects what the CONFIRM step accepts.
type ConfirmMode string

const (
	// ConfirmPIN requires the PIN entered at the start of the session.
	ConfirmPIN ConfirmMode = "pin"
	// ConfirmToken accepts "1" to confirm and "0" to go back.
	ConfirmToken ConfirmMode = "token"
)

// Config holds the process configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr           string   `yaml:"addr"`
	DatabasePath   string   `yaml:"database_path"`
	APISecret      string   `yaml:"api_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Debug          bool     `yaml:"debug"`
	LogLevel       string   `yaml:"log_level"`
	// OTLPEndpoint enables span export over OTLP/HTTP when set.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	Session SessionConfig `yaml:"session"`
}

// SessionConfig parameterizes every dialog session.
type SessionConfig struct {
	DialCode string `yaml:"dial_code"`
	// AutoPIN is submitted automatically at the PIN prompt when no reply is
	// pending. Empty disables auto-fill.
	AutoPIN        string           `yaml:"auto_pin"`
	OpeningBalance int64            `yaml:"opening_balance"`
	ConfirmMode    ConfirmMode      `yaml:"confirm_mode"`
	Strategy       surface.Strategy `yaml:"strategy"`
	Delays         Delays           `yaml:"delays"`
	Debounce       Debounce         `yaml:"debounce"`
}

// Delays are the named follow-up timers of a session.
type Delays struct {
	Extract  Duration `yaml:"extract"`
	Autofill Duration `yaml:"autofill"`
	Dispatch Duration `yaml:"dispatch"`
	Conceal  Duration `yaml:"conceal"`
	Dial     Duration `yaml:"dial"`
}

// Debounce configures the snapshot gate.
type Debounce struct {
	QuietInterval Duration `yaml:"quiet_interval"`
	MinLength     int      `yaml:"min_length"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses values such as "1500ms" or "2s".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Overrides optionally overrides values from the file and environment.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	ConfigPath   *string
	Addr         *string
	DatabasePath *string
	APISecret    *string
	Debug        *bool
	LogLevel     *string
	AutoPIN      *string
	DialCode     *string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:           ":8080",
		DatabasePath:   "./ussdpilot.db",
		AllowedOrigins: []string{"*"},
		LogLevel:       "info",
		Session: SessionConfig{
			DialCode:       "*219#",
			AutoPIN:        "0303",
			OpeningBalance: 1500,
			ConfirmMode:    ConfirmPIN,
			Strategy:       surface.Gentle,
			Delays: Delays{
				Extract:  Duration(time.Second),
				Autofill: Duration(1500 * time.Millisecond),
				Dispatch: Duration(time.Second),
				Conceal:  Duration(800 * time.Millisecond),
				Dial:     Duration(time.Second),
			},
			Debounce: Debounce{
				QuietInterval: Duration(2 * time.Second),
				MinLength:     5,
			},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file
// (USSDPILOT_CONFIG), environment variables and finally explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	cfg := Default()

	path := os.Getenv("USSDPILOT_CONFIG")
	if overrides.ConfigPath != nil {
		path = *overrides.ConfigPath
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyOverrides(&cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if portStr := os.Getenv("PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			cfg.Addr = fmt.Sprintf(":%d", p)
		}
	}
	if v := os.Getenv("USSDPILOT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := getenvFirst("USSDPILOT_DATABASE_PATH", "DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("USSDPILOT_API_SECRET"); v != "" {
		cfg.APISecret = v
	}
	if v := os.Getenv("USSDPILOT_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if debugStr := getenvFirst("USSDPILOT_DEBUG", "DEBUG"); debugStr == "true" || debugStr == "1" {
		cfg.Debug = true
	}
	if v := os.Getenv("USSDPILOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenvFirst("USSDPILOT_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}

	s := &cfg.Session
	if v := os.Getenv("USSDPILOT_DIAL_CODE"); v != "" {
		s.DialCode = v
	}
	if v, ok := os.LookupEnv("USSDPILOT_AUTO_PIN"); ok {
		s.AutoPIN = v
	}
	if v := os.Getenv("USSDPILOT_OPENING_BALANCE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid USSDPILOT_OPENING_BALANCE %q: %w", v, err)
		}
		s.OpeningBalance = n
	}
	if v := os.Getenv("USSDPILOT_CONFIRM_MODE"); v != "" {
		s.ConfirmMode = ConfirmMode(strings.ToLower(v))
	}
	if v := os.Getenv("USSDPILOT_STRATEGY"); v != "" {
		s.Strategy = surface.Strategy(strings.ToLower(v))
	}
	if v := os.Getenv("USSDPILOT_QUIET_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid USSDPILOT_QUIET_INTERVAL %q: %w", v, err)
		}
		s.Debounce.QuietInterval = Duration(d)
	}
	return nil
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Addr != nil {
		cfg.Addr = *o.Addr
	}
	if o.DatabasePath != nil {
		cfg.DatabasePath = *o.DatabasePath
	}
	if o.APISecret != nil {
		cfg.APISecret = *o.APISecret
	}
	if o.Debug != nil {
		cfg.Debug = *o.Debug
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.AutoPIN != nil {
		cfg.Session.AutoPIN = *o.AutoPIN
	}
	if o.DialCode != nil {
		cfg.Session.DialCode = *o.DialCode
	}
}

var pinPattern = regexp.MustCompile(`^\d{4}$`)

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	s := c.Session
	switch s.ConfirmMode {
	case ConfirmPIN, ConfirmToken:
	default:
		return fmt.Errorf("invalid confirm mode %q (expected pin or token)", s.ConfirmMode)
	}
	if _, err := surface.ParseStrategy(string(s.Strategy)); err != nil || s.Strategy == "" {
		return fmt.Errorf("invalid strategy %q (expected gentle or aggressive)", s.Strategy)
	}
	if s.AutoPIN != "" && !pinPattern.MatchString(s.AutoPIN) {
		return fmt.Errorf("auto pin must be four digits")
	}
	if strings.TrimSpace(s.DialCode) == "" {
		return fmt.Errorf("dial code is required")
	}
	if s.OpeningBalance < 0 {
		return fmt.Errorf("opening balance must not be negative")
	}
	if s.Debounce.MinLength < 0 {
		return fmt.Errorf("debounce min length must not be negative")
	}
	for name, d := range map[string]Duration{
		"extract":        s.Delays.Extract,
		"autofill":       s.Delays.Autofill,
		"dispatch":       s.Delays.Dispatch,
		"conceal":        s.Delays.Conceal,
		"dial":           s.Delays.Dial,
		"quiet_interval": s.Debounce.QuietInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s delay must not be negative", name)
		}
	}
	return nil
}

func getenvFirst(primary, fallback string) string {
	if val := os.Getenv(primary); val != "" {
		return val
	}
	return os.Getenv(fallback)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
