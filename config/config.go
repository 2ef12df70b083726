package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"spikes-trader/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Venue selection: "paper" or "live"
	VenueMode string

	// Live venue credentials (required only when VenueMode == "live")
	VenueBaseURL    string
	VenueAPIKey     string
	VenueClientCode string
	VenueTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	FeedURL       string
	ReplayPath    string
	LogLevel      string

	// Strategy parameters
	InstrumentsPath string
	BarMinutes      int
	SessionMode     string // "primary" or "secondary"
	StopLossPct     float64
	TakeProfitPct   float64
	DeltaPct        float64
	DeltaFarPct     float64
	SingleFarCode   string
	EveningOnly     bool
	BarsToClose     int
	NativeStops     bool
}

// instrumentFile is the on-disk YAML shape of the instruments list.
type instrumentFile struct {
	Instruments []struct {
		Code     string `yaml:"code"`
		Name     string `yaml:"name"`
		TickSize int64  `yaml:"tick_size"`
		BaseVol  int64  `yaml:"base_vol"`
		FarVol   int64  `yaml:"far_vol"`
	} `yaml:"instruments"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cfg := &Config{
		VenueMode: getEnv("VENUE_MODE", "paper"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/fills.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		FeedURL:       getEnv("FEED_URL", ""),
		ReplayPath:    getEnv("REPLAY_PATH", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		InstrumentsPath: getEnv("INSTRUMENTS_PATH", "config/instruments.yaml"),
		BarMinutes:      getInt("BAR_MINUTES", 5),
		SessionMode:     getEnv("SESSION_MODE", "primary"),
		StopLossPct:     getFloat("STOP_LOSS_PCT", 1.0),
		TakeProfitPct:   getFloat("TAKE_PROFIT_PCT", 0),
		DeltaPct:        getFloat("DELTA_PCT", 0.5),
		DeltaFarPct:     getFloat("DELTA_FAR_PCT", 1.5),
		SingleFarCode:   getEnv("SINGLE_FAR_CODE", ""),
		EveningOnly:     getBool("EVENING_ONLY", false),
		BarsToClose:     getInt("BARS_TO_CLOSE", 2),
		NativeStops:     getBool("NATIVE_STOPS", false),
	}

	if cfg.VenueMode == "live" {
		cfg.VenueBaseURL = mustEnv("VENUE_BASE_URL")
		cfg.VenueAPIKey = mustEnv("VENUE_API_KEY")
		cfg.VenueClientCode = mustEnv("VENUE_CLIENT_CODE")
		cfg.VenueTOTPSecret = mustEnv("VENUE_TOTP_SECRET")
	}

	return cfg
}

// LoadInstruments parses the YAML instruments file at path. Every entry must
// carry a positive tick size and base volume; a zero far volume is rejected
// too because the far bracket sizes off it.
func LoadInstruments(path string) ([]model.Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read instruments file: %w", err)
	}

	var f instrumentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse instruments file: %w", err)
	}
	if len(f.Instruments) == 0 {
		return nil, fmt.Errorf("config: no instruments defined in %s", path)
	}

	insts := make([]model.Instrument, 0, len(f.Instruments))
	seen := make(map[string]bool, len(f.Instruments))
	for _, e := range f.Instruments {
		if e.Code == "" {
			return nil, fmt.Errorf("config: instrument with empty code in %s", path)
		}
		if seen[e.Code] {
			return nil, fmt.Errorf("config: duplicate instrument code %s", e.Code)
		}
		seen[e.Code] = true
		if e.TickSize <= 0 {
			return nil, fmt.Errorf("config: instrument %s: tick_size must be positive", e.Code)
		}
		if e.BaseVol <= 0 {
			return nil, fmt.Errorf("config: instrument %s: base_vol must be positive", e.Code)
		}
		if e.FarVol <= 0 {
			return nil, fmt.Errorf("config: instrument %s: far_vol must be positive", e.Code)
		}
		insts = append(insts, model.Instrument{
			Code:     e.Code,
			Name:     e.Name,
			TickSize: e.TickSize,
			BaseVol:  e.BaseVol,
			FarVol:   e.FarVol,
		})
	}
	return insts, nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %t", key, v, fallback)
		return fallback
	}
	return b
}
