package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"github.com/park285/carp-board/internal/chess"
)

type AppConfig struct {
	EnginePath      string
	EngineThreads   int
	EngineHashMB    int
	EngineShowWDL   bool
	MaxEngines      int
	EngineRemoteURL string
	// OpeningBook is an optional Polyglot book consulted before searching.
	OpeningBook string

	EngineReadyTimeout  time.Duration
	EngineReadyAttempts int

	SearchMode  string
	SearchValue int
	DisplaySide chess.Side

	WSAddr     string
	HTTPAddr   string
	WorkerAddr string
	WSOrigins  []string

	RedisURL    string
	DatabaseURL string

	MessagesDir string
}

// fileConfig is the CONFIG_FILE layout. Environment variables win over it.
type fileConfig struct {
	Engine struct {
		Path          string `yaml:"path"`
		Threads       int    `yaml:"threads"`
		HashMB        int    `yaml:"hash_mb"`
		ShowWDL       *bool  `yaml:"show_wdl"`
		MaxEngines    int    `yaml:"max_engines"`
		RemoteURL     string `yaml:"remote_url"`
		OpeningBook   string `yaml:"opening_book"`
		ReadyTimeout  string `yaml:"ready_timeout"`
		ReadyAttempts int    `yaml:"ready_attempts"`
	} `yaml:"engine"`
	Search struct {
		Mode  string `yaml:"mode"`
		Value int    `yaml:"value"`
	} `yaml:"search"`
	DisplaySide string `yaml:"display_side"`
	Listen      struct {
		WS      string   `yaml:"ws"`
		HTTP    string   `yaml:"http"`
		Worker  string   `yaml:"worker"`
		Origins []string `yaml:"origins"`
	} `yaml:"listen"`
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
	MessagesDir string `yaml:"messages_dir"`
}

// Load reads .env (ENV_FILE) if present, then CONFIG_FILE, then the environment.
func Load() (*AppConfig, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		EngineThreads:       1,
		EngineHashMB:        256,
		EngineShowWDL:       true,
		EngineReadyTimeout:  10 * time.Second,
		EngineReadyAttempts: 3,
		SearchMode:          string(chess.ModeDepth),
		DisplaySide:         chess.White,
		WSAddr:              ":8080",
		HTTPAddr:            ":8081",
		WorkerAddr:          ":8090",
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotenv() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.EnginePath, f.Engine.Path)
	setInt(&c.EngineThreads, f.Engine.Threads)
	setInt(&c.EngineHashMB, f.Engine.HashMB)
	if f.Engine.ShowWDL != nil {
		c.EngineShowWDL = *f.Engine.ShowWDL
	}
	setInt(&c.MaxEngines, f.Engine.MaxEngines)
	setString(&c.EngineRemoteURL, f.Engine.RemoteURL)
	setString(&c.OpeningBook, f.Engine.OpeningBook)
	if v := strings.TrimSpace(f.Engine.ReadyTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("engine.ready_timeout: %w", err)
		}
		c.EngineReadyTimeout = d
	}
	setInt(&c.EngineReadyAttempts, f.Engine.ReadyAttempts)
	setString(&c.SearchMode, f.Search.Mode)
	setInt(&c.SearchValue, f.Search.Value)
	if v := strings.TrimSpace(f.DisplaySide); v != "" {
		side, err := chess.ParseSide(v)
		if err != nil {
			return fmt.Errorf("display_side: %w", err)
		}
		c.DisplaySide = side
	}
	setString(&c.WSAddr, f.Listen.WS)
	setString(&c.HTTPAddr, f.Listen.HTTP)
	setString(&c.WorkerAddr, f.Listen.Worker)
	if len(f.Listen.Origins) > 0 {
		c.WSOrigins = append([]string(nil), f.Listen.Origins...)
	}
	setString(&c.RedisURL, f.RedisURL)
	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.MessagesDir, f.MessagesDir)
	return nil
}

func (c *AppConfig) applyEnv() error {
	setString(&c.EnginePath, os.Getenv("ENGINE_PATH"))
	setInt(&c.EngineThreads, envInt("ENGINE_THREADS"))
	setInt(&c.EngineHashMB, envInt("ENGINE_HASH_MB"))
	if v := strings.TrimSpace(os.Getenv("ENGINE_SHOW_WDL")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.EngineShowWDL = b
		}
	}
	setInt(&c.MaxEngines, envInt("MAX_ENGINES"))
	setString(&c.EngineRemoteURL, os.Getenv("ENGINE_REMOTE_URL"))
	setString(&c.OpeningBook, os.Getenv("OPENING_BOOK"))

	if v := strings.TrimSpace(os.Getenv("ENGINE_READY_TIMEOUT")); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("ENGINE_READY_TIMEOUT: %w", err)
		}
		c.EngineReadyTimeout = d
	}
	setInt(&c.EngineReadyAttempts, envInt("ENGINE_READY_ATTEMPTS"))

	setString(&c.SearchMode, os.Getenv("SEARCH_MODE"))
	setInt(&c.SearchValue, envInt("SEARCH_VALUE"))
	if v := strings.TrimSpace(os.Getenv("DISPLAY_SIDE")); v != "" {
		side, err := chess.ParseSide(v)
		if err != nil {
			return fmt.Errorf("DISPLAY_SIDE: %w", err)
		}
		c.DisplaySide = side
	}

	setString(&c.WSAddr, os.Getenv("WS_ADDR"))
	setString(&c.HTTPAddr, os.Getenv("HTTP_ADDR"))
	setString(&c.WorkerAddr, os.Getenv("WORKER_ADDR"))
	if v := strings.TrimSpace(os.Getenv("WS_ORIGINS")); v != "" {
		c.WSOrigins = nil
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				c.WSOrigins = append(c.WSOrigins, s)
			}
		}
	}

	setString(&c.RedisURL, os.Getenv("REDIS_URL"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.MessagesDir, os.Getenv("MESSAGES_DIR"))
	return nil
}

func (c *AppConfig) validate() error {
	if c.EnginePath == "" && c.EngineRemoteURL == "" {
		return errors.New("ENGINE_PATH or ENGINE_REMOTE_URL is required")
	}
	if _, err := chess.NewSearchLimits(c.SearchMode, c.SearchValue); err != nil {
		return fmt.Errorf("SEARCH_MODE: %w", err)
	}
	if c.EngineThreads <= 0 {
		return errors.New("ENGINE_THREADS must be positive")
	}
	if c.EngineReadyTimeout <= 0 {
		return errors.New("ENGINE_READY_TIMEOUT must be positive")
	}
	return nil
}

// SearchLimits returns the clamped default search setting for new sessions.
func (c *AppConfig) SearchLimits() chess.SearchLimits {
	l, err := chess.NewSearchLimits(c.SearchMode, c.SearchValue)
	if err != nil {
		return chess.DefaultSearchLimits()
	}
	return l
}

// parseDuration accepts Go durations ("15s") or plain seconds ("15").
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func envInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
