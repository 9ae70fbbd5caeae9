package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service. Credentials
// (service API key, assistant identity) are deliberately not part of
// this file; they come from the environment.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Assistant   AssistantConfig           `json:"assistant"`
	Scraper     ScraperConfig             `json:"scraper"`
}

type BasicConfig struct {
	ServerAddress            string `json:"server_address"`
	StagingSweepIntervalMin  int    `json:"staging_sweep_interval_minutes"`
	MaxAttachedFilesPerTurn  int    `json:"max_attached_files_per_turn"`
	MaxQueuedTurnsPerSession int    `json:"max_queued_turns_per_session"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type AssistantConfig struct {
	PollIntervalMillis int `json:"poll_interval_millis"`
	TurnTimeoutSeconds int `json:"turn_timeout_seconds"`
}

type ScraperConfig struct {
	ListURL         string `json:"list_url"`
	BaseURL         string `json:"base_url"`
	CacheTTLMinutes int    `json:"cache_ttl_minutes"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	for name, db := range cfg.Databases {
		switch name {
		case "sqlite", "sqlite3":
			if db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
				db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
				cfg.Databases[name] = db
			}
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.StagingSweepIntervalMin <= 0 {
		c.BasicConfig.StagingSweepIntervalMin = 60
	}
	if c.BasicConfig.MaxAttachedFilesPerTurn <= 0 {
		c.BasicConfig.MaxAttachedFilesPerTurn = 3
	}
	if c.BasicConfig.MaxQueuedTurnsPerSession <= 0 {
		c.BasicConfig.MaxQueuedTurnsPerSession = 8
	}
	if c.Assistant.PollIntervalMillis <= 0 {
		c.Assistant.PollIntervalMillis = 500
	}
	if c.Assistant.TurnTimeoutSeconds <= 0 {
		c.Assistant.TurnTimeoutSeconds = 120
	}
	if c.Scraper.ListURL == "" {
		c.Scraper.ListURL = "https://www.camara.gov.co/secretaria/proyectos-de-ley#menu"
	}
	if c.Scraper.BaseURL == "" {
		c.Scraper.BaseURL = "https://www.camara.gov.co"
	}
	if c.Scraper.CacheTTLMinutes <= 0 {
		c.Scraper.CacheTTLMinutes = 10
	}
}
