package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Unlimited marks a plan limit that never blocks.
const Unlimited = -1

type Config struct {
	Server     ServerConfig          `yaml:"server"`
	Database   DatabaseConfig        `yaml:"database"`
	JWT        JWTConfig             `yaml:"jwt"`
	LDAP       LDAPConfig            `yaml:"ldap"`
	OpenAI     OpenAIConfig          `yaml:"openai"`
	Redis      RedisConfig           `yaml:"redis"`
	Log        LogConfig             `yaml:"log"`
	Automation AutomationConfig      `yaml:"automation"`
	Plans      map[string]PlanConfig `yaml:"plans"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret            string `yaml:"secret"`
	ExpireHour        int    `yaml:"expire_hour"`
	RefreshExpireHour int    `yaml:"refresh_expire_hour"`
}

type LDAPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	BaseDN       string `yaml:"base_dn"`
	BindDN       string `yaml:"bind_dn"`
	BindPassword string `yaml:"bind_password"`
	UserFilter   string `yaml:"user_filter"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// OpenAIConfig is the fallback LLM used when no LLMConfig row is active.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console; empty picks console at debug level
}

// AutomationConfig tunes the playbook engine.
type AutomationConfig struct {
	DraftTTLHours     int `yaml:"draft_ttl_hours"`
	DefaultSampleSize int `yaml:"default_sample_size"`
	MaxSampleSize     int `yaml:"max_sample_size"`
	ApplyConcurrency  int `yaml:"apply_concurrency"`
	AIConcurrency     int `yaml:"ai_concurrency"`
}

// PlanConfig describes what a subscription plan allows. Limits of -1 are unlimited.
type PlanConfig struct {
	AutoApply            bool `yaml:"auto_apply"`
	AIDailyLimit         int  `yaml:"ai_daily_limit"`
	AutomationDailyLimit int  `yaml:"automation_daily_limit"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	// .env is optional; real environment variables still win
	_ = godotenv.Load()

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		fileCfg := DefaultConfig()
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.overrideFromEnv()
	cfg.applyAutomationDefaults()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "storepilot.db",
		},
		JWT: JWTConfig{
			Secret:            "storepilot-secret-key-change-in-production",
			ExpireHour:        24,
			RefreshExpireHour: 24 * 7,
		},
		LDAP: LDAPConfig{
			Enabled:    false,
			Port:       389,
			UserFilter: "(uid=%s)",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Log: LogConfig{
			Level: "info",
		},
		Automation: AutomationConfig{
			DraftTTLHours:     24,
			DefaultSampleSize: 25,
			MaxSampleSize:     200,
			ApplyConcurrency:  4,
			AIConcurrency:     3,
		},
		Plans: DefaultPlans(),
	}
}

// DefaultPlans is used when config.yaml has no plans section.
func DefaultPlans() map[string]PlanConfig {
	return map[string]PlanConfig{
		"free":     {AutoApply: false, AIDailyLimit: 10, AutomationDailyLimit: 0},
		"pro":      {AutoApply: true, AIDailyLimit: 200, AutomationDailyLimit: 20},
		"business": {AutoApply: true, AIDailyLimit: Unlimited, AutomationDailyLimit: Unlimited},
	}
}

func (c *Config) applyAutomationDefaults() {
	if c.Automation.DraftTTLHours <= 0 {
		c.Automation.DraftTTLHours = 24
	}
	if c.Automation.DefaultSampleSize <= 0 {
		c.Automation.DefaultSampleSize = 25
	}
	if c.Automation.MaxSampleSize <= 0 {
		c.Automation.MaxSampleSize = 200
	}
	if c.Automation.ApplyConcurrency <= 0 {
		c.Automation.ApplyConcurrency = 4
	}
	if c.Automation.AIConcurrency <= 0 {
		c.Automation.AIConcurrency = 3
	}
	if len(c.Plans) == 0 {
		c.Plans = DefaultPlans()
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.OpenAI.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.OpenAI.APIKey = apiKey
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.OpenAI.Model = model
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
	if ttl := envInt("AUTOMATION_DRAFT_TTL_HOURS"); ttl > 0 {
		c.Automation.DraftTTLHours = ttl
	}
	if n := envInt("AUTOMATION_APPLY_CONCURRENCY"); n > 0 {
		c.Automation.ApplyConcurrency = n
	}
	if n := envInt("AUTOMATION_AI_CONCURRENCY"); n > 0 {
		c.Automation.AIConcurrency = n
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
