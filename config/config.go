package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"

	"github.com/soriano-club/clubapi/models"
	"github.com/soriano-club/clubapi/services"
)

// AppConfig holds the service configuration.
// Secrets have no defaults in code and must come from config.json or the environment.
type AppConfig struct {
	AppPort            string   `env:"APP_PORT"`
	JWTSecret          string   `env:"JWT_SECRET"`
	AdminRoles         []string `env:"ADMIN_ROLES"`
	AllowedOrigins     []string `env:"ALLOWED_ORIGINS"`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE"`
	// Gin framework configuration
	GinMode string `env:"GIN_MODE"`
	GinPath string `env:"GIN_PATH"`
	// Database
	DBDriver     string `env:"DB_DRIVER"`
	DatabaseURI  string `env:"DATABASE_URI"`
	DBHost       string `env:"DB_HOST"`
	DBPort       string `env:"DB_PORT"`
	DBUser       string `env:"DB_USER"`
	DBPassword   string `env:"DB_PASSWORD"`
	DBName       string `env:"DB_NAME"`
	DBSQLitePath string `env:"DB_SQLITE_PATH"`
	// Redis backs the balance cache and the event channel
	RedisEnabled  bool   `env:"REDIS_ENABLED"`
	RedisHost     string `env:"REDIS_HOST"`
	RedisPort     int    `env:"REDIS_PORT"`
	RedisDB       int    `env:"REDIS_DB"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	// Logging configuration
	LogLevel      string `env:"LOG_LEVEL"`
	LogPath       string `env:"LOG_PATH"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS"`
	LogCompress   bool   `env:"LOG_COMPRESS"`
	// Loyalty rules
	Timezone              string        `env:"LOYALTY_TIMEZONE"`
	StreakMilestoneEvery  int           `env:"LOYALTY_STREAK_MILESTONE_EVERY"`
	StreakMilestonePoints int64         `env:"LOYALTY_STREAK_MILESTONE_POINTS"`
	QuizSize              int           `env:"LOYALTY_QUIZ_SIZE"`
	PerfectQuizBonus      int64         `env:"LOYALTY_PERFECT_QUIZ_BONUS"`
	VoucherPrefix         string        `env:"LOYALTY_VOUCHER_PREFIX"`
	EventChannel          string        `env:"LOYALTY_EVENT_CHANNEL"`
	EventTimeout          time.Duration `env:"LOYALTY_EVENT_TIMEOUT"`
	BalanceCacheTTL       time.Duration `env:"LOYALTY_BALANCE_CACHE_TTL"`
	EarnPoints            map[string]int64
}

// fileConfig mirrors the grouped layout of config/config.json.
type fileConfig struct {
	App struct {
		AppPort            string   `json:"AppPort"`
		JWTSecret          string   `json:"JWTSecret"`
		AdminRoles         []string `json:"AdminRoles"`
		AllowedOrigins     []string `json:"AllowedOrigins"`
		RateLimitPerMinute int      `json:"RateLimitPerMinute"`
	} `json:"app"`
	Gin struct {
		Mode    string `json:"Mode"`
		LogPath string `json:"LogPath"`
	} `json:"gin"`
	Database struct {
		Driver      string `json:"Driver"`
		DatabaseURI string `json:"DatabaseURI"`
		DBHost      string `json:"DBHost"`
		DBPort      string `json:"DBPort"`
		DBUser      string `json:"DBUser"`
		DBPassword  string `json:"DBPassword"`
		DBName      string `json:"DBName"`
		SQLitePath  string `json:"SQLitePath"`
	} `json:"database"`
	Redis struct {
		Enabled       *bool  `json:"Enabled"`
		RedisHost     string `json:"RedisHost"`
		RedisPort     int    `json:"RedisPort"`
		RedisDB       int    `json:"RedisDB"`
		RedisPassword string `json:"RedisPassword"`
	} `json:"redis"`
	Log struct {
		Level      string `json:"Level"`
		Path       string `json:"Path"`
		MaxSizeMB  int    `json:"MaxSizeMB"`
		MaxBackups int    `json:"MaxBackups"`
		MaxAgeDays int    `json:"MaxAgeDays"`
		Compress   bool   `json:"Compress"`
	} `json:"log"`
	Loyalty struct {
		Timezone               string           `json:"Timezone"`
		StreakMilestoneEvery   int              `json:"StreakMilestoneEvery"`
		StreakMilestonePoints  int64            `json:"StreakMilestonePoints"`
		QuizSize               int              `json:"QuizSize"`
		PerfectQuizBonus       int64            `json:"PerfectQuizBonus"`
		VoucherPrefix          string           `json:"VoucherPrefix"`
		EventChannel           string           `json:"EventChannel"`
		EventTimeoutSeconds    int              `json:"EventTimeoutSeconds"`
		BalanceCacheTTLSeconds int              `json:"BalanceCacheTTLSeconds"`
		EarnPoints             map[string]int64 `json:"EarnPoints"`
	} `json:"loyalty"`
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}
	c, err := LoadFrom(filepath.Join("config", "config.json"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// LoadFrom builds a configuration with the precedence
// config file -> defaults -> environment variables.
func LoadFrom(path string) (AppConfig, error) {
	var c AppConfig
	if err := loadJSONConfig(path, &c); err != nil {
		return AppConfig{}, err
	}
	applyDefaults(&c)
	if err := env.Parse(&c); err != nil {
		return AppConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if c.JWTSecret == "" {
		return AppConfig{}, errors.New("JWT_SECRET must be set in config or environment")
	}
	if _, err := c.Location(); err != nil {
		return AppConfig{}, err
	}
	return c, nil
}

// loadJSONConfig reads the file into out if present. A missing file is not an error.
func loadJSONConfig(path string, out *AppConfig) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	out.AppPort = fc.App.AppPort
	out.JWTSecret = fc.App.JWTSecret
	out.AdminRoles = fc.App.AdminRoles
	out.AllowedOrigins = fc.App.AllowedOrigins
	out.RateLimitPerMinute = fc.App.RateLimitPerMinute

	out.GinMode = fc.Gin.Mode
	out.GinPath = fc.Gin.LogPath

	out.DBDriver = fc.Database.Driver
	out.DatabaseURI = fc.Database.DatabaseURI
	out.DBHost = fc.Database.DBHost
	out.DBPort = fc.Database.DBPort
	out.DBUser = fc.Database.DBUser
	out.DBPassword = fc.Database.DBPassword
	out.DBName = fc.Database.DBName
	out.DBSQLitePath = fc.Database.SQLitePath

	// redis stays on unless the file turns it off
	out.RedisEnabled = fc.Redis.Enabled == nil || *fc.Redis.Enabled
	out.RedisHost = fc.Redis.RedisHost
	out.RedisPort = fc.Redis.RedisPort
	out.RedisDB = fc.Redis.RedisDB
	out.RedisPassword = fc.Redis.RedisPassword

	out.LogLevel = fc.Log.Level
	out.LogPath = fc.Log.Path
	out.LogMaxSizeMB = fc.Log.MaxSizeMB
	out.LogMaxBackups = fc.Log.MaxBackups
	out.LogMaxAgeDays = fc.Log.MaxAgeDays
	out.LogCompress = fc.Log.Compress

	l := fc.Loyalty
	out.Timezone = l.Timezone
	out.StreakMilestoneEvery = l.StreakMilestoneEvery
	out.StreakMilestonePoints = l.StreakMilestonePoints
	out.QuizSize = l.QuizSize
	out.PerfectQuizBonus = l.PerfectQuizBonus
	out.VoucherPrefix = l.VoucherPrefix
	out.EventChannel = l.EventChannel
	out.EventTimeout = time.Duration(l.EventTimeoutSeconds) * time.Second
	out.BalanceCacheTTL = time.Duration(l.BalanceCacheTTLSeconds) * time.Second
	out.EarnPoints = l.EarnPoints
	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if len(c.AdminRoles) == 0 {
		c.AdminRoles = []string{"admin", "service"}
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		switch c.DBDriver {
		case "postgres":
			c.DBPort = "5432"
		default:
			c.DBPort = "3306"
		}
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "soriano_club"
	}
	if c.DBSQLitePath == "" {
		c.DBSQLitePath = "data/clubapi.db"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}

	d := services.DefaultSettings()
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.StreakMilestoneEvery == 0 {
		c.StreakMilestoneEvery = d.StreakMilestoneEvery
	}
	if c.StreakMilestonePoints == 0 {
		c.StreakMilestonePoints = d.StreakMilestonePoints
	}
	if c.QuizSize == 0 {
		c.QuizSize = d.QuizSize
	}
	if c.PerfectQuizBonus == 0 {
		c.PerfectQuizBonus = d.PerfectQuizBonus
	}
	if c.VoucherPrefix == "" {
		c.VoucherPrefix = d.VoucherPrefix
	}
	if c.EventChannel == "" {
		c.EventChannel = "soriano:loyalty:events"
	}
	if c.EventTimeout == 0 {
		c.EventTimeout = d.EventTimeout
	}
	if c.BalanceCacheTTL == 0 {
		c.BalanceCacheTTL = 10 * time.Minute
	}
}

// Location resolves the loyalty day zone.
func (c AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid loyalty timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// IsAdminRole reports whether a token role may call internal endpoints.
func (c AppConfig) IsAdminRole(role string) bool {
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	for _, r := range c.AdminRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// LoyaltySettings converts the loyalty section into engine settings.
func (c AppConfig) LoyaltySettings() (services.Settings, error) {
	loc, err := c.Location()
	if err != nil {
		return services.Settings{}, err
	}
	s := services.DefaultSettings()
	s.Location = loc
	s.StreakMilestoneEvery = c.StreakMilestoneEvery
	s.StreakMilestonePoints = c.StreakMilestonePoints
	s.QuizSize = c.QuizSize
	s.PerfectQuizBonus = c.PerfectQuizBonus
	s.VoucherPrefix = c.VoucherPrefix
	s.EventTimeout = c.EventTimeout
	for action, points := range c.EarnPoints {
		a := models.ActionType(strings.ToUpper(strings.TrimSpace(action)))
		if _, ok := s.EarnDefaults[a]; !ok {
			return services.Settings{}, fmt.Errorf("EarnPoints: %w: %s", services.ErrUnknownAction, action)
		}
		if points <= 0 {
			return services.Settings{}, fmt.Errorf("EarnPoints: %s must be positive", action)
		}
		s.EarnDefaults[a] = points
	}
	return s, nil
}
