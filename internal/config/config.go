// Package config provides configuration loading, validation, and management
// for gardenbot. It reads a YAML file, applies GARDEN_* environment overrides
// and defaults, and validates the result before any component starts.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // attendance.timezone must resolve on hosts without zoneinfo

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration is returned for any missing or invalid setting.
// The process must not start when it is returned.
var ErrConfiguration = errors.New("configuration error")

// Config holds every setting of the application. It is loaded once at
// startup and passed explicitly to the components that need it.
type Config struct {
	Logger     LoggerConfig      `mapstructure:"log"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Slack      SlackConfig       `mapstructure:"slack"`
	Notify     NotifyConfig      `mapstructure:"notify"`
	HTTP       HTTPConfig        `mapstructure:"http"`
	Attendance AttendanceConfig  `mapstructure:"attendance"`
	Users      []string          `mapstructure:"users"   validate:"required,min=1,unique,dive,required"`
	Members    map[string]Member `mapstructure:"members" validate:"dive"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn"    validate:"required"`
}

// SlackConfig holds chat API credentials and the channel the commit bot posts to.
type SlackConfig struct {
	Token        string `mapstructure:"token"         validate:"required"`
	ChannelID    string `mapstructure:"channel_id"    validate:"required"`
	HistoryLimit int    `mapstructure:"history_limit" validate:"min=1,max=1000"`
}

// NotifyConfig configures where the no-show report is posted.
type NotifyConfig struct {
	Backend        string `mapstructure:"backend"          validate:"oneof=slack telegram log"`
	Channel        string `mapstructure:"channel"          validate:"required_if=Backend slack"`
	Message        string `mapstructure:"message"`
	TelegramToken  string `mapstructure:"telegram_token"   validate:"required_if=Backend telegram"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id" validate:"required_if=Backend telegram"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"          validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  validate:"min=1s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=1s"`
}

// AttendanceConfig holds the attendance rules.
type AttendanceConfig struct {
	StartDate     string `mapstructure:"start_date"     validate:"required,datetime=2006-01-02"`
	Timezone      string `mapstructure:"timezone"       validate:"required,timezone"`
	GardeningDays int    `mapstructure:"gardening_days" validate:"min=0"`

	start civil.Date
	loc   *time.Location
}

// Start returns the attendance floor date.
func (a AttendanceConfig) Start() civil.Date { return a.start }

// Location returns the time zone calendar dates are computed in.
func (a AttendanceConfig) Location() *time.Location {
	if a.loc == nil {
		return time.UTC
	}
	return a.loc
}

// Member maps a tracked GitHub user to their chat identity.
type Member struct {
	Slack string `mapstructure:"slack"`
	Name  string `mapstructure:"name"`
}

// SchedulerConfig lists scheduled tasks by name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig enables a task and sets its cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// Member returns the chat identity configured for user. Keys are matched
// case-insensitively since viper lowercases map keys on load.
func (c *Config) Member(user string) (Member, bool) {
	if m, ok := c.Members[user]; ok {
		return m, true
	}
	for key, m := range c.Members {
		if strings.EqualFold(key, user) {
			return m, true
		}
	}
	return Member{}, false
}

// SlackName returns the chat handle for user, falling back to the user id.
func (c *Config) SlackName(user string) string {
	if m, ok := c.Member(user); ok && m.Slack != "" {
		return m.Slack
	}
	return user
}

// LoadConfig reads configuration from path (optional), a .env file (optional)
// and GARDEN_* environment variables, then validates it.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("GARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrConfiguration, path, err)
			}
		}
		slog.Info("Configuration file not found, using defaults and environment", "path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Configuration loaded",
		"path", path,
		"database_driver", cfg.Database.Driver,
		"users", len(cfg.Users),
		"start_date", cfg.Attendance.StartDate,
		"timezone", cfg.Attendance.Timezone)
	return cfg, nil
}

// Validate checks struct constraints and resolves derived attendance values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	start, err := civil.ParseDate(c.Attendance.StartDate)
	if err != nil {
		return fmt.Errorf("%w: invalid attendance.start_date: %v", ErrConfiguration, err)
	}
	loc, err := time.LoadLocation(c.Attendance.Timezone)
	if err != nil {
		return fmt.Errorf("%w: invalid attendance.timezone: %v", ErrConfiguration, err)
	}
	c.Attendance.start = start
	c.Attendance.loc = loc
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "garden.db")

	// Registered so that GARDEN_SLACK_TOKEN and friends bind without a file.
	v.SetDefault("slack.token", "")
	v.SetDefault("slack.channel_id", "")
	v.SetDefault("slack.history_limit", 1000)

	v.SetDefault("notify.backend", "log")
	v.SetDefault("notify.channel", "")
	v.SetDefault("notify.message", "Gardening no-show:")
	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", 0)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 2*time.Minute)

	v.SetDefault("users", []string{})

	v.SetDefault("attendance.start_date", "2019-10-01")
	v.SetDefault("attendance.timezone", "Asia/Seoul")
	v.SetDefault("attendance.gardening_days", 100)

	v.SetDefault("scheduler.tasks.collect.enabled", true)
	v.SetDefault("scheduler.tasks.collect.schedule", "0 */10 * * * *")
	v.SetDefault("scheduler.tasks.no_show.enabled", false)
	v.SetDefault("scheduler.tasks.no_show.schedule", "0 0 22 * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 30 4 * * 0")
}
