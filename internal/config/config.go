package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override, e.g. PATRIMONIO_SERVER_PORT.
	EnvPrefix = "PATRIMONIO_"
	// ConfigPathEnvVar names an explicit YAML config file.
	ConfigPathEnvVar = "PATRIMONIO_CONFIG"
)

// DefaultConfigPaths are searched when PATRIMONIO_CONFIG is unset.
var DefaultConfigPaths = []string{"patrimonio.yaml", "patrimonio.yml", "/etc/patrimonio/config.yaml"}

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Backup    BackupConfig    `koanf:"backup"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Notify    NotifyConfig    `koanf:"notify"`
	Push      PushConfig      `koanf:"push"`
	Log       LogConfig       `koanf:"log"`
	Auth      AuthConfig      `koanf:"auth"`
}

type ServerConfig struct {
	Port    string `koanf:"port"`
	BaseURL string `koanf:"base_url"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type BackupConfig struct {
	Dir        string   `koanf:"dir"`
	Retention  int      `koanf:"retention"`
	Time       string   `koanf:"time"`
	Passphrase string   `koanf:"passphrase"`
	S3         S3Config `koanf:"s3"`
}

type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

type SchedulerConfig struct {
	Interval    time.Duration `koanf:"interval"`
	Backoff     time.Duration `koanf:"backoff"`
	StopTimeout time.Duration `koanf:"stop_timeout"`
}

type NotifyConfig struct {
	UpcomingDays int `koanf:"upcoming_days"`
}

type PushConfig struct {
	VAPIDPublicKey  string `koanf:"vapid_public_key"`
	VAPIDPrivateKey string `koanf:"vapid_private_key"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type AuthConfig struct {
	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`
}

func defaultConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", BaseURL: "http://localhost:8080"},
		Database: DatabaseConfig{URL: "sqlite:///data/patrimonio.db"},
		Backup: BackupConfig{
			Dir:       "backups",
			Retention: 10,
			Time:      "02:00",
			S3:        S3Config{Region: "us-east-1"},
		},
		Scheduler: SchedulerConfig{
			Interval:    time.Minute,
			Backoff:     5 * time.Minute,
			StopTimeout: 5 * time.Second,
		},
		Notify: NotifyConfig{UpcomingDays: 30},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// PATRIMONIO_* environment variables, in increasing priority. A .env file
// in the working directory is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform(k.Keys())), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps PATRIMONIO_BACKUP_S3_ACCESS_KEY to backup.s3.access_key
// using the known configuration paths, so underscores inside key names
// survive. Unknown variables are ignored.
func envTransform(paths []string) func(string) string {
	known := make(map[string]string, len(paths))
	for _, p := range paths {
		known[EnvPrefix+strings.ToUpper(strings.ReplaceAll(p, ".", "_"))] = p
	}
	return func(key string) string {
		if key == ConfigPathEnvVar {
			return ""
		}
		return known[key]
	}
}

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidClock reports whether s is a 24-hour HH:MM time.
func ValidClock(s string) bool {
	return clockPattern.MatchString(s)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if !ValidClock(c.Backup.Time) {
		errs = append(errs, fmt.Errorf("backup.time %q must be HH:MM", c.Backup.Time))
	}
	if c.Backup.Retention <= 0 {
		errs = append(errs, fmt.Errorf("backup.retention must be positive, got %d", c.Backup.Retention))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if c.Scheduler.Backoff <= 0 {
		errs = append(errs, errors.New("scheduler.backoff must be positive"))
	}
	if c.Scheduler.StopTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.stop_timeout must be positive"))
	}
	if c.Notify.UpcomingDays <= 0 {
		errs = append(errs, errors.New("notify.upcoming_days must be positive"))
	}
	if (c.Auth.AdminUsername == "") != (c.Auth.AdminPassword == "") {
		errs = append(errs, errors.New("auth.admin_username and auth.admin_password must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// PushEnabled reports whether VAPID keys are configured.
func (c *Config) PushEnabled() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}
