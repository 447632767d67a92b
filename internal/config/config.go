// Package config loads kensho settings from a TOML file and KENSHO_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. KENSHO_REMOTE_URL.
	EnvPrefix = "KENSHO"
	// FileName is the configuration file inside the home directory.
	FileName = "config.toml"
)

// Config is the resolved configuration.
type Config struct {
	DataDir  string       `toml:"data_dir" mapstructure:"data_dir"`
	DeviceID string       `toml:"device_id" mapstructure:"device_id"`
	Log      LogConfig    `toml:"log" mapstructure:"log"`
	Remote   RemoteConfig `toml:"remote" mapstructure:"remote"`
	Server   ServerConfig `toml:"server" mapstructure:"server"`
	Daemon   DaemonConfig `toml:"daemon" mapstructure:"daemon"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
	File  string `toml:"file" mapstructure:"file"`
}

// RemoteConfig points a device at a kensho server.
type RemoteConfig struct {
	URL     string        `toml:"url" mapstructure:"url"`
	UserID  string        `toml:"user_id" mapstructure:"user_id"`
	Token   string        `toml:"token" mapstructure:"token"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// ServerConfig configures `kensho serve`.
type ServerConfig struct {
	Addr         string        `toml:"addr" mapstructure:"addr"`
	DB           string        `toml:"db" mapstructure:"db"`
	ReplicaURL   string        `toml:"replica_url" mapstructure:"replica_url"`
	ReplicaToken string        `toml:"replica_token" mapstructure:"replica_token"`
	SyncInterval time.Duration `toml:"sync_interval" mapstructure:"sync_interval"`
	Users        []User        `toml:"users" mapstructure:"users"`
}

// User grants a bearer token access to one tenant.
type User struct {
	Token  string `toml:"token" mapstructure:"token"`
	UserID string `toml:"user_id" mapstructure:"user_id"`
}

// Tokens returns the token to user id map. Tokens are kept in a list
// because viper lowercases map keys.
func (s ServerConfig) Tokens() map[string]string {
	out := make(map[string]string, len(s.Users))
	for _, u := range s.Users {
		out[u.Token] = u.UserID
	}
	return out
}

// DaemonConfig configures `kensho daemon`.
type DaemonConfig struct {
	Debounce       time.Duration `toml:"debounce" mapstructure:"debounce"`
	ResyncInterval time.Duration `toml:"resync_interval" mapstructure:"resync_interval"`
}

// Configured reports whether a remote server has been set up.
func (c *Config) Configured() bool {
	return c.Remote.URL != "" && c.Remote.Token != ""
}

// LocalDB returns the path of the on-device database.
func (c *Config) LocalDB() string {
	return filepath.Join(c.DataDir, "kensho.db")
}

// ServerDB returns the path of the server's document database.
func (c *Config) ServerDB() string {
	if c.Server.DB != "" {
		return c.Server.DB
	}
	return filepath.Join(c.DataDir, "server.db")
}

// LogFile returns the log file path.
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "logs", "kensho.log")
}

// HomeDir returns $KENSHO_HOME, or ~/.kensho.
func HomeDir() string {
	if dir := os.Getenv(EnvPrefix + "_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".kensho")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(HomeDir(), FileName)
}

func setDefaults(v *viper.Viper) {
	home := HomeDir()
	v.SetDefault("data_dir", home)
	v.SetDefault("device_id", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.user_id", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.db", "")
	v.SetDefault("server.replica_url", "")
	v.SetDefault("server.replica_token", "")
	v.SetDefault("server.sync_interval", time.Minute)
	v.SetDefault("daemon.debounce", 100*time.Millisecond)
	v.SetDefault("daemon.resync_interval", time.Duration(0))
}

// Load reads path (or the default location when empty). A missing file is
// not an error; defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later in obscure ways.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout cannot be negative")
	}
	if c.Remote.URL != "" && !strings.HasPrefix(c.Remote.URL, "http://") && !strings.HasPrefix(c.Remote.URL, "https://") {
		return fmt.Errorf("remote.url must start with http:// or https://")
	}
	for i, u := range c.Server.Users {
		if u.Token == "" || u.UserID == "" {
			return fmt.Errorf("server.users[%d] needs both a token and a user_id", i)
		}
	}
	return nil
}

// EnsureDeviceID assigns a random device id if none is set. It reports
// whether one was generated.
func (c *Config) EnsureDeviceID() bool {
	if c.DeviceID != "" {
		return false
	}
	c.DeviceID = uuid.NewString()
	return true
}

// Save writes c to path as TOML, creating the directory.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	enc.Indent = ""
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
