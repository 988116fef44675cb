// Package config loads and validates the server's configuration
// document (§3.1, §4.13): a JSON file layered with environment-variable
// and CLI-flag overrides through github.com/spf13/viper, validated with
// github.com/go-playground/validator/v10 struct tags. Precedence is
// flag > env > file > default, matching viper's own layering.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ListenEntry describes one listening socket (§3.1 "Listen[]").
type ListenEntry struct {
	Addr    string `mapstructure:"addr" validate:"required"`
	Backlog int    `mapstructure:"backlog"`
	Secure  bool   `mapstructure:"secure"`
	Net     string `mapstructure:"net"` // "tcp", "tcp4", "tcp6"

	CertFile string `mapstructure:"cert_file" validate:"required_if=Secure true"`
	KeyFile  string `mapstructure:"key_file" validate:"required_if=Secure true"`
	DHFile   string `mapstructure:"dh_file"`
	Priority string `mapstructure:"priority"`
}

// RouteEntry describes one routed prefix (§3.1 "Routes[]").
type RouteEntry struct {
	Prefix  string   `mapstructure:"prefix" validate:"required"`
	VHost   string   `mapstructure:"vhost"`
	Handler string   `mapstructure:"handler" validate:"required"`
	Filters []string `mapstructure:"filters"`
	Backend string   `mapstructure:"backend"`
	Dir     string   `mapstructure:"dir"`
	Index   string   `mapstructure:"index"`
}

// DropPrivileges names the user/group to switch to after binding
// privileged listen sockets.
type DropPrivileges struct {
	User  string `mapstructure:"user"`
	Group string `mapstructure:"group"`
}

// CacheConfig configures the file-cache filter's root and default TTL.
type CacheConfig struct {
	Root   string        `mapstructure:"root" validate:"required"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

// WorkersConfig configures the worker pool (§4.11).
type WorkersConfig struct {
	SoftCap  int `mapstructure:"soft_cap"`
	QueueCap int `mapstructure:"queue_cap"`
}

// Config is the full validated configuration document (§3.1 "Config
// document").
type Config struct {
	Listen          []ListenEntry          `mapstructure:"listen" validate:"required,dive"`
	LogLevel        string                 `mapstructure:"log_level"`
	AccessLog       string                 `mapstructure:"access_log"`
	DropPrivileges  DropPrivileges          `mapstructure:"drop_privileges"`
	Backends        map[string]string      `mapstructure:"backends"`
	Modules         map[string]any         `mapstructure:"modules"`
	Routes          []RouteEntry           `mapstructure:"routes" validate:"dive"`
	Cache           CacheConfig            `mapstructure:"cache"`
	Workers         WorkersConfig          `mapstructure:"workers"`
}

var validate = validator.New()

// FlagSet returns the persistent flags cmd/nxserve binds into viper,
// overriding the matching file-config keys (§6 "Command-line flags
// override listen addresses, privilege drop, log levels, and access-log
// path").
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("nxserve", pflag.ContinueOnError)
	fs.String("listen-addr", "", "override the first configured listen address")
	fs.String("drop-user", "", "override drop_privileges.user")
	fs.String("drop-group", "", "override drop_privileges.group")
	fs.String("log-level", "", "override log_level")
	fs.String("access-log", "", "override access_log path")
	return fs
}

// Load reads path as JSON, layers NXSERVE_-prefixed environment
// variables and any flags already parsed into fs, then validates the
// result (§4.13). A validation failure is returned as a non-nil error,
// which callers treat as fatal at startup (§7 "configuration ... errors
// are fatal at startup").
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("NXSERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyFlagOverrides(&cfg, v)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func applyFlagOverrides(cfg *Config, v interface {
	GetString(string) string
}) {
	if l := v.GetString("listen-addr"); l != "" && len(cfg.Listen) > 0 {
		cfg.Listen[0].Addr = l
	}
	if u := v.GetString("drop-user"); u != "" {
		cfg.DropPrivileges.User = u
	}
	if g := v.GetString("drop-group"); g != "" {
		cfg.DropPrivileges.Group = g
	}
	if lv := v.GetString("log-level"); lv != "" {
		cfg.LogLevel = lv
	}
	if al := v.GetString("access-log"); al != "" {
		cfg.AccessLog = al
	}
}
