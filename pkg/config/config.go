// Copyright © 2018 One Concern

// Package config loads the process configuration: which transport reaches the managed host,
// with which parameters, and where local backups are kept.
//
// Configuration is read once, from a file (yaml, properties, toml...) and environment variables
// prefixed with REMOTECONF_. Keys from the legacy lens properties files are still honored.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/oneconcern/remoteconf/internal/sshconn"
	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment variables, e.g. REMOTECONF_REMOTE_HOST
	EnvPrefix = "REMOTECONF"

	// EnvConfigFile names a config file, bypassing the search path
	EnvConfigFile = "REMOTECONF_CONFIG"

	// ConfigName is the base name searched for in the config paths
	ConfigName = "remoteconf"

	// TransportSFTP selects the direct backend
	TransportSFTP = "sftp"
	// TransportService selects the service-mediated backend
	TransportService = "service"
	// TransportLocal selects a local directory standing in for the remote host
	TransportLocal = "local"

	defaultMaxSize    = "64MiB"
	defaultScratchDir = "target"
	defaultLogLevel   = "info"
)

// ErrInvalidConfig is returned when the configuration is incomplete or inconsistent
var ErrInvalidConfig = errors.New("invalid configuration")

// legacyKeys maps keys of the original properties files to their current name
var legacyKeys = map[string]string{
	"lens.remote.host":       "remote.host",
	"lens.remote.username":   "remote.username",
	"lens.remote.password":   "remote.password",
	"remote.ssh-service.url": "service.url",
}

// legacyServiceSwitch selects the service backend when present
const legacyServiceSwitch = "remote.ssh.implementation"

var knownKeys = []string{
	"transport",
	"remote.host", "remote.port", "remote.username", "remote.password", "remote.keyfile", "remote.passphrase",
	"remote.timeout",
	"service.url", "service.max_size", "service.timeout",
	"local.root",
	"scratch.dir",
	"restore.strict",
	"log.level",
}

// Config is the process configuration
type Config struct {
	Transport string        `json:"transport" yaml:"transport" mapstructure:"transport"`
	Remote    RemoteConfig  `json:"remote" yaml:"remote" mapstructure:"remote"`
	Service   ServiceConfig `json:"service" yaml:"service" mapstructure:"service"`
	Local     LocalConfig   `json:"local" yaml:"local" mapstructure:"local"`
	Scratch   ScratchConfig `json:"scratch" yaml:"scratch" mapstructure:"scratch"`
	Restore   RestoreConfig `json:"restore" yaml:"restore" mapstructure:"restore"`
	Log       LogConfig     `json:"log" yaml:"log" mapstructure:"log"`
}

// RemoteConfig describes the managed host, for the direct backend
type RemoteConfig struct {
	Host       string        `json:"host" yaml:"host" mapstructure:"host"`
	Port       int           `json:"port" yaml:"port" mapstructure:"port"`
	Username   string        `json:"username" yaml:"username" mapstructure:"username"`
	Password   string        `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	KeyFile    string        `json:"keyfile,omitempty" yaml:"keyfile,omitempty" mapstructure:"keyfile"`
	Passphrase string        `json:"passphrase,omitempty" yaml:"passphrase,omitempty" mapstructure:"passphrase"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// ServiceConfig describes the helper service, for the service-mediated backend
type ServiceConfig struct {
	URL     string `json:"url" yaml:"url" mapstructure:"url"`
	MaxSize string `json:"max_size" yaml:"max_size" mapstructure:"max_size"`

	// Timeout bounds each HTTP exchange. Zero means no limit.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// LocalConfig describes the directory standing in for the remote host
type LocalConfig struct {
	Root string `json:"root" yaml:"root" mapstructure:"root"`
}

// ScratchConfig locates the local staging area
type ScratchConfig struct {
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`
}

// RestoreConfig tunes restore
type RestoreConfig struct {
	Strict bool `json:"strict" yaml:"strict" mapstructure:"strict"`
}

// LogConfig tunes logging
type LogConfig struct {
	Level string `json:"level" yaml:"level" mapstructure:"level"`
}

// New prepares a viper instance with defaults, search paths and environment bindings.
//
// An empty file means: the file named by REMOTECONF_CONFIG, or remoteconf.* in the search paths.
func New(file string) *viper.Viper {
	v := viper.New()
	v.SetDefault("remote.port", sshconn.DefaultPort)
	v.SetDefault("remote.timeout", sshconn.DefaultTimeout)
	v.SetDefault("service.max_size", defaultMaxSize)
	v.SetDefault("scratch.dir", defaultScratchDir)
	v.SetDefault("restore.strict", false)
	v.SetDefault("log.level", defaultLogLevel)

	if file == "" {
		file = os.Getenv(EnvConfigFile)
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.remoteconf")
		v.AddConfigPath("/etc/remoteconf")
		v.SetConfigName(ConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range knownKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads the configuration file, if any, and decodes the configuration.
//
// A missing file in the search paths is not an error. An explicitly named file must exist.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, ErrInvalidConfig.Wrapf("reading config file: %v", err)
		}
	}
	return Decode(v)
}

// Decode builds the configuration from values already known to v
func Decode(v *viper.Viper) (*Config, error) {
	for legacy, key := range legacyKeys {
		if v.IsSet(legacy) && !v.IsSet(key) {
			v.Set(key, v.Get(legacy))
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, ErrInvalidConfig.Wrap(err)
	}

	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = TransportSFTP
		if v.IsSet(legacyServiceSwitch) {
			c.Transport = TransportService
		}
	}
	return &c, nil
}

// Validate reports missing parameters for the selected backend
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSFTP:
		if c.Remote.Host == "" {
			return ErrInvalidConfig.Wrapf("remote.host is required by the %s transport", c.Transport)
		}
		if c.Remote.Username == "" {
			return ErrInvalidConfig.Wrapf("remote.username is required by the %s transport", c.Transport)
		}
		if c.Remote.Password == "" && c.Remote.KeyFile == "" {
			return ErrInvalidConfig.Wrapf("remote.password or remote.keyfile is required by the %s transport", c.Transport)
		}
		if c.Remote.Port < 0 || c.Remote.Port > 65535 {
			return ErrInvalidConfig.Wrapf("invalid remote.port %d", c.Remote.Port)
		}
	case TransportService:
		if c.Service.URL == "" {
			return ErrInvalidConfig.Wrapf("service.url is required by the %s transport", c.Transport)
		}
		u, err := url.Parse(c.Service.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidConfig.Wrapf("invalid service.url %q", c.Service.URL)
		}
	case TransportLocal:
		if c.Local.Root == "" {
			return ErrInvalidConfig.Wrapf("local.root is required by the %s transport", c.Transport)
		}
	default:
		return ErrInvalidConfig.Wrapf("unknown transport %q, expected one of %s, %s or %s",
			c.Transport, TransportSFTP, TransportService, TransportLocal)
	}

	if _, err := c.MaxSize(); err != nil {
		return err
	}
	if c.Scratch.Dir == "" {
		return ErrInvalidConfig.Wrapf("scratch.dir must not be empty")
	}
	return nil
}

// MaxSize parses service.max_size, e.g. "64MiB" or "512k"
func (c *Config) MaxSize() (int64, error) {
	if c.Service.MaxSize == "" {
		return 0, nil
	}
	size, err := units.RAMInBytes(c.Service.MaxSize)
	if err != nil {
		return 0, ErrInvalidConfig.Wrapf("invalid service.max_size: %v", err)
	}
	if size <= 0 {
		return 0, ErrInvalidConfig.Wrapf("invalid service.max_size %q", c.Service.MaxSize)
	}
	return size, nil
}

// SSH yields the connection parameters of the direct backend and the ssh runner
func (c *Config) SSH() sshconn.Config {
	return sshconn.Config{
		Host:       c.Remote.Host,
		Port:       c.Remote.Port,
		User:       c.Remote.Username,
		Password:   c.Remote.Password,
		KeyFile:    c.Remote.KeyFile,
		Passphrase: c.Remote.Passphrase,
		Timeout:    c.Remote.Timeout,
	}
}

func (c *Config) String() string {
	switch c.Transport {
	case TransportSFTP:
		return fmt.Sprintf("%s://%s@%s", c.Transport, c.Remote.Username, c.SSH().Addr())
	case TransportService:
		return c.Transport + "@" + c.Service.URL
	default:
		return c.Transport + "@" + c.Local.Root
	}
}
