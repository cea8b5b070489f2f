package cmd

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/oneconcern/volsync/pkg/api"
	"github.com/oneconcern/volsync/pkg/dlogger"
	"github.com/oneconcern/volsync/pkg/identity"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config describes the server configuration.
type Config struct {
	DataRoot  string          `json:"dataRoot" yaml:"dataRoot" mapstructure:"dataRoot"`
	LogLevel  string          `json:"logLevel" yaml:"logLevel" mapstructure:"logLevel"`
	LogFile   string          `json:"logFile" yaml:"logFile" mapstructure:"logFile"`
	Compress  bool            `json:"compress" yaml:"compress" mapstructure:"compress"`
	API       APIConfig       `json:"api" yaml:"api" mapstructure:"api"`
	Provision ProvisionConfig `json:"provision" yaml:"provision" mapstructure:"provision"`
	Users     []identity.User `json:"users" yaml:"users" mapstructure:"users"`
}

// APIConfig configures the HTTP API
type APIConfig struct {
	MaxUploadSize string `json:"maxUploadSize" yaml:"maxUploadSize" mapstructure:"maxUploadSize"`
}

// ProvisionConfig configures the lifecycle of volumes
type ProvisionConfig struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	// InMemory keeps volumes in memory only, for tests and demos
	InMemory bool `json:"inMemory" yaml:"inMemory" mapstructure:"inMemory"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dataRoot", "/var/lib/volsync")
	v.SetDefault("logLevel", dlogger.LogLevelInfo)
	v.SetDefault("compress", true)
	v.SetDefault("api.maxUploadSize", api.DefaultMaxUploadSize)
	v.SetDefault("provision.timeout", 30*time.Second)
	v.SetDefault("provision.inMemory", false)
}

func newConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DataRoot == "" {
		return fmt.Errorf("dataRoot is required")
	}
	if _, err := units.RAMInBytes(c.API.MaxUploadSize); err != nil {
		return fmt.Errorf("invalid api.maxUploadSize %q: %w", c.API.MaxUploadSize, err)
	}
	if c.Provision.Timeout <= 0 {
		return fmt.Errorf("provision.timeout must be positive, got %v", c.Provision.Timeout)
	}
	return nil
}

func (c *Config) logger() (*zap.Logger, error) {
	var sink *dlogger.FileSink
	if c.LogFile != "" {
		sink = &dlogger.FileSink{
			Filename:   c.LogFile,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		}
	}
	return dlogger.GetLoggerWithSink(c.LogLevel, sink)
}
