// Package config defines the viper-backed configuration surface of the
// gateway, mirroring cmd/gate's `viper.Unmarshal(&cfg)` / `config.Validate`
// sequence in the teacher's own Run() function.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration unmarshaled from file/env/flags by
// viper.
type Config struct {
	Debug bool `mapstructure:"debug"`

	Listener ListenerConfig `mapstructure:"listener"`
	Boundary BoundaryConfig `mapstructure:"boundary"`
	Limits   LimitsConfig   `mapstructure:"rateLimit"`

	DecisionTimeout time.Duration `mapstructure:"decisionTimeout"`
	CacheSweepEvery time.Duration `mapstructure:"cacheSweepEvery"`
	FaviconMaxBytes int           `mapstructure:"faviconMaxBytes"`
}

// ListenerConfig is the gateway's own default listener, started
// automatically at boot; additional listeners can still be opened later
// through the policy boundary's start-listener operation.
type ListenerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ProxyProtocolIn string `mapstructure:"proxyProtocolIn"`
}

// BoundaryConfig configures the JSON policy boundary server of pkg/httpapi.
type BoundaryConfig struct {
	Bind string `mapstructure:"bind"`
}

// LimitsConfig is the optional global default rate limit (spec.md §4.4);
// all-zero means unlimited.
type LimitsConfig struct {
	SendAvg   int `mapstructure:"sendAvg"`
	SendBurst int `mapstructure:"sendBurst"`
	RecvAvg   int `mapstructure:"recvAvg"`
	RecvBurst int `mapstructure:"recvBurst"`
}

// SetDefaults installs the default values this config resolves to when
// unset, called before viper.Unmarshal so flags/env/file overrides still win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("listener.host", "0.0.0.0")
	v.SetDefault("listener.port", 25565)
	v.SetDefault("listener.proxyProtocolIn", "none")
	v.SetDefault("boundary.bind", "127.0.0.1:8443")
	v.SetDefault("decisionTimeout", 30*time.Second)
	v.SetDefault("cacheSweepEvery", time.Minute)
	v.SetDefault("faviconMaxBytes", 256*1024)
}

// Validate rejects configurations the engine cannot start with.
func Validate(c *Config) error {
	if c.Listener.Port < 0 || c.Listener.Port > 65535 {
		return fmt.Errorf("config: listener.port %d out of range", c.Listener.Port)
	}
	switch c.Listener.ProxyProtocolIn {
	case "none", "optional", "strict":
	default:
		return fmt.Errorf("config: listener.proxyProtocolIn %q must be one of none|optional|strict", c.Listener.ProxyProtocolIn)
	}
	if c.Boundary.Bind == "" {
		return fmt.Errorf("config: boundary.bind must not be empty")
	}
	if c.DecisionTimeout <= 0 {
		return fmt.Errorf("config: decisionTimeout must be positive")
	}
	return nil
}
