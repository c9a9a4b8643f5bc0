// Package config loads mlldx settings from TOML or YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	process "github.com/mlld-lang/mlld-sub001/internal/process"
	security "github.com/mlld-lang/mlld-sub001/internal/security"
)

// EnvVar names the environment variable holding the config path.
const EnvVar = "MLLDX_CONFIG"

// Config holds the complete application configuration
type Config struct {
	Log       LogConfig       `toml:"log" yaml:"log"`
	Policy    PolicyConfig    `toml:"policy" yaml:"policy"`
	Shell     ShellConfig     `toml:"shell" yaml:"shell"`
	Remote    RemoteConfig    `toml:"remote" yaml:"remote"`
	OTel      OTelConfig      `toml:"otel" yaml:"otel"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	EffectLog EffectLogConfig `toml:"effect_log" yaml:"effect_log"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
	File  string `toml:"file" yaml:"file"`
}

// PolicyConfig controls the command security gate. Rules are added after
// the built-in ones unless ReplaceDefaults is set.
type PolicyConfig struct {
	Enabled         bool            `toml:"enabled" yaml:"enabled"`
	ReplaceDefaults bool            `toml:"replace_defaults" yaml:"replace_defaults"`
	Rules           []security.Rule `toml:"rules" yaml:"rules"`
}

type ShellConfig struct {
	Path    string   `toml:"path" yaml:"path"`
	Dir     string   `toml:"dir" yaml:"dir"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// RemoteConfig maps a code language tag (or "prompt") to the endpoints of
// workers serving it.
type RemoteConfig struct {
	Endpoints           map[string][]string `toml:"endpoints" yaml:"endpoints"`
	RPCTimeout          Duration            `toml:"rpc_timeout" yaml:"rpc_timeout"`
	MaxConnsPerEndpoint int                 `toml:"max_conns_per_endpoint" yaml:"max_conns_per_endpoint"`
}

type OTelConfig struct {
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
	Service  string `toml:"service" yaml:"service"`
}

type ServerConfig struct {
	Addr    string   `toml:"addr" yaml:"addr"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
	Pretty  bool     `toml:"pretty" yaml:"pretty"`
}

type EffectLogConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// Duration wraps time.Duration for TOML and YAML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Policy: PolicyConfig{Enabled: true}}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a .toml, .yaml or .yml file.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if err != nil {
		return nil, err
	}

	cfg := &Config{Policy: PolicyConfig{Enabled: true}}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.expandEnvVars()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by MLLDX_CONFIG or the first default
// location that exists. With no file at all it returns Default().
func LoadFromEnv() (*Config, error) {
	if path := os.Getenv(EnvVar); path != "" {
		return Load(path)
	}
	for _, p := range []string{
		"./mlldx.toml",
		"./mlldx.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/mlldx/config.toml"),
	} {
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return Default(), nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Shell.Path == "" {
		c.Shell.Path = "/bin/sh"
	}
	if c.Remote.RPCTimeout.Duration == 0 {
		c.Remote.RPCTimeout.Duration = 30 * time.Second
	}
	if c.Remote.MaxConnsPerEndpoint == 0 {
		c.Remote.MaxConnsPerEndpoint = 2
	}
	if c.OTel.Service == "" {
		c.OTel.Service = "mlldx"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Timeout.Duration == 0 {
		c.Server.Timeout.Duration = 60 * time.Second
	}
}

func (c *Config) expandEnvVars() {
	c.Log.File = os.ExpandEnv(c.Log.File)
	c.Shell.Dir = os.ExpandEnv(c.Shell.Dir)
	c.OTel.Endpoint = os.ExpandEnv(c.OTel.Endpoint)
	c.EffectLog.Path = os.ExpandEnv(c.EffectLog.Path)
}

// Validate checks values the loaders cannot.
func (c *Config) Validate() error {
	for i, r := range c.Policy.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("policy rule %d (%s): pattern is required", i, r.ID)
		}
		switch r.Action {
		case "", security.ActionBlock, security.ActionApprove, security.ActionWarn:
		default:
			return fmt.Errorf("policy rule %d (%s): unknown action %q", i, r.ID, r.Action)
		}
	}
	for target, eps := range c.Remote.Endpoints {
		if len(eps) == 0 {
			return fmt.Errorf("remote endpoint %q has no addresses", target)
		}
	}
	return nil
}

// Analyzer builds the security analyzer. It returns nil when the policy is
// disabled.
func (c *Config) Analyzer() (*security.RuleAnalyzer, error) {
	if !c.Policy.Enabled {
		return nil, nil
	}
	var rules []security.Rule
	if !c.Policy.ReplaceDefaults {
		rules = append(rules, security.DefaultRules()...)
	}
	rules = append(rules, c.Policy.Rules...)
	return security.NewRuleAnalyzer(rules...)
}

// NewShell builds the process executor described by the shell section.
func (c *Config) NewShell() *process.Shell {
	return &process.Shell{Path: c.Shell.Path, Dir: c.Shell.Dir, Timeout: c.Shell.Timeout.Duration}
}
