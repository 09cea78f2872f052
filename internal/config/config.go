package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mte/internal/protocol"
)

// FileName is the config file looked up in the workspace root, without extension
const FileName = ".mte"

// EnvPrefix prefixes environment overrides, e.g. MTE_EXECUTION_PROCESSORS
const EnvPrefix = "MTE"

// Config holds all configuration for the application
type Config struct {
	ProjectPath string          `mapstructure:"project_path"`
	Mocha       MochaConfig     `mapstructure:"mocha"`
	Discovery   DiscoveryConfig `mapstructure:"discovery"`
	Execution   ExecutionConfig `mapstructure:"execution"`
	Timeouts    TimeoutsConfig  `mapstructure:"timeouts"`
	Output      OutputConfig    `mapstructure:"output"`
	Log         LogConfig       `mapstructure:"log"`
	Server      ServerConfig    `mapstructure:"server"`
	Watch       WatchConfig     `mapstructure:"watch"`
	GroupBy     string          `mapstructure:"group_by"`

	// Command flags
	Flags Flags `mapstructure:"-"`
}

type MochaConfig struct {
	Path    string   `mapstructure:"path"`
	Args    []string `mapstructure:"args"`
	EnvFile string   `mapstructure:"env_file"`
}

type DiscoveryConfig struct {
	Include  []string `mapstructure:"include"`
	Exclude  []string `mapstructure:"exclude"`
	SkipDirs []string `mapstructure:"skip_dirs"`
	Workers  int      `mapstructure:"workers"`
}

type ExecutionConfig struct {
	Processors int `mapstructure:"processors"`
}

type TimeoutsConfig struct {
	Initialize time.Duration `mapstructure:"initialize"`
}

type OutputConfig struct {
	Dir  string `mapstructure:"dir"`
	File string `mapstructure:"file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ServerConfig selects how the client reaches a server. Empty Connect spawns Command over stdio.
type ServerConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Connect string   `mapstructure:"connect"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Flags holds command-line flags
type Flags struct {
	Processors  int
	Filter      string
	GroupBy     string
	Debug       bool
	FailFast    bool
	Interactive bool
	Run         bool
	Listen      string
	Connect     string
}

// New creates a new Config with defaults
func New() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return cfg
}

// Load reads .mte.yaml from projectPath, then MTE_* environment variables, over the defaults
func Load(projectPath string) (*Config, error) {
	v := newViper()
	v.Set("project_path", projectPath)
	v.AddConfigPath(projectPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_path", DefaultProjectPath)

	v.SetDefault("mocha.path", DefaultMochaPath)
	v.SetDefault("mocha.args", []string{})
	v.SetDefault("mocha.env_file", DefaultEnvFile)

	v.SetDefault("discovery.include", DefaultInclude)
	v.SetDefault("discovery.exclude", []string{})
	v.SetDefault("discovery.skip_dirs", DefaultSkipDirs)
	v.SetDefault("discovery.workers", DefaultDiscoveryWorkers)

	v.SetDefault("execution.processors", DefaultProcessors)
	v.SetDefault("timeouts.initialize", DefaultInitializeTimeout)

	v.SetDefault("output.dir", DefaultOutputJSONDir)
	v.SetDefault("output.file", DefaultOutputJSONFile)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.file", "")

	v.SetDefault("server.command", "")
	v.SetDefault("server.args", []string{"serve"})
	v.SetDefault("server.connect", "")

	v.SetDefault("watch.debounce", DefaultWatchDebounce)
	v.SetDefault("group_by", DefaultGroupBy)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mocha.Path == "" {
		return errors.New("mocha.path is required")
	}
	if len(c.Discovery.Include) == 0 {
		return errors.New("discovery.include needs at least one glob")
	}
	if c.Execution.Processors < 1 {
		return errors.New("execution.processors must be at least 1")
	}
	if c.Discovery.Workers < 1 {
		return errors.New("discovery.workers must be at least 1")
	}
	if c.Timeouts.Initialize <= 0 {
		return errors.New("timeouts.initialize must be positive")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// ApplyFlags copies command-line overrides into the config
func (c *Config) ApplyFlags(flags Flags) {
	c.Flags = flags
	if flags.Processors > 0 {
		c.Execution.Processors = flags.Processors
	}
	if flags.GroupBy != "" {
		c.GroupBy = flags.GroupBy
	}
	if flags.Connect != "" {
		c.Server.Connect = flags.Connect
	}
}

// RootPath returns the absolute workspace root
func (c *Config) RootPath() string {
	if abs, err := filepath.Abs(c.ProjectPath); err == nil {
		return abs
	}
	return c.ProjectPath
}

// GetOutputPath returns the absolute path of the last-run results file, so every command
// reads and writes the same file regardless of cwd.
func (c *Config) GetOutputPath() string {
	p := c.Output.File
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.RootPath(), c.Output.Dir, c.Output.File)
	}
	return p
}

// Settings returns the server side of the configuration, sent with initialize
func (c *Config) Settings() protocol.Settings {
	return protocol.Settings{
		MochaPath:  c.Mocha.Path,
		MochaArgs:  c.Mocha.Args,
		EnvFile:    c.Mocha.EnvFile,
		Include:    c.Discovery.Include,
		Exclude:    c.Discovery.Exclude,
		SkipDirs:   c.Discovery.SkipDirs,
		Workers:    c.Discovery.Workers,
		Processors: c.Execution.Processors,
	}
}
