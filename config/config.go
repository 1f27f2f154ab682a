// Package config loads sqnodes settings from defaults, an optional YAML file
// and SQNODES_ environment variables.
package config

import (
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/richinsley/sqnodes/artifacts"
	"github.com/richinsley/sqnodes/client"
)

// Config is the full set of settings.
type Config struct {
	OutputDirectory string `mapstructure:"output_directory" yaml:"output_directory"`
	Models          Models `mapstructure:"models" yaml:"models"`
	// DisableMetadata keeps the host workflow snapshot out of every image.
	DisableMetadata bool   `mapstructure:"disable_metadata" yaml:"disable_metadata"`
	TimestampFormat string `mapstructure:"timestamp_format" yaml:"timestamp_format"`
	PNGCompression  string `mapstructure:"png_compression" yaml:"png_compression"`
	HashWorkers     int    `mapstructure:"hash_workers" yaml:"hash_workers"`
	Server          Server `mapstructure:"server" yaml:"server"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
}

// Models lists the directories searched for each artifact kind.
type Models struct {
	Checkpoints []string `mapstructure:"checkpoints" yaml:"checkpoints"`
	VAE         []string `mapstructure:"vae" yaml:"vae"`
	VAEApprox   []string `mapstructure:"vae_approx" yaml:"vae_approx"`
	Loras       []string `mapstructure:"loras" yaml:"loras"`
}

// Server is the ComfyUI instance used for replays.
type Server struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Protocol string `mapstructure:"protocol" yaml:"protocol"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		OutputDirectory: "output",
		Models: Models{
			Checkpoints: []string{"models/checkpoints"},
			VAE:         []string{"models/vae"},
			VAEApprox:   []string{"models/vae_approx"},
			Loras:       []string{"models/loras"},
		},
		TimestampFormat: "%Y%m%d-%H%M%S",
		PNGCompression:  "default",
		HashWorkers:     4,
		Server: Server{
			Address:  "127.0.0.1",
			Port:     8188,
			Protocol: "http",
		},
		LogLevel: "info",
	}
}

// Manager owns the viper instance and the decoded config.
type Manager struct {
	mu     sync.RWMutex
	v      *viper.Viper
	config *Config
}

// NewManager loads defaults, then cfgFile (or sqnodes.yaml from the working
// directory or ~/.sqnodes when cfgFile is empty), then the environment.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{v: viper.New()}
	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}
	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg
	return cm, nil
}

func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	d := DefaultConfig()
	v.SetDefault("output_directory", d.OutputDirectory)
	v.SetDefault("models.checkpoints", d.Models.Checkpoints)
	v.SetDefault("models.vae", d.Models.VAE)
	v.SetDefault("models.vae_approx", d.Models.VAEApprox)
	v.SetDefault("models.loras", d.Models.Loras)
	v.SetDefault("disable_metadata", d.DisableMetadata)
	v.SetDefault("timestamp_format", d.TimestampFormat)
	v.SetDefault("png_compression", d.PNGCompression)
	v.SetDefault("hash_workers", d.HashWorkers)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.protocol", d.Server.Protocol)
	v.SetDefault("log_level", d.LogLevel)

	// Environment variables with SQNODES_ prefix, e.g. SQNODES_SERVER_PORT
	v.SetEnvPrefix("SQNODES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("sqnodes")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sqnodes")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if _, err := cfg.Compression(); err != nil {
		return nil, err
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// Set overrides a single key, as done for command line flags, and reloads.
func (cm *Manager) Set(key string, value any) error {
	cm.v.Set(key, value)
	cfg, err := cm.load()
	if err != nil {
		return err
	}
	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()
	return nil
}

// ConfigFileUsed returns the path of the file that was read, if any.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// Compression maps png_compression to a PNG encoder level.
func (c *Config) Compression() (png.CompressionLevel, error) {
	switch strings.ToLower(c.PNGCompression) {
	case "", "default":
		return png.DefaultCompression, nil
	case "none":
		return png.NoCompression, nil
	case "speed":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	}
	return 0, fmt.Errorf("invalid png_compression %q: want default, none, speed or best", c.PNGCompression)
}

// Level parses log_level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Store builds the artifact resolver from the model directories.
func (c *Config) Store() *artifacts.FolderStore {
	s := artifacts.NewFolderStore()
	for _, d := range c.Models.Checkpoints {
		s.AddDir(artifacts.KindModel, d)
	}
	for _, d := range c.Models.VAE {
		s.AddDir(artifacts.KindVAE, d)
	}
	for _, d := range c.Models.VAEApprox {
		s.AddDir(artifacts.KindVAEApprox, d)
	}
	for _, d := range c.Models.Loras {
		s.AddDir(artifacts.KindLora, d)
	}
	return s
}

// ServerURL is the base URL of the configured ComfyUI server.
func (c *Config) ServerURL() string {
	return client.ServerURL(c.Server.Protocol, c.Server.Address, c.Server.Port)
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte("# sqnodes configuration\n# Every key can be overridden with SQNODES_<KEY>, nested keys joined by _\n\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}
