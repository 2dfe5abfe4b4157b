// Package config loads tsdemux settings from an optional YAML file overlaid
// by environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/basedemux/demux"
	"github.com/zsiec/basedemux/internal/source"
)

// Input kinds.
const (
	InputFile      = "file"
	InputStdin     = "stdin"
	InputSRTListen = "srt-listen"
	InputSRTDial   = "srt-dial"
	InputQUIC      = "quic"
)

// Config is the complete CLI configuration.
type Config struct {
	Input  InputConfig  `yaml:"input"`
	Output OutputConfig `yaml:"output"`
	Demux  DemuxConfig  `yaml:"demux"`
	Log    LogConfig    `yaml:"log"`
}

// InputConfig selects where the transport stream comes from.
type InputConfig struct {
	Kind string `yaml:"kind"`
	// Path is the file read by the file input.
	Path string `yaml:"path"`
	// Addr is the listen or dial address of network inputs.
	Addr string `yaml:"addr"`
	// StreamID is sent by the SRT caller.
	StreamID    string        `yaml:"stream_id"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// PushOnly hides pull access to file inputs.
	PushOnly bool `yaml:"push_only"`
	// CertValidity is the lifetime of the QUIC listener's certificate.
	CertValidity time.Duration `yaml:"cert_validity"`
}

// OutputConfig selects where framed output goes. "-" is stdout.
type OutputConfig struct {
	Path string `yaml:"path"`
}

// DemuxConfig tunes the demuxer.
type DemuxConfig struct {
	// Mode is "auto", "push" or "pull".
	Mode      string `yaml:"mode"`
	BlockSize int    `yaml:"block_size"`
	Captions  bool   `yaml:"captions"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			Kind:         InputStdin,
			DialTimeout:  10 * time.Second,
			CertValidity: 14 * 24 * time.Hour,
		},
		Output: OutputConfig{Path: "-"},
		Demux: DemuxConfig{
			Mode:      "auto",
			BlockSize: source.DefaultBlockSize,
			Captions:  true,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, if path is non-empty, then applies
// environment overrides from getenv and validates the result.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.overlay(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) overlay(getenv func(string) string) error {
	c.Input.Kind = envOr(getenv, "TSDEMUX_INPUT", c.Input.Kind)
	c.Input.Path = envOr(getenv, "TSDEMUX_PATH", c.Input.Path)
	c.Input.Addr = envOr(getenv, "TSDEMUX_ADDR", c.Input.Addr)
	c.Input.StreamID = envOr(getenv, "TSDEMUX_STREAM_ID", c.Input.StreamID)
	c.Output.Path = envOr(getenv, "TSDEMUX_OUTPUT", c.Output.Path)
	c.Demux.Mode = envOr(getenv, "TSDEMUX_MODE", c.Demux.Mode)
	c.Log.Level = envOr(getenv, "TSDEMUX_LOG_LEVEL", c.Log.Level)
	if getenv("DEBUG") != "" {
		c.Log.Level = "debug"
	}

	if v := getenv("TSDEMUX_BLOCK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TSDEMUX_BLOCK_SIZE: %w", err)
		}
		c.Demux.BlockSize = n
	}
	if v := getenv("TSDEMUX_CAPTIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TSDEMUX_CAPTIONS: %w", err)
		}
		c.Demux.Captions = b
	}
	return nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Input.Kind {
	case InputFile:
		if c.Input.Path == "" {
			return errors.New("file input requires a path")
		}
	case InputStdin:
	case InputSRTListen, InputSRTDial, InputQUIC:
		if c.Input.Addr == "" {
			return fmt.Errorf("%s input requires an address", c.Input.Kind)
		}
	default:
		return fmt.Errorf("unknown input kind %q", c.Input.Kind)
	}
	if c.Demux.BlockSize <= 0 {
		return fmt.Errorf("invalid block size %d", c.Demux.BlockSize)
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Mode returns the scheduling mode to force, ModeNone for "auto".
func (c *Config) Mode() (demux.Mode, error) {
	switch strings.ToLower(c.Demux.Mode) {
	case "", "auto":
		return demux.ModeNone, nil
	case "push":
		return demux.ModePush, nil
	case "pull":
		return demux.ModePull, nil
	}
	return demux.ModeNone, fmt.Errorf("unknown demux mode %q", c.Demux.Mode)
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return l, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}
