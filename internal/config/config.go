// Package config loads settings for the duel client and the relay server.
//
// Sources, lowest precedence first: built-in defaults, a .env file, the process
// environment, an optional YAML file (-config or DUEL_CONFIG), command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	TransportMemory = "memory"
	TransportRelay  = "relay"
	TransportNATS   = "nats"
)

var ErrInvalid = errors.New("invalid configuration")

// Duel configures cmd/duel.
type Duel struct {
	ConfigFile string `env:"DUEL_CONFIG" yaml:"-"`

	Name          string `env:"DUEL_NAME" yaml:"name"`
	Transport     string `env:"DUEL_TRANSPORT" envDefault:"relay" yaml:"transport"`
	RelayURL      string `env:"DUEL_RELAY_URL" envDefault:"ws://localhost:8080" yaml:"relay_url"`
	NATSURL       string `env:"DUEL_NATS_URL" envDefault:"nats://127.0.0.1:4222" yaml:"nats_url"`
	AddressPrefix string `env:"DUEL_ADDRESS_PREFIX" envDefault:"math-duel-v1" yaml:"address_prefix"`

	LogLevel string `env:"DUEL_LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	LogFile  string `env:"DUEL_LOG_FILE" envDefault:"math-duel.log" yaml:"log_file"`

	HelloRetry       time.Duration `env:"DUEL_HELLO_RETRY" envDefault:"1s" yaml:"hello_retry"`
	SoftTimeout      time.Duration `env:"DUEL_SOFT_TIMEOUT" envDefault:"12s" yaml:"soft_timeout"`
	LocalRoundDelay  time.Duration `env:"DUEL_LOCAL_ROUND_DELAY" envDefault:"1500ms" yaml:"local_round_delay"`
	RemoteRoundDelay time.Duration `env:"DUEL_REMOTE_ROUND_DELAY" envDefault:"2s" yaml:"remote_round_delay"`
	WrongFlash       time.Duration `env:"DUEL_WRONG_FLASH" envDefault:"500ms" yaml:"wrong_flash"`
	TraceSize        int           `env:"DUEL_TRACE_SIZE" envDefault:"5" yaml:"trace_size"`
}

// Relay configures cmd/relay.
type Relay struct {
	ConfigFile string `env:"RELAY_CONFIG" yaml:"-"`

	Addr           string   `env:"RELAY_ADDR" envDefault:":8080" yaml:"addr"`
	AllowedOrigins []string `env:"RELAY_ALLOWED_ORIGINS" envSeparator:"," yaml:"allowed_origins"`
	LogLevel       string   `env:"RELAY_LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	LogDev         bool     `env:"RELAY_LOG_DEV" yaml:"log_dev"`
}

// ParseDuel parses environment and flags into a Duel config.
func ParseDuel(fs *flag.FlagSet, args []string) (Duel, error) {
	var cfg Duel
	if err := parseEnv(&cfg); err != nil {
		return Duel{}, err
	}

	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Display name")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport: memory, relay or nats")
	fs.StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "Relay server URL")
	fs.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL")
	fs.StringVar(&cfg.AddressPrefix, "prefix", cfg.AddressPrefix, "Address namespace prefix")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file path")
	fs.DurationVar(&cfg.HelloRetry, "hello-retry", cfg.HelloRetry, "HELLO resend interval")
	fs.DurationVar(&cfg.SoftTimeout, "soft-timeout", cfg.SoftTimeout, "Handshake stall warning delay")
	fs.DurationVar(&cfg.LocalRoundDelay, "local-delay", cfg.LocalRoundDelay, "Local mode win to next round delay")
	fs.DurationVar(&cfg.RemoteRoundDelay, "remote-delay", cfg.RemoteRoundDelay, "Remote mode win to next round delay")
	fs.DurationVar(&cfg.WrongFlash, "wrong-flash", cfg.WrongFlash, "Wrong answer indicator duration")
	fs.IntVar(&cfg.TraceSize, "trace", cfg.TraceSize, "Diagnostic trace entries kept")

	if err := parseWithFile(fs, args, &cfg.ConfigFile, &cfg); err != nil {
		return Duel{}, err
	}
	return cfg, cfg.Validate()
}

func (c Duel) Validate() error {
	switch c.Transport {
	case TransportMemory, TransportRelay, TransportNATS:
	default:
		return fmt.Errorf("%w: transport %q", ErrInvalid, c.Transport)
	}
	if c.AddressPrefix == "" {
		return fmt.Errorf("%w: empty address prefix", ErrInvalid)
	}
	for name, d := range map[string]time.Duration{
		"hello retry":        c.HelloRetry,
		"soft timeout":       c.SoftTimeout,
		"local round delay":  c.LocalRoundDelay,
		"remote round delay": c.RemoteRoundDelay,
		"wrong flash":        c.WrongFlash,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, name, d)
		}
	}
	if c.TraceSize <= 0 {
		return fmt.Errorf("%w: trace size must be positive", ErrInvalid)
	}
	return nil
}

// ParseRelay parses environment and flags into a Relay config.
func ParseRelay(fs *flag.FlagSet, args []string) (Relay, error) {
	var cfg Relay
	if err := parseEnv(&cfg); err != nil {
		return Relay{}, err
	}

	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.BoolVar(&cfg.LogDev, "log-dev", cfg.LogDev, "Human readable development logs")

	if err := parseWithFile(fs, args, &cfg.ConfigFile, &cfg); err != nil {
		return Relay{}, err
	}
	if cfg.Addr == "" {
		return Relay{}, fmt.Errorf("%w: empty listen address", ErrInvalid)
	}
	return cfg, nil
}

func parseEnv(target any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// parseWithFile parses args, layers the YAML file named by *file on top, then parses
// args again so flags keep the last word.
func parseWithFile(fs *flag.FlagSet, args []string, file *string, target any) error {
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return nil
	}
	if err := loadYAML(*file, target); err != nil {
		return err
	}
	return fs.Parse(args)
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}
