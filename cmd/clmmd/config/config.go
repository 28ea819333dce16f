package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. CLMMD_RPC_ADDR.
const EnvPrefix = "CLMMD"

// Config holds the daemon configuration loaded from flags, env, or config file.
type Config struct {
	RPCAddr        string
	AllowedOrigins []string
	MetricsAddr    string
	LogLevel       slog.Level

	DiffInterval time.Duration
	StreamBuffer int

	AdminEnabled bool
	Treasury     common.Address

	EventsFile  string
	PostgresDSN string
	Recorder    RecorderConfig
}

type RecorderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	Buffer        int
}

// RegisterFlags declares every setting on fs so that Load can bind them.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("rpc-addr", "127.0.0.1:8545", "json-rpc listen address (http and websocket)")
	fs.StringSlice("allowed-origins", []string{"*"}, "websocket origins accepted by the rpc server")
	fs.String("metrics-addr", "127.0.0.1:9100", "prometheus listen address, empty disables")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Duration("diff-interval", 250*time.Millisecond, "interval between state diffs on the stream")
	fs.Int("stream-buffer", 256, "per-subscriber message buffer")
	fs.Bool("admin-enabled", false, "serve the admin namespace")
	fs.String("treasury", "", "address credited with swept platform fees")
	fs.String("events-file", "", "JSONL file events are appended to, empty disables")
	fs.String("pg-dsn", "", "Postgres DSN events are written to, empty disables")
	fs.Int("recorder-batch-size", 100, "events per sink write")
	fs.Duration("recorder-flush-interval", time.Second, "maximum time an event waits in the recorder")
	fs.Int("recorder-max-retries", 5, "retries per failed sink write")
	fs.Duration("recorder-retry-delay", 100*time.Millisecond, "initial retry backoff")
	fs.Int("recorder-buffer", 1024, "recorder subscription buffer")
}

// Load merges config file, environment variables, and flags into Config.
// An empty cfgFile falls back to an optional config.yaml in the working directory.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return Config{}, fmt.Errorf("log-level: %w", err)
	}

	cfg := Config{
		RPCAddr:        v.GetString("rpc-addr"),
		AllowedOrigins: v.GetStringSlice("allowed-origins"),
		MetricsAddr:    v.GetString("metrics-addr"),
		LogLevel:       level,
		DiffInterval:   v.GetDuration("diff-interval"),
		StreamBuffer:   v.GetInt("stream-buffer"),
		AdminEnabled:   v.GetBool("admin-enabled"),
		EventsFile:     v.GetString("events-file"),
		PostgresDSN:    v.GetString("pg-dsn"),
		Recorder: RecorderConfig{
			BatchSize:     v.GetInt("recorder-batch-size"),
			FlushInterval: v.GetDuration("recorder-flush-interval"),
			MaxRetries:    v.GetInt("recorder-max-retries"),
			RetryDelay:    v.GetDuration("recorder-retry-delay"),
			Buffer:        v.GetInt("recorder-buffer"),
		},
	}

	treasury := v.GetString("treasury")
	if treasury != "" {
		if !common.IsHexAddress(treasury) {
			return Config{}, fmt.Errorf("treasury: invalid address %q", treasury)
		}
		cfg.Treasury = common.HexToAddress(treasury)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RPCAddr == "" {
		return errors.New("config: rpc-addr is required")
	}
	if c.DiffInterval <= 0 {
		return errors.New("config: diff-interval must be positive")
	}
	if c.StreamBuffer < 1 {
		return errors.New("config: stream-buffer must be greater than 0")
	}
	if c.AdminEnabled && c.Treasury == (common.Address{}) {
		return errors.New("config: treasury is required when the admin namespace is enabled")
	}
	if c.Recorder.MaxRetries < 0 {
		return errors.New("config: recorder-max-retries must not be negative")
	}
	return nil
}

// Recording reports whether any event sink is configured.
func (c *Config) Recording() bool {
	return c.EventsFile != "" || c.PostgresDSN != ""
}
