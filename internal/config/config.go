package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const appName = "otwatch"

type Config struct {
	Feed    FeedConfig
	Agent   AgentConfig
	Oracle  OracleConfig
	Storage StorageConfig
	Server  ServerConfig
	Log     LogConfig
}

type FeedConfig struct {
	BaseURL      string
	APIKey       string
	PageSize     int
	RequestDelay time.Duration
	Timeout      time.Duration
	SeenCapacity int
}

type AgentConfig struct {
	Interval time.Duration
	Lookback time.Duration
}

type OracleConfig struct {
	Provider    string
	BaseURL     string
	OllamaURL   string
	Model       string
	Temperature float64
	Timeout     time.Duration
	APIKey      string
}

type StorageConfig struct {
	OutputFile string
	DataDir    string
}

type ServerConfig struct {
	Addr string
}

type LogConfig struct {
	Level string
	File  string
}

func defaults() Config {
	return Config{
		Feed: FeedConfig{
			BaseURL:      "https://services.nvd.nist.gov/rest/json/cves/2.0",
			PageSize:     100,
			RequestDelay: 600 * time.Millisecond,
			Timeout:      30 * time.Second,
			SeenCapacity: 50000,
		},
		Agent: AgentConfig{
			Interval: 10 * time.Minute,
			Lookback: 10 * time.Minute,
		},
		Oracle: OracleConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			OllamaURL:   "http://localhost:11434",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			Timeout:     60 * time.Second,
		},
		Storage: StorageConfig{
			OutputFile: "ot_threats.json",
			DataDir:    defaultDataDir(),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8501",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in layers: built-in defaults, the JSON file at
// $XDG_CONFIG_HOME/otwatch/config.json, OTWATCH_* environment variables and
// finally the secrets file for secrets that are still empty. A .env file in
// the working directory is loaded into the environment first.
//
// Load does not require the oracle API key; commands that classify call
// Validate.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()})
}

// secretReader abstracts the secrets file for testing.
type secretReader interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, sr secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if s.fallbackEnv != "" {
			if v := os.Getenv(s.fallbackEnv); v != "" {
				s.apply(&cfg, v)
				continue
			}
		}
		if v, err := sr.Get(appName, s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}

// Validate checks the settings needed to run the monitoring agent.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Oracle.Provider) {
	case "", "openai":
		if c.Oracle.APIKey == "" {
			errs = append(errs, errors.New("missing required config: OpenAI API key. "+
				"Set it via environment variable OTWATCH_OPENAI_API_KEY or OPENAI_API_KEY, "+
				"or run `otwatch config set-secret oracle.api_key <key>`"))
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Errorf("oracle.provider %q is not supported (want openai or ollama)", c.Oracle.Provider))
	}

	if c.Agent.Interval <= 0 {
		errs = append(errs, fmt.Errorf("agent.interval must be positive, got %s", c.Agent.Interval))
	}
	if c.Agent.Lookback <= 0 {
		errs = append(errs, fmt.Errorf("agent.lookback must be positive, got %s", c.Agent.Lookback))
	}
	if c.Storage.OutputFile == "" {
		errs = append(errs, errors.New("storage.output_file must not be empty"))
	}
	return errors.Join(errs...)
}

// SlogLevel maps Log.Level to a slog level. Unknown names mean info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return appName + "-data"
		}
	}
	return filepath.Join(dir, appName)
}
