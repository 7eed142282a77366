package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key         string
	typ         keyType
	env         string
	fallbackEnv string
	secret      bool
	apply       func(cfg *Config, v any)
	extract     func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "feed.base_url", typ: kString, env: "OTWATCH_FEED_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Feed.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Feed.BaseURL },
	},
	{
		key: "feed.api_key", typ: kString, env: "OTWATCH_NVD_API_KEY", fallbackEnv: "NVD_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Feed.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Feed.APIKey },
	},
	{
		key: "feed.page_size", typ: kInt, env: "OTWATCH_FEED_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Feed.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Feed.PageSize },
	},
	{
		key: "feed.request_delay", typ: kDuration, env: "OTWATCH_FEED_REQUEST_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Feed.RequestDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Feed.RequestDelay },
	},
	{
		key: "feed.timeout", typ: kDuration, env: "OTWATCH_FEED_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Feed.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Feed.Timeout },
	},
	{
		key: "feed.seen_capacity", typ: kInt, env: "OTWATCH_FEED_SEEN_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Feed.SeenCapacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Feed.SeenCapacity },
	},
	{
		key: "agent.interval", typ: kDuration, env: "OTWATCH_AGENT_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Agent.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.Interval },
	},
	{
		key: "agent.lookback", typ: kDuration, env: "OTWATCH_AGENT_LOOKBACK",
		apply:   func(cfg *Config, v any) { cfg.Agent.Lookback = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.Lookback },
	},
	{
		key: "oracle.provider", typ: kString, env: "OTWATCH_ORACLE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Provider },
	},
	{
		key: "oracle.base_url", typ: kString, env: "OTWATCH_ORACLE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.BaseURL },
	},
	{
		key: "oracle.ollama_url", typ: kString, env: "OTWATCH_ORACLE_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.OllamaURL },
	},
	{
		key: "oracle.model", typ: kString, env: "OTWATCH_ORACLE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Model },
	},
	{
		key: "oracle.temperature", typ: kFloat, env: "OTWATCH_ORACLE_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Oracle.Temperature },
	},
	{
		key: "oracle.timeout", typ: kDuration, env: "OTWATCH_ORACLE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Oracle.Timeout },
	},
	{
		key: "oracle.api_key", typ: kString, env: "OTWATCH_OPENAI_API_KEY", fallbackEnv: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Oracle.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.APIKey },
	},
	{
		key: "storage.output_file", typ: kString, env: "OTWATCH_OUTPUT_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.OutputFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.OutputFile },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OTWATCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "server.addr", typ: kString, env: "OTWATCH_SERVER_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Server.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Addr },
	},
	{
		key: "log.level", typ: kString, env: "OTWATCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "OTWATCH_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

// parseValue converts raw into the Go type of t. Durations also accept a bare
// number of seconds.
func parseValue(t keyType, raw string) (any, error) {
	switch t {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		if d, err := time.ParseDuration(raw); err == nil {
			return d, nil
		}
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return nil, fmt.Errorf("unknown key type %d", t)
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
