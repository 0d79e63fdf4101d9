package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// LoadEnvConfig reads environment variables and returns a populated Config.
// Values not present fall back to documented defaults; LoadEnvConfig never
// fails on missing variables, only on malformed ones.
func LoadEnvConfig() (*Config, error) {
	var errs []string

	cfg := &Config{
		ListenPort:              envInt("ROO_LISTEN_PORT", 8080, &errs),
		LogPath:                 envStr("ROO_LOG_PATH", "roo-sniffer.jsonl"),
		WatchDomains:            envStringSlice("ROO_WATCH_DOMAINS", []string{}, &errs),
		Verbose:                 envBool("ROO_VERBOSE", false, &errs),
		CertDir:                 envStr("ROO_CERT_DIR", "./roo-certs"),
		StructuredLogDir:        envStr("ROO_STRUCTURED_LOG_DIR", ""),
		LogRotateSchedule:       envStr("ROO_LOG_ROTATE_SCHEDULE", "0 3 * * *"),
		SubscriberBufferSize:    envInt("ROO_SUBSCRIBER_BUFFER_SIZE", 256, &errs),
		StructuredFlushInterval: envDuration("ROO_STRUCTURED_FLUSH_INTERVAL", Duration(5*time.Second), &errs),
	}

	if _, err := cron.ParseStandard(cfg.LogRotateSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("ROO_LOG_ROTATE_SCHEDULE: invalid cron expression %q: %v", cfg.LogRotateSchedule, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid bool %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal Duration, errs *[]string) Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q: %v", key, v, err))
		return defaultVal
	}
	return Duration(parsed)
}

func envStringSlice(key string, defaultVal []string, errs *[]string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Accept either a JSON string array or a plain comma-separated list.
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err == nil {
		if out == nil {
			return []string{}
		}
		return out
	}
	parts := strings.Split(v, ",")
	out = make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
