package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv builds a default configuration from the environment, starting from
// compiled-in defaults. Recognized variables:
//
//	CONFBUS_SERVICE_NAME
//	CONFBUS_SERVICE_VERSION
//	CONFBUS_CONFIG_VERSION
//	CONFBUS_FEATURES          comma-separated "name=true" pairs
func FromEnv(name, version string) *Config {
	cfg := &Config{
		ServiceName:    getenvStr("CONFBUS_SERVICE_NAME", name),
		ServiceVersion: getenvStr("CONFBUS_SERVICE_VERSION", version),
		ConfigVersion:  getenvInt64("CONFBUS_CONFIG_VERSION", 1),
	}
	if raw := os.Getenv("CONFBUS_FEATURES"); raw != "" {
		cfg.Features = make(map[string]bool)
		for _, pair := range strings.Split(raw, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || k == "" {
				continue
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				continue
			}
			cfg.Features[k] = b
		}
	}
	return cfg
}

func getenvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
