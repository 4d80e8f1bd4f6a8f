// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamrelay/internal/log"
)

// EnvPrefix prefixes every environment variable the daemon reads.
const EnvPrefix = "RELAY_"

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseEnv(log.WithComponent("config"), key, defaultValue, "string", func(v string) (string, error) {
		return v, nil
	})
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(log.WithComponent("config"), key, defaultValue, "integer", strconv.Atoi)
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(log.WithComponent("config"), key, defaultValue, "duration", time.ParseDuration)
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(log.WithComponent("config"), key, defaultValue, "boolean", parseBoolWord)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(log.WithComponent("config"), key, defaultValue, "float", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

// parseEnv is shared by the Parse helpers. Unset and empty variables yield
// the default; unparsable values log a warning and yield the default.
func parseEnv[T any](logger zerolog.Logger, key string, defaultValue T, kind string, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		msg := "using default value"
		if ok {
			msg = "using default value (environment variable is empty)"
		}
		logger.Debug().
			Str("key", key).
			Interface("default", defaultValue).
			Str("source", "default").
			Msg(msg)
		return defaultValue
	}

	value, err := parse(strings.TrimSpace(raw))
	if err != nil {
		ev := logger.Warn().Str("key", key).Interface("default", defaultValue)
		if !isSensitiveKey(strings.ToLower(key)) {
			ev = ev.Str("value", raw)
		}
		ev.Msgf("invalid %s in environment variable, using default", kind)
		return defaultValue
	}

	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitiveKey(strings.ToLower(key)) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Interface("value", value)
	}
	ev.Msg("using environment variable")
	return value
}

func parseBoolWord(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

func isSensitiveKey(lowerKey string) bool {
	for _, marker := range []string{"token", "password", "secret", "stream_key"} {
		if strings.Contains(lowerKey, marker) {
			return true
		}
	}
	return false
}

// expandEnv expands environment variables in the format ${VAR} or $VAR
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
