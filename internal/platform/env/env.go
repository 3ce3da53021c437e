// Package env reads the orchestrator's DEVFLOW_* configuration from the
// process environment. Unset variables fall back to the given default;
// set-but-malformed values are reported as errors so a typo never
// silently becomes a default.
package env

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

func String(key, def string) string {
	if raw, ok := os.LookupEnv(key); ok {
		return raw
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return lookup(key, def, time.ParseDuration)
}

func Bool(key string, def bool) (bool, error) {
	return lookup(key, def, strconv.ParseBool)
}

func Int(key string, def int) (int, error) {
	return lookup(key, def, strconv.Atoi)
}

func lookup[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	value, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}
