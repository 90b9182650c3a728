// Package runtimeconfig provides environment-variable overrides layered on
// top of the Config Store's file-based options, following the priority
// chain (env var over default) used throughout the teacher's infrastructure
// configuration loader.
package runtimeconfig

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the value of key, or def if unset/empty.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvBool parses key as a bool, or returns def.
func GetEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// GetEnvInt parses key as an int, or returns def.
func GetEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetEnvDuration parses key as a time.Duration, or returns def.
func GetEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// SplitCSV splits a comma-separated list and trims whitespace, dropping
// empty items.
func SplitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseByteSize parses sizes with KB/MB/GB/TB suffixes (case-insensitive,
// base 1024) into a byte count.
func ParseByteSize(v string) (int64, bool) {
	v = strings.TrimSpace(strings.ToUpper(v))
	if v == "" {
		return 0, false
	}
	multipliers := []struct {
		suffix string
		mul    int64
	}{
		{"TB", 1 << 40}, {"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1},
	}
	for _, m := range multipliers {
		if strings.HasSuffix(v, m.suffix) {
			numPart := strings.TrimSuffix(v, m.suffix)
			n, err := strconv.ParseFloat(strings.TrimSpace(numPart), 64)
			if err != nil || n < 0 {
				return 0, false
			}
			result := n * float64(m.mul)
			if result > float64(int64(^uint64(0)>>1)) {
				return 0, false
			}
			return int64(result), true
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
