// Package env provides typed accessors for environment variables with
// defaults. Invalid values fall back to the default and log nothing; the
// caller decides whether a knob is critical.
package env

import (
	"os"
	"strconv"
)

// Bool returns the boolean value of the environment variable, or
// defaultValue when unset or unparsable.
func Bool(name string, defaultValue bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Int returns the integer value of the environment variable, or defaultValue
// when unset or unparsable.
func Int(name string, defaultValue int) int {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Int64 returns the 64-bit integer value of the environment variable, or
// defaultValue when unset or unparsable.
func Int64(name string, defaultValue int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Float64 returns the float value of the environment variable, or
// defaultValue when unset or unparsable.
func Float64(name string, defaultValue float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// String returns the value of the environment variable, or defaultValue when
// unset.
func String(name string, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}
