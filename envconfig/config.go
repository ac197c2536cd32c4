// Package envconfig reads process configuration from LDMSOLVE_* environment
// variables. Each setting is exposed as a getter so values are read at the
// point of use, not captured at startup.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Var reads an environment variable, trimming whitespace and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Bool returns a getter for a boolean variable (default false).
func Bool(key string) func() bool {
	return func() bool {
		if s := Var(key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// String returns a getter for a string variable.
func String(key string) func() string {
	return func() string {
		return Var(key)
	}
}

// Uint returns a getter for an unsigned integer variable with a default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Debug enables debug logging via LDMSOLVE_DEBUG.
var Debug = Bool("LDMSOLVE_DEBUG")

// LogLevel maps LDMSOLVE_DEBUG onto a slog level.
func LogLevel() slog.Level {
	if Debug() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Models returns the directory holding the exported backbone models.
// Configurable via LDMSOLVE_MODELS; default $HOME/.ldmsolve/models.
func Models() string {
	if s := Var("LDMSOLVE_MODELS"); s != "" {
		return s
	}
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".ldmsolve", "models")
}

// OrtLibrary returns the onnxruntime shared-library path override, if any.
// Configurable via LDMSOLVE_ORT_LIBRARY.
var OrtLibrary = String("LDMSOLVE_ORT_LIBRARY")

// Threads caps intra-op parallelism of the inference runtime; 0 keeps the
// runtime default. Configurable via LDMSOLVE_THREADS.
var Threads = Uint("LDMSOLVE_THREADS", 0)

// EnvVar describes one configuration variable for display.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every configuration variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"LDMSOLVE_DEBUG":       {"LDMSOLVE_DEBUG", Debug(), "Show additional debug information (e.g. LDMSOLVE_DEBUG=1)"},
		"LDMSOLVE_MODELS":      {"LDMSOLVE_MODELS", Models(), "The path to the exported model directory"},
		"LDMSOLVE_ORT_LIBRARY": {"LDMSOLVE_ORT_LIBRARY", OrtLibrary(), "Path to the onnxruntime shared library"},
		"LDMSOLVE_THREADS":     {"LDMSOLVE_THREADS", Threads(), "Maximum intra-op threads for inference (0 = runtime default)"},
	}
}

// Values returns the configuration as a string map.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
