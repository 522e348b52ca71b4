// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// ProfilingConfig configures the pprof middleware.
type ProfilingConfig struct {
	// Enabled exposes the /debug/pprof/* endpoints. Development only:
	// profiles leak memory contents and runtime internals.
	Enabled bool

	// Environment gates a second safety check. "production" and "prod"
	// refuse to serve profiles even when Enabled is set.
	Environment string
}

// Profiling serves pprof endpoints at /debug/pprof/* and passes every other
// request through. Disabled, it is a no-op wrapper. Enabling it in a
// production environment is refused and logged.
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}

		if config.Environment == "production" || config.Environment == "prod" {
			slog.Error("refusing to enable profiling in production",
				"environment", config.Environment)
			return next
		}

		slog.Warn("pprof endpoints enabled",
			"environment", config.Environment,
			"endpoints", "/debug/pprof/*")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/debug/pprof") {
				next.ServeHTTP(w, r)
				return
			}

			switch r.URL.Path {
			case "/debug/pprof/cmdline":
				pprof.Cmdline(w, r)
			case "/debug/pprof/profile":
				pprof.Profile(w, r)
			case "/debug/pprof/symbol":
				pprof.Symbol(w, r)
			case "/debug/pprof/trace":
				pprof.Trace(w, r)
			default:
				// Index also serves the named profiles (heap, goroutine,
				// block, mutex, allocs, threadcreate).
				pprof.Index(w, r)
			}
		})
	}
}
