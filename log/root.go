package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Module tags used to gate Debug/Trace calls across the node. Info/Warn/
// Error/Crit are never filtered by module, only the chatty levels are.
const (
	Consensus  = "consensus"
	Forest     = "forest"
	Commitment = "commitment"
	Executor   = "executor"
	VM         = "vm"
	Mempool    = "mempool"
	RPC        = "rpc"
	Storage    = "storage"
	Gossip     = "gossip"
)

var root atomic.Value

func init() {
	root.Store(NewLogger(DiscardHandler()))
}

// ParseLevel parses a human-provided level name ("debug", "INFO", ...).
func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(lvl) {
	case "MAX", "MAXVERBOSITY":
		return levelMaxVerbosity, nil
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRIT", "CRITICAL":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", lvl)
	}
}

// InitLogger configures the root logger to write human-readable lines to
// stderr at the given level. json=true switches to the JSON handler
// instead, matching the node's --logjson flag.
func InitLogger(logLevel string, json bool) {
	lvl, err := ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level, defaulting to info: %v\n", err)
		lvl = LevelInfo
	}
	if json {
		SetDefault(NewLogger(NewJSONHandler(os.Stderr, lvl)))
		return
	}
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
}

// SetDefault installs l as the process-wide root logger.
func SetDefault(l Logger) { root.Store(l) }

// Root returns the process-wide root logger.
func Root() Logger { return root.Load().(Logger) }

var moduleEnabled = map[string]bool{}

// EnableModule turns on Debug/Trace logging for module.
func EnableModule(module string) { moduleEnabled[module] = true }

// DisableModule turns off Debug/Trace logging for module.
func DisableModule(module string) { moduleEnabled[module] = false }

// EnableModules parses a comma-separated module list, e.g. "consensus,vm".
func EnableModules(csv string) {
	for _, m := range strings.Split(csv, ",") {
		m = strings.TrimSpace(m)
		if m != "" {
			EnableModule(m)
		}
	}
}

func isModuleEnabled(module string) bool { return moduleEnabled[module] }

// Trace logs at trace level, gated by EnableModule(module).
func Trace(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(LevelTrace, module, msg, ctx...)
}

// Debug logs at debug level, gated by EnableModule(module).
func Debug(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(slog.LevelDebug, module, msg, ctx...)
}

// Info, Warn, Error and Crit are never module-filtered.
func Info(module string, msg string, ctx ...interface{})  { Root().Write(slog.LevelInfo, module, msg, ctx...) }
func Warn(module string, msg string, ctx ...interface{})  { Root().Write(slog.LevelWarn, module, msg, ctx...) }
func Error(module string, msg string, ctx ...interface{}) { Root().Write(slog.LevelError, module, msg, ctx...) }

// Crit logs at critical level and terminates the process: only a
// StorageFault-class error (spec §7) should ever reach this.
func Crit(module string, msg string, ctx ...interface{}) {
	Root().Write(LevelCrit, module, msg, ctx...)
	os.Exit(1)
}

// New returns a child logger carrying the given attributes on every call.
func New(ctx ...interface{}) Logger { return Root().With(ctx...) }
