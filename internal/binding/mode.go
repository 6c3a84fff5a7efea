package binding

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Mode selects between the live store and the in-memory stand-in.
type Mode int

const (
	// ModeLive reads and writes the configured store.
	ModeLive Mode = iota
	// ModeMemory keeps values in the owner only. Nothing touches a store and
	// no external changes are relayed. Used for tests and previews.
	ModeMemory
)

// Environment variables that force ModeMemory for the whole process.
const (
	EnvMode    = "FIELDSYNC_MODE"
	EnvPreview = "FIELDSYNC_PREVIEW"
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeMemory:
		return "memory"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "live" or "memory". The empty string is live.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "live":
		return ModeLive, nil
	case "memory", "mem", "preview":
		return ModeMemory, nil
	default:
		return ModeLive, fmt.Errorf("unknown mode %q (want live or memory)", s)
	}
}

// effectiveMode applies the process-wide override. The environment can only
// force memory mode, never live.
func effectiveMode(configured Mode, logger *slog.Logger) Mode {
	if v := os.Getenv(EnvPreview); v == "1" || strings.EqualFold(v, "true") {
		return ModeMemory
	}
	if v, ok := os.LookupEnv(EnvMode); ok && v != "" {
		m, err := ParseMode(v)
		if err != nil {
			logger.Warn("ignoring environment mode override", slog.String("var", EnvMode), slog.String("error", err.Error()))
			return configured
		}
		if m == ModeMemory {
			return ModeMemory
		}
	}
	return configured
}
