package logship

import (
	"fmt"
	"strings"
)

// Level is the severity of a log entry. The numeric values match the
// conventional 10/20/30/40/50 scale so records sort and filter naturally.
type Level int

const (
	// LevelDebug is the lowest severity.
	LevelDebug Level = 10
	// LevelInfo is routine operational information.
	LevelInfo Level = 20
	// LevelWarning indicates something unexpected but recoverable.
	LevelWarning Level = 30
	// LevelError indicates a failure of an operation.
	LevelError Level = 40
	// LevelCritical indicates an unrecoverable failure.
	LevelCritical Level = 50
)

// String returns the canonical upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel parses a level name, case-insensitively. "WARN" is accepted
// as an alias for "WARNING".
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
	}
}
