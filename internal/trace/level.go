package trace

import (
	"fmt"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	LevelOff     Level = iota // no tracing
	LevelError                // failures only
	LevelCycle                // debounce cycles
	LevelRequest              // cycles and pull requests
	LevelDebug                // everything
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelCycle:
		return "cycle"
	case LevelRequest:
		return "request"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "off":
		return LevelOff, nil
	case "error":
		return LevelError, nil
	case "cycle":
		return LevelCycle, nil
	case "request":
		return LevelRequest, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|cycle|request|debug)", s)
	}
}

// ShouldEmit reports whether an event of the given kind and scope passes
// this level. Error events pass every level except off.
func (l Level) ShouldEmit(kind Kind, scope Scope) bool {
	if l == LevelOff {
		return false
	}
	if kind == KindError {
		return true
	}
	switch l {
	case LevelCycle:
		return scope <= ScopeCycle
	case LevelRequest:
		return scope <= ScopeRequest
	case LevelDebug:
		return true
	}
	return false
}
