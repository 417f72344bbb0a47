package core

import (
	"fmt"
	"strings"
)

// Level is the severity of a rule. Levels are ordered: a higher value is more severe.
type Level int

const (
	LevelInformational Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = []string{"informational", "low", "medium", "high", "critical"}

// String returns the lowercase level name used in rule files.
func (l Level) String() string {
	if l < LevelInformational || l > LevelCritical {
		return "unknown"
	}
	return levelNames[l]
}

// Levels returns every level from least to most severe.
func Levels() []Level {
	return []Level{LevelInformational, LevelLow, LevelMedium, LevelHigh, LevelCritical}
}

// ParseLevel converts a level name to a Level. Matching is case-insensitive
// and accepts the common abbreviations "info" and "crit".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "informational", "info":
		return LevelInformational, nil
	case "low":
		return LevelLow, nil
	case "medium":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	case "critical", "crit":
		return LevelCritical, nil
	}
	return LevelInformational, fmt.Errorf("invalid level %q: must be one of %s", s, strings.Join(levelNames, ", "))
}

// MarshalText implements encoding.TextMarshaler so levels serialize by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
