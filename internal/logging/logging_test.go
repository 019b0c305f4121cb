package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerParsesLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "debug"})
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}
}

func TestNewLoggerFallsBackToInfoOnUnknownLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "verbose"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %s", logger.GetLevel())
	}
}

func TestNewLoggerDefaultsEmptyLevelToInfo(t *testing.T) {
	logger := NewLogger(Config{})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("empty level should default to info, got %s", logger.GetLevel())
	}
}
