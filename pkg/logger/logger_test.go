package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewParsesLevel(t *testing.T) {
	l := New(LoggingConfig{Level: "debug", Format: "json"})
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %v", l.GetLevel())
	}
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	l := New(LoggingConfig{Level: "verbose"})
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %v", l.GetLevel())
	}
}

func TestNewDefault(t *testing.T) {
	l := NewDefault("verifier")
	if l == nil || l.Logger == nil {
		t.Fatal("expected logger instance")
	}
}

func TestWithSessionTruncates(t *testing.T) {
	l := NewDefault("verifier")
	entry := l.WithSession("0123456789abcdef")
	if got := entry.Data["session"]; got != "01234567" {
		t.Fatalf("expected truncated session id, got %v", got)
	}
}
