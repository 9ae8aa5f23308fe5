package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New("debug")
	if log.GetLevel() != zerolog.DebugLevel {
		t.Errorf("Expected debug level, got %v", log.GetLevel())
	}
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log := New("chatty")
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level fallback, got %v", log.GetLevel())
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog := NewWithWriter(buf)
	ctx := WithContext(context.Background(), testLog)

	log := FromContext(ctx)
	log.Info().Msg("from context")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithBatch(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithBatch(NewWithWriter(buf), "batch-42")

	log.Info().Msg("row reconciled")

	out := buf.String()
	if !strings.Contains(out, "batch_id") || !strings.Contains(out, "batch-42") {
		t.Errorf("Expected batch_id field in output, got: %s", out)
	}
}
