package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func resetLogger(t *testing.T) {
	t.Helper()
	log = nil
	once = sync.Once{}
}

func TestInitAndContextLogging(t *testing.T) {
	Init("development")
	if GetLogger() == nil {
		t.Fatal("expected logger initialized")
	}

	ctx := context.WithValue(context.Background(), "request_id", "req-1")
	if WithContext(ctx) == nil {
		t.Fatal("expected contextual logger")
	}

	Info(ctx, "info")
	Debug(ctx, "debug")
	Warn(ctx, "warn")
	Error(ctx, "error")
	LogRequest(ctx, "GET", "/health", 200, 10*time.Millisecond, "127.0.0.1")
	Sync()
}

func TestWithContextNil(t *testing.T) {
	Init("development")
	if WithContext(nil) == nil {
		t.Fatal("expected base logger for nil context")
	}
}

func TestWithContextTypedRequestID(t *testing.T) {
	Init("development")
	ctx := context.WithValue(context.Background(), RequestIDKey, "typed-req-id")
	if WithContext(ctx) == nil {
		t.Fatal("expected logger with typed request id context")
	}
}

func TestGetLogger_NopBeforeInit(t *testing.T) {
	resetLogger(t)
	t.Cleanup(func() { resetLogger(t) })

	if GetLogger() == nil {
		t.Fatal("expected nop logger before Init")
	}
	Info(context.Background(), "dropped")
}

func TestInit_Production(t *testing.T) {
	resetLogger(t)
	t.Cleanup(func() { resetLogger(t) })

	Init("production")
	if GetLogger() == nil {
		t.Fatal("expected production logger initialized")
	}
	if WithContext(context.Background()) == nil {
		t.Fatal("expected logger without contextual fields")
	}
}

func TestInit_PanicWhenLoggerBuildFails(t *testing.T) {
	resetLogger(t)
	origBuild := buildLogger
	t.Cleanup(func() {
		buildLogger = origBuild
		resetLogger(t)
	})

	buildLogger = func(zap.Config) (*zap.Logger, error) {
		return nil, errors.New("build failed")
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when logger builder fails")
		}
	}()
	Init("production")
}
