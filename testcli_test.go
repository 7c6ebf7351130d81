package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/disconnec/FeiSync/internal/bootcfg"
	"github.com/disconnec/FeiSync/internal/store"
)

// newTestCLIContext opens a fresh store under a temp directory and returns a
// context carrying a *CLIContext, the way loadCLIContext would have built it
// from a real invocation.
func newTestCLIContext(t *testing.T) context.Context {
	t.Helper()

	dataDir := t.TempDir()

	st, err := store.Open(dataDir)
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}

	cc := &CLIContext{
		Boot:   &bootcfg.Config{DataDir: dataDir},
		Store:  st,
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})),
	}

	return context.WithValue(context.Background(), cliContextKey{}, cc)
}

// devNull returns an *os.File that discards writes, for exercising table
// formatting helpers that take a concrete *os.File destination.
func devNull(t *testing.T) *os.File {
	t.Helper()

	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("opening devnull: %v", err)
	}

	t.Cleanup(func() { _ = f.Close() })

	return f
}
