package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconnec/FeiSync/internal/bootcfg"
)

func TestWatchConfigReload_UpdatesHolderOnSIGHUP(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feisync.toml")

	require.NoError(t, os.WriteFile(path, []byte(`listen_addr = "127.0.0.1:7000"`+"\n"), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	initial, err := bootcfg.Load(path, logger)
	require.NoError(t, err)

	holder := bootcfg.NewHolder(initial, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		watchConfigReload(ctx, holder, logger)
		close(done)
	}()

	require.NoError(t, os.WriteFile(path, []byte(`listen_addr = "127.0.0.1:9000"`+"\n"), 0o644))

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if holder.Config().ListenAddr == "127.0.0.1:9000" {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, "127.0.0.1:9000", holder.Config().ListenAddr)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchConfigReload did not exit after context cancellation")
	}
}

func TestWatchConfigReload_LogsAndContinuesOnLoadError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feisync.toml")

	require.NoError(t, os.WriteFile(path, []byte(`listen_addr = "127.0.0.1:7000"`+"\n"), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	initial, err := bootcfg.Load(path, logger)
	require.NoError(t, err)

	holder := bootcfg.NewHolder(initial, path)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		watchConfigReload(ctx, holder, logger)
		close(done)
	}()

	// Malformed TOML: reload should fail, log, and leave the held config
	// untouched rather than crash the watcher goroutine.
	require.NoError(t, os.WriteFile(path, []byte(`not valid toml === `), 0o644))
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, "127.0.0.1:7000", holder.Config().ListenAddr)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchConfigReload did not exit after context cancellation")
	}
}
