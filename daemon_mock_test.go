//go:build mock

package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wipi/internal/control"
)

func TestDaemonSurvivesMetricsBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	dir := t.TempDir()
	opts := testOptions(filepath.Join(dir, "wipi.sock"))
	opts.Daemon = true
	opts.Config = filepath.Join(dir, "config.json")
	opts.MetricsAddr = busy.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runDaemon(ctx, opts) }()

	client := control.NewClient(opts.Socket)
	require.Eventually(t, func() bool {
		_, err := client.Call(ctx, control.ActionStatus)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
