package control

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wipi/internal/codec"
	"github.com/shazow/wipi/internal/controller"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeController struct {
	mu       sync.Mutex
	status   controller.Status
	commands []controller.Command
	err      error
}

func (f *fakeController) Status() controller.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Submit(ctx context.Context, cmd controller.Command) (controller.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if f.err != nil {
		return f.status, f.err
	}
	switch cmd {
	case controller.CommandForceAP:
		f.status.State = controller.StateAccessPoint
		f.status.Override = controller.OverrideForceAP
	case controller.CommandForceClient:
		f.status.State = controller.StateClientSearching
		f.status.Override = controller.OverrideForceClient
	}
	return f.status, nil
}

func startServer(t *testing.T, ctrl Controller) (*Client, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run", "wipi.sock")
	srv := NewServer(path, ctrl, func() []string { return []string{"12:00:00 INFO hello"} }, discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	require.Eventually(t, func() bool {
		info, err := os.Stat(path)
		return err == nil && info.Mode().Perm() == socketMode
	}, time.Second, 5*time.Millisecond)
	return NewClient(path), path
}

func TestStatus(t *testing.T) {
	ctrl := &fakeController{status: controller.Status{
		State:     controller.StateClientConnected,
		SSID:      "home",
		APSSID:    "WiPi-AP",
		APAddress: "192.168.4.1",
	}}
	client, _ := startServer(t, ctrl)

	report, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, controller.StateClientConnected, report.State)
	assert.Equal(t, "home", report.SSID)
	assert.Equal(t, "192.168.4.1", report.APAddress)
	assert.Equal(t, []string{"12:00:00 INFO hello"}, report.Recent)
	hostname, _ := os.Hostname()
	assert.Equal(t, hostname, report.Hostname)
	assert.Empty(t, ctrl.commands)
}

func TestCommands(t *testing.T) {
	ctrl := &fakeController{status: controller.Status{State: controller.StateClientSearching}}
	client, _ := startServer(t, ctrl)
	ctx := context.Background()

	report, err := client.ForceAP(ctx)
	require.NoError(t, err)
	assert.Equal(t, controller.StateAccessPoint, report.State)
	assert.Equal(t, controller.OverrideForceAP, report.Override)

	report, err = client.ForceClient(ctx)
	require.NoError(t, err)
	assert.Equal(t, controller.StateClientSearching, report.State)

	_, err = client.Reload(ctx)
	require.NoError(t, err)

	assert.Equal(t, []controller.Command{
		controller.CommandForceAP,
		controller.CommandForceClient,
		controller.CommandReload,
	}, ctrl.commands)
}

func TestCommandError(t *testing.T) {
	ctrl := &fakeController{err: controller.ErrPinned}
	client, _ := startServer(t, ctrl)

	_, err := client.ForceClient(context.Background())
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, ActionForceClient, reqErr.Action)
	assert.Equal(t, controller.ErrPinned.Error(), reqErr.Message)
}

func TestUnknownAction(t *testing.T) {
	client, _ := startServer(t, &fakeController{})

	_, err := client.Call(context.Background(), "reboot")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Message, `unknown action "reboot"`)
}

func TestMalformedRequest(t *testing.T) {
	_, path := startServer(t, &fakeController{})

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte{0xff, 0xff})
	require.NoError(t, err)
	conn.(*net.UnixConn).CloseWrite()

	var resp Response
	require.NoError(t, codec.NewDecoder(conn).Decode(&resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "invalid request")
}

func TestUnreachable(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := client.Status(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestServeReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wipi.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	srv := NewServer(path, &fakeController{}, nil, discard)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	client := NewClient(path)
	require.Eventually(t, func() bool {
		_, err := client.Status(ctx)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
