package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/shazow/wipi/internal/codec"
)

const (
	dialTimeout     = 2 * time.Second
	maxResponseSize = 1024 * 1024
	// responseTimeout outlasts the server's command timeout.
	responseTimeout = commandTimeout + writeTimeout
)

// ErrUnreachable is returned when no daemon answers on the socket.
var ErrUnreachable = errors.New("daemon is not reachable")

// RequestError is a failure reported by the daemon.
type RequestError struct {
	Action  string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Client talks to a daemon's control socket. Each call uses a new
// connection.
type Client struct {
	path string
}

// NewClient returns a client for the socket at path.
func NewClient(path string) *Client {
	return &Client{path: path}
}

// Path returns the socket path.
func (c *Client) Path() string {
	return c.path
}

func (c *Client) Status(ctx context.Context) (Report, error) {
	return c.Call(ctx, ActionStatus)
}

func (c *Client) ForceAP(ctx context.Context) (Report, error) {
	return c.Call(ctx, ActionForceAP)
}

func (c *Client) ForceClient(ctx context.Context) (Report, error) {
	return c.Call(ctx, ActionForceClient)
}

func (c *Client) Reload(ctx context.Context) (Report, error) {
	return c.Call(ctx, ActionReload)
}

// Call sends one action and decodes the report. A daemon-side failure is
// returned as a *RequestError.
func (c *Client) Call(ctx context.Context, action string) (Report, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.path)
	if err != nil {
		return Report{}, fmt.Errorf("%w at %s: %v", ErrUnreachable, c.path, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(responseTimeout))
	}

	if err := codec.NewEncoder(conn).Encode(Request{Action: action}); err != nil {
		return Report{}, fmt.Errorf("writing %s request: %w", action, err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var resp Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&resp); err != nil {
		return Report{}, fmt.Errorf("reading %s response: %w", action, err)
	}
	if !resp.OK {
		return Report{}, &RequestError{Action: action, Message: resp.Error}
	}

	var report Report
	if err := codec.Unmarshal(resp.Data, &report); err != nil {
		return Report{}, fmt.Errorf("decoding %s report: %w", action, err)
	}
	return report, nil
}
