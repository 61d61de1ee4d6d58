// Package control is the local command channel between the wipi CLI and a
// running daemon: one CBOR request and one CBOR response per connection on
// a Unix socket.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shazow/wipi/internal/codec"
	"github.com/shazow/wipi/internal/controller"
)

// DefaultSocketPath is where the daemon listens.
const DefaultSocketPath = "/run/wipi/wipi.sock"

// Actions understood by the server.
const (
	ActionStatus      = "status"
	ActionForceAP     = "force-ap"
	ActionForceClient = "force-client"
	ActionReload      = "reload"
)

const (
	socketMode     = 0o660
	readTimeout    = 5 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 64 * 1024
	// commandTimeout covers a full access point bring-up.
	commandTimeout = 2 * time.Minute
)

// Controller is the part of the controller the server drives.
type Controller interface {
	Status() controller.Status
	Submit(ctx context.Context, cmd controller.Command) (controller.Status, error)
}

// Request is the wire form of a request.
type Request struct {
	Action string `cbor:"action"`
}

// Response is the wire form of a response. Data holds a Report when OK.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// Report is a controller status with host details for display.
type Report struct {
	controller.Status
	Hostname  string   `json:"hostname" cbor:"hostname"`
	Addresses []string `json:"addresses,omitempty" cbor:"addresses,omitempty"`
	// Recent is the tail of the daemon log.
	Recent []string `json:"recent,omitempty" cbor:"recent,omitempty"`
}

type actionFunc func(ctx context.Context) (controller.Status, error)

// Server answers control requests for a Controller.
type Server struct {
	path     string
	ctrl     Controller
	recent   func() []string
	logger   *slog.Logger
	handlers map[string]actionFunc
	active   sync.WaitGroup
}

// NewServer creates a server that will listen on path. recent supplies log
// lines for reports and may be nil.
func NewServer(path string, ctrl Controller, recent func() []string, logger *slog.Logger) *Server {
	s := &Server{
		path:   path,
		ctrl:   ctrl,
		recent: recent,
		logger: logger,
	}
	s.handlers = map[string]actionFunc{
		ActionStatus: func(context.Context) (controller.Status, error) {
			return ctrl.Status(), nil
		},
		ActionForceAP:     s.submit(controller.CommandForceAP),
		ActionForceClient: s.submit(controller.CommandForceClient),
		ActionReload:      s.submit(controller.CommandReload),
	}
	return s
}

func (s *Server) submit(cmd controller.Command) actionFunc {
	return func(ctx context.Context) (controller.Status, error) {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return s.ctrl.Submit(ctx, cmd)
	}
}

// Report returns the current status with host details.
func (s *Server) Report() Report {
	return s.report(s.ctrl.Status())
}

func (s *Server) report(st controller.Status) Report {
	r := Report{Status: st, Addresses: localAddresses()}
	r.Hostname, _ = os.Hostname()
	if s.recent != nil {
		r.Recent = s.recent()
	}
	return r
}

// Serve listens until ctx is cancelled, then waits for in-flight requests.
// A stale socket at the path is replaced, and the socket is removed on
// return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.path, err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.path, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.path)
	}()
	if err := os.Chmod(s.path, socketMode); err != nil {
		return fmt.Errorf("setting socket permissions: %w", err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control socket listening", "path", s.path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handle(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	var req Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.write(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	action, ok := s.handlers[req.Action]
	if !ok {
		s.write(conn, Response{Error: fmt.Sprintf("unknown action %q", req.Action)})
		return
	}

	s.logger.Debug("control request", "action", req.Action)
	st, err := action(ctx)
	if err != nil {
		s.logger.Info("control request failed", "action", req.Action, "error", err)
		s.write(conn, Response{Error: err.Error()})
		return
	}

	data, err := codec.Marshal(s.report(st))
	if err != nil {
		s.write(conn, Response{Error: fmt.Sprintf("internal: encoding report: %v", err)})
		return
	}
	s.write(conn, Response{OK: true, Data: data})
}

func (s *Server) write(conn net.Conn, resp Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// localAddresses lists the host's non-loopback unicast addresses.
func localAddresses() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		out = append(out, ipnet.IP.String())
	}
	return out
}
