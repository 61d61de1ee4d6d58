// Package controller decides whether the radio is a client or an access
// point, and carries that decision out against a wifi.Backend.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shazow/wipi/internal/clock"
	"github.com/shazow/wipi/internal/config"
	"github.com/shazow/wipi/internal/log"
	"github.com/shazow/wipi/internal/metrics"
	"github.com/shazow/wipi/internal/monitor"
	"github.com/shazow/wipi/wifi"
)

const (
	shutdownTimeout = 30 * time.Second
	// minAPRetryDelay bounds how fast a failing access point is retried.
	minAPRetryDelay = time.Second
)

type retryKind int

const (
	retryNone retryKind = iota
	retryClient
	retryAP
)

type request struct {
	cmd   Command
	reply chan error
}

// Options configures a Controller.
type Options struct {
	Backend wifi.Backend
	Store   *config.Store
	Events  <-chan monitor.Event
	// Recheck asks the monitor for an immediate sample.
	Recheck func()
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Registry
	// ForceAP starts with the force-ap override pinned.
	ForceAP bool
	// OnReload is called with every configuration the controller applies.
	OnReload func(*config.Config)
}

// Controller owns the connectivity state. All state changes happen on the
// goroutine running Run; other goroutines read snapshots through Status
// and send commands through Submit.
type Controller struct {
	backend  wifi.Backend
	store    *config.Store
	events   <-chan monitor.Event
	requests chan request
	recheck  func()
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Registry
	onReload func(*config.Config)
	done     chan struct{}

	// Owned by the Run loop.
	state          State
	stable         State
	override       Override
	failures       int
	ssid           string
	known          bool
	signal         uint8
	inRange        []wifi.Network
	apClients      int
	apErr          error
	lastTransition time.Time
	lastConnected  time.Time
	retry          <-chan time.Time
	retryKind      retryKind

	mu     sync.RWMutex
	status Status
}

// New creates a controller in client-searching mode. Call Run to start it.
func New(opts Options) *Controller {
	c := &Controller{
		backend:  opts.Backend,
		store:    opts.Store,
		events:   opts.Events,
		requests: make(chan request),
		recheck:  opts.Recheck,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		onReload: opts.OnReload,
		done:     make(chan struct{}),
		state:    StateClientSearching,
		stable:   StateClientSearching,
		override: OverrideNone,
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.recheck == nil {
		c.recheck = func() {}
	}
	if opts.ForceAP {
		c.override = OverrideForceAP
	}
	c.lastTransition = c.clock.Now()
	c.publish()
	return c
}

// Status returns the latest snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Submit hands cmd to the control loop and waits until it has been applied.
// A pending reconnect wait is abandoned in favour of the command.
func (c *Controller) Submit(ctx context.Context, cmd Command) (Status, error) {
	req := request{cmd: cmd, reply: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return c.Status(), ErrStopped
	case <-ctx.Done():
		return c.Status(), ctx.Err()
	}
	select {
	case err := <-req.reply:
		return c.Status(), err
	case <-c.done:
		return c.Status(), ErrStopped
	case <-ctx.Done():
		return c.Status(), ctx.Err()
	}
}

// Run is the control loop. It returns once ctx is cancelled and any active
// access point has been torn down.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	c.start(ctx)
	c.publish()
	for {
		select {
		case <-ctx.Done():
			err := c.shutdown()
			c.publish()
			return err
		case req := <-c.requests:
			err := c.handleCommand(ctx, req.cmd)
			c.publish()
			req.reply <- err
		case ev, ok := <-c.events:
			if !ok {
				c.events = nil
				continue
			}
			c.handleEvent(ctx, c.latest(ev))
			c.publish()
		case <-c.retry:
			c.retry = nil
			c.handleRetry(ctx)
			c.publish()
		}
	}
}

// latest drains queued events, keeping only the newest.
func (c *Controller) latest(ev monitor.Event) monitor.Event {
	for {
		select {
		case next, ok := <-c.events:
			if !ok {
				return ev
			}
			c.logger.Debug("coalesced event", "dropped", ev.Kind, "kept", next.Kind)
			ev = next
		default:
			return ev
		}
	}
}

func (c *Controller) pinned(cfg *config.Config) bool {
	return cfg.ForceAPMode || c.override == OverrideForceAP
}

func (c *Controller) start(ctx context.Context) {
	cfg := c.store.Current()
	c.metrics.SetMode(string(c.state))
	if c.pinned(cfg) {
		c.logger.Info("starting in access point mode", "force_ap_mode", cfg.ForceAPMode, "override", c.override)
		c.enterAP(ctx)
		return
	}
	c.logger.Info("starting in client mode", "check_interval", cfg.Interval(), "reconnect_attempts", cfg.ReconnectAttempts)
	c.recheck()
}

func (c *Controller) handleEvent(ctx context.Context, ev monitor.Event) {
	cfg := c.store.Current()
	c.inRange = ev.Networks
	if ev.Err != nil {
		c.recordError("observe", ev.Err)
	}
	// A forced client search stays visible until the recheck it asked for
	// has been observed.
	if c.override == OverrideForceClient {
		c.override = OverrideNone
	}

	if c.pinned(cfg) {
		c.repairAP(ctx, ev)
		return
	}

	switch c.state {
	case StateClientSearching:
		if ev.Kind == monitor.KindLinkUp {
			c.connected(ev.SSID, ev.Known, ev.Observation.Signal)
			return
		}
		if c.retry != nil {
			// The pending retry keeps attempts spaced out.
			return
		}
		c.attemptClient(ctx, ev.Networks)

	case StateClientConnected:
		if ev.Kind == monitor.KindLinkUp {
			if ev.SSID != c.ssid {
				c.logger.Info("roamed", "from", c.ssid, "to", ev.SSID)
			}
			c.ssid, c.known, c.signal = ev.SSID, ev.Known, ev.Observation.Signal
			return
		}
		c.logger.Info("client link lost", "ssid", c.ssid)
		c.ssid, c.known, c.signal = "", false, 0
		c.failures = 0
		c.setState(StateClientSearching)
		c.attemptClient(ctx, ev.Networks)

	case StateAccessPoint:
		switch ev.Kind {
		case monitor.KindKnownNetworkInRange:
			if cfg.PrioritizeClients && c.apErr == nil {
				if n := c.refreshClients(ctx); n > 0 {
					c.logger.Info("known network in range, keeping access point for its clients", "ssid", ev.SSID, "clients", n)
					return
				}
			}
			c.logger.Info("known network in range, leaving access point mode", "ssid", ev.SSID)
			c.leaveAP(ctx)
			c.attemptClient(ctx, ev.Networks)
		case monitor.KindLinkUp:
			c.logger.Info("associated while in access point mode", "ssid", ev.SSID)
			c.apErr = nil
			c.connected(ev.SSID, ev.Known, ev.Observation.Signal)
		default:
			c.repairAP(ctx, ev)
		}
	}
}

// repairAP brings the access point back if the driver dropped it.
func (c *Controller) repairAP(ctx context.Context, ev monitor.Event) {
	if c.state != StateAccessPoint {
		c.enterAP(ctx)
		return
	}
	if ev.Err != nil || c.retry != nil {
		return
	}
	if ev.Observation.APActive {
		c.refreshClients(ctx)
		return
	}
	c.logger.Warn("access point is not active, reactivating")
	c.enterAP(ctx)
}

func (c *Controller) handleRetry(ctx context.Context) {
	kind := c.retryKind
	c.retryKind = retryNone
	cfg := c.store.Current()

	switch kind {
	case retryAP:
		if c.state == StateAccessPoint && c.apErr != nil {
			c.enterAP(ctx)
		}
	case retryClient:
		if c.state != StateClientSearching || c.pinned(cfg) {
			return
		}
		if obs, err := c.backend.CurrentLink(ctx); err != nil {
			c.recordError("current-link", err)
		} else if obs.Associated() {
			c.connected(obs.SSID, obs.Known, obs.Signal)
			return
		}
		nets, err := c.backend.ScanKnown(ctx)
		if err != nil {
			c.recordError("scan", err)
			nets = nil
		}
		wifi.SortNetworks(nets, cfg.PreferredNetworks)
		c.inRange = nets
		c.attemptClient(ctx, nets)
	}
}

// attemptClient makes one association attempt. Consecutive failures rotate
// through the candidates, best first. Once the retry limit is reached the
// controller falls back to the access point; otherwise another attempt is
// scheduled after the reconnect delay.
func (c *Controller) attemptClient(ctx context.Context, candidates []wifi.Network) {
	cfg := c.store.Current()
	if len(candidates) == 0 {
		c.failures++
		c.logger.Info("no known network in range", "failures", c.failures, "limit", cfg.RetryLimit())
	} else {
		target := candidates[c.failures%len(candidates)]
		c.setState(StateTransitioning)
		err := c.backend.ActivateClient(ctx, target.SSID)
		if err == nil {
			c.connected(target.SSID, true, target.Strength)
			return
		}
		c.failures++
		c.recordError("activate-client", err)
		c.setState(StateClientSearching)
		if ctx.Err() != nil {
			return
		}
	}
	c.metrics.SetFailureCount(c.failures)

	if c.failures >= cfg.RetryLimit() {
		c.logger.Warn("reconnect attempts exhausted, falling back to access point", "failures", c.failures)
		c.enterAP(ctx)
		return
	}
	c.scheduleRetry(retryClient, cfg.RetryDelay())
}

func (c *Controller) connected(ssid string, known bool, signal uint8) {
	c.cancelRetry()
	c.failures = 0
	c.ssid, c.known, c.signal = ssid, known, signal
	c.lastConnected = c.clock.Now()
	c.metrics.SetFailureCount(0)
	c.metrics.SetLastConnected(c.lastConnected)
	c.setState(StateClientConnected)
	c.logger.Info("connected", "ssid", ssid)
}

func (c *Controller) enterAP(ctx context.Context) {
	cfg := c.store.Current()
	c.cancelRetry()
	c.setState(StateTransitioning)

	if n, err := c.backend.PurgeStaleProfiles(ctx, cfg.StaleProfilePatterns()...); err != nil {
		c.recordError("purge-profiles", err)
	} else if n > 0 {
		c.logger.Info("removed stale access point profiles", "count", n)
	}

	ap := cfg.AccessPoint()
	if err := c.backend.ActivateAP(ctx, ap); err != nil {
		c.failures++
		c.apErr = err
		c.recordError("activate-ap", err)
		c.setState(StateAccessPoint)
		if ctx.Err() == nil {
			c.scheduleRetry(retryAP, max(cfg.RetryDelay(), minAPRetryDelay))
		}
		return
	}

	c.apErr = nil
	c.failures = 0
	c.ssid, c.known, c.signal = "", false, 0
	c.apClients = 0
	c.metrics.SetFailureCount(0)
	c.metrics.SetAPClients(0)
	c.setState(StateAccessPoint)
	c.logger.Info("access point active", "ssid", ap.SSID, "address", ap.Address, "open", ap.Open())
}

func (c *Controller) leaveAP(ctx context.Context) {
	c.cancelRetry()
	c.setState(StateTransitioning)
	if err := c.backend.DeactivateAP(ctx); err != nil {
		c.recordError("deactivate-ap", err)
	}
	c.apErr = nil
	c.apClients = 0
	c.failures = 0
	c.metrics.SetAPClients(0)
	c.setState(StateClientSearching)
}

func (c *Controller) refreshClients(ctx context.Context) int {
	n, err := c.backend.ConnectedClientCount(ctx)
	if err != nil {
		c.recordError("client-count", err)
		return c.apClients
	}
	c.apClients = n
	c.metrics.SetAPClients(n)
	return n
}

func (c *Controller) handleCommand(ctx context.Context, cmd Command) error {
	cfg := c.store.Current()
	switch cmd {
	case CommandForceAP:
		c.override = OverrideForceAP
		if c.state == StateAccessPoint && c.apErr == nil {
			c.logger.Info("access point already active")
			return nil
		}
		c.logger.Info("forcing access point mode")
		c.enterAP(ctx)
		return nil

	case CommandForceClient:
		if cfg.ForceAPMode {
			return ErrPinned
		}
		c.logger.Info("forcing client mode")
		c.override = OverrideForceClient
		switch c.state {
		case StateAccessPoint:
			c.leaveAP(ctx)
		default:
			c.cancelRetry()
			c.failures = 0
		}
		c.metrics.SetFailureCount(0)
		c.recheck()
		return nil

	case CommandReload:
		return c.reload(ctx)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

func (c *Controller) reload(ctx context.Context) error {
	prev := c.store.Current()
	next, err := c.store.Reload()
	if err != nil {
		c.metrics.RecordReload(false)
		c.logger.Error("configuration reload rejected", "path", c.store.Path(), "error", err)
		return err
	}
	c.metrics.RecordReload(true)
	c.logger.Info("configuration reloaded", "path", c.store.Path())
	if c.onReload != nil {
		c.onReload(next)
	}

	switch {
	case next.ForceAPMode && c.state != StateAccessPoint:
		c.enterAP(ctx)
	case c.state == StateAccessPoint && next.AccessPoint() != prev.AccessPoint():
		c.logger.Info("access point settings changed, restarting access point")
		c.enterAP(ctx)
	}
	c.recheck()
	return nil
}

func (c *Controller) shutdown() error {
	c.cancelRetry()
	if c.state != StateAccessPoint {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	c.logger.Info("shutting down, tearing down access point")
	c.setState(StateTransitioning)
	err := c.backend.DeactivateAP(ctx)
	c.apErr = nil
	c.setState(StateClientSearching)
	if err != nil {
		c.recordError("deactivate-ap", err)
		return fmt.Errorf("tearing down access point: %w", err)
	}
	return nil
}

func (c *Controller) scheduleRetry(kind retryKind, d time.Duration) {
	c.logger.Debug("retry scheduled", "in", d, "failures", c.failures)
	c.retryKind = kind
	c.retry = c.clock.After(d)
}

func (c *Controller) cancelRetry() {
	c.retry = nil
	c.retryKind = retryNone
}

// setState records a mode change. Transitions are counted between stable
// states only.
func (c *Controller) setState(next State) {
	c.state = next
	if !next.Stable() {
		c.metrics.SetMode(string(next))
		c.publish()
		return
	}
	if next == c.stable {
		c.metrics.SetMode(string(next))
		return
	}
	c.logger.Info("mode changed", "from", c.stable, "to", next, "failures", c.failures)
	c.metrics.RecordTransition(string(c.stable), string(next))
	c.stable = next
	c.lastTransition = c.clock.Now()
}

func (c *Controller) recordError(op string, err error) {
	c.metrics.RecordBackendError(op, wifi.KindOf(err))
	c.logger.Warn("backend operation failed", "op", op, "error", err, "failures", c.failures)
}

func (c *Controller) publish() {
	cfg := c.store.Current()
	s := Status{
		State:          c.state,
		SSID:           c.ssid,
		KnownNetwork:   c.known,
		Signal:         c.signal,
		InRange:        c.inRange,
		APSSID:         cfg.APSSID,
		APAddress:      cfg.APIPAddress,
		APClients:      c.apClients,
		FailureCount:   c.failures,
		Override:       c.override,
		ForceAPMode:    cfg.ForceAPMode,
		Debug:          cfg.DebugMode || log.Debugging(),
		Degraded:       c.apErr != nil,
		LastTransition: c.lastTransition,
		LastConnected:  c.lastConnected,
		UpdatedAt:      c.clock.Now(),
	}
	if c.apErr != nil {
		s.Error = c.apErr.Error()
	}
	c.metrics.SetDegraded(s.Degraded)

	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}
