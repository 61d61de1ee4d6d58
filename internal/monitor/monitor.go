// Package monitor samples the wireless link on a schedule and turns each
// sample into a single event for the controller.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shazow/wipi/internal/clock"
	"github.com/shazow/wipi/internal/config"
	"github.com/shazow/wipi/wifi"
)

// Kind is the type of an Event.
type Kind string

const (
	KindLinkUp              Kind = "link-up"
	KindLinkDown            Kind = "link-down"
	KindKnownNetworkInRange Kind = "known-network-in-range"
)

// Situation describes what a sample saw.
type Situation string

const (
	SituationConnectedKnown   Situation = "connected-known"
	SituationConnectedUnknown Situation = "connected-unknown"
	SituationDisconnected     Situation = "disconnected"
	SituationScanning         Situation = "scanning"
	SituationAccessPoint      Situation = "access-point"
)

// Event is the outcome of one sample.
type Event struct {
	Kind      Kind
	Situation Situation
	// SSID is the associated network for LinkUp and the best candidate for
	// KnownNetworkInRange.
	SSID  string
	Known bool
	// Networks are the known networks in range, best first.
	Networks    []wifi.Network
	Observation wifi.LinkObservation
	// Err is set when the backend could not be fully sampled.
	Err error
	At  time.Time
}

// Classify turns an observation and the known networks in range into an event.
func Classify(obs wifi.LinkObservation, inRange []wifi.Network, preferred []string) Event {
	nets := wifi.Dedupe(append([]wifi.Network(nil), inRange...))
	wifi.SortNetworks(nets, preferred)
	ev := Event{Networks: nets, Observation: obs}

	switch {
	case obs.Associated():
		ev.Kind = KindLinkUp
		ev.SSID = obs.SSID
		ev.Known = obs.Known
		ev.Situation = SituationConnectedUnknown
		if obs.Known {
			ev.Situation = SituationConnectedKnown
		}
	case len(nets) > 0:
		ev.Kind = KindKnownNetworkInRange
		ev.SSID = nets[0].SSID
		ev.Situation = SituationScanning
	default:
		ev.Kind = KindLinkDown
		ev.Situation = SituationDisconnected
	}
	if obs.APActive {
		ev.Situation = SituationAccessPoint
	}
	return ev
}

// Monitor polls a backend every check_interval, or sooner when asked.
type Monitor struct {
	backend wifi.Backend
	config  func() *config.Config
	events  chan Event
	recheck chan struct{}
	clock   clock.Clock
	logger  *slog.Logger

	mu   sync.Mutex
	last Event
}

// New creates a monitor that delivers events on events, which must be
// buffered. Delivery never blocks: an undelivered event is replaced by the
// newer one.
func New(backend wifi.Backend, current func() *config.Config, events chan Event, clk clock.Clock, logger *slog.Logger) *Monitor {
	return &Monitor{
		backend: backend,
		config:  current,
		events:  events,
		recheck: make(chan struct{}, 1),
		clock:   clk,
		logger:  logger,
	}
}

// Recheck requests a sample as soon as possible.
func (m *Monitor) Recheck() {
	select {
	case m.recheck <- struct{}{}:
	default:
	}
}

// Last returns the most recent event.
func (m *Monitor) Last() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Run samples immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.config().Interval()
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	m.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-m.recheck:
		}
		m.Sample(ctx)

		if next := m.config().Interval(); next != interval {
			m.logger.Debug("check interval changed", "from", interval, "to", next)
			interval = next
			ticker.Reset(interval)
		}
	}
}

// Sample observes the link once and publishes the resulting event.
func (m *Monitor) Sample(ctx context.Context) Event {
	cfg := m.config()

	obs, err := m.backend.CurrentLink(ctx)
	if err != nil {
		m.logger.Warn("reading link state failed", "error", err)
		ev := Event{Kind: KindLinkDown, Situation: SituationDisconnected, Err: err, At: m.clock.Now()}
		m.publish(ev)
		return ev
	}

	// Scanning disturbs an established client link, so only scan when
	// looking for one or when serving as the access point.
	inRange := obs.InRange
	var scanErr error
	if !obs.Associated() {
		nets, err := m.backend.ScanKnown(ctx)
		if err != nil {
			m.logger.Warn("scan failed", "error", err)
			scanErr = err
		} else {
			inRange = nets
			obs.InRange = nets
		}
	}

	ev := Classify(obs, inRange, cfg.PreferredNetworks)
	ev.Err = scanErr
	ev.At = m.clock.Now()
	m.logger.Debug("sampled link", "event", ev.Kind, "situation", ev.Situation, "ssid", ev.SSID, "in_range", wifi.SSIDs(ev.Networks))
	m.publish(ev)
	return ev
}

func (m *Monitor) publish(ev Event) {
	m.mu.Lock()
	m.last = ev
	m.mu.Unlock()

	for {
		select {
		case m.events <- ev:
			return
		default:
		}
		// Drop the stale event the controller has not picked up yet.
		select {
		case <-m.events:
		default:
		}
	}
}
