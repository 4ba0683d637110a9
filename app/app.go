// Package app runs a sensor node: one loop goroutine owns the network link
// and the client.Node, drives both once per tick and takes a sample every
// SampleInterval. Console commands from other goroutines are handed to the
// loop and run between ticks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbocsi/botanynet/broker"
	"github.com/mbocsi/botanynet/client"
	"github.com/mbocsi/botanynet/netlink"
	"github.com/mbocsi/botanynet/proto"
	"github.com/mbocsi/botanynet/sensor"
	"github.com/mbocsi/botanynet/store"
	"github.com/mbocsi/botanynet/telemetry"
)

const (
	DefaultTick           = 100 * time.Millisecond
	DefaultSampleInterval = 600 * time.Second
)

var (
	ErrStopped   = errors.New("node loop is not running")
	ErrNoJournal = errors.New("journal is disabled")
)

// Link is the network link as the loop drives it.
type Link interface {
	client.NetworkLink
	Connect() error
	Service(now time.Time)
	Info() netlink.Info
	Shutdown() error
}

// Channel pairs a published sensor with the probe that reads it.
type Channel struct {
	Sensor proto.Sensor
	Probe  sensor.Probe
}

type Config struct {
	Tick           time.Duration // default DefaultTick
	SampleInterval time.Duration // default DefaultSampleInterval
	StartupDelay   time.Duration // before the first sample
	Logger         *slog.Logger
}

// Readings is one sample of every channel.
type Readings struct {
	At      time.Time          `json:"at"`
	Values  map[string]float32 `json:"values"`
	Status  uint8              `json:"status"`
	Battery uint8              `json:"battery"`
}

type App struct {
	Node    *client.Node
	Link    Link
	Clock   client.Clock
	Broker  *broker.Broker
	Journal *store.Journal // optional

	Channels []Channel
	Battery  sensor.Probe // optional, fraction of full charge

	cfg    Config
	logger *slog.Logger
	ops    chan func()
	done   chan struct{}

	nextSample time.Time
	pending    *Readings // sampled, not yet handed to the node
	last       *Readings
}

func NewApp(cfg Config, node *client.Node, link Link, clock client.Clock, b *broker.Broker) *App {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &App{
		Node:   node,
		Link:   link,
		Clock:  clock,
		Broker: b,
		cfg:    cfg,
		logger: cfg.Logger,
		ops:    make(chan func()),
		done:   make(chan struct{}),
	}
}

func (a *App) AddChannel(s proto.Sensor, p sensor.Probe) {
	a.Channels = append(a.Channels, Channel{Sensor: s, Probe: p})
}

// Start runs the loop until ctx is cancelled, then disconnects from the
// broker and shuts the link down.
func (a *App) Start(ctx context.Context) error {
	defer close(a.done)

	if err := a.Link.Connect(); err != nil {
		return fmt.Errorf("start link: %w", err)
	}
	a.logger.Info("Node started",
		"node", a.Node.NodeID(),
		"tick", a.cfg.Tick,
		"sample_interval", a.cfg.SampleInterval,
		"startup_delay", a.cfg.StartupDelay,
	)

	ticker := time.NewTicker(a.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Shutting down node")
			a.Node.Disconnect()
			if err := a.Link.Shutdown(); err != nil {
				a.logger.Warn("Failed to shut down link", "error", err)
			}
			return nil
		case op := <-a.ops:
			op()
		case now := <-ticker.C:
			a.Tick(now)
		}
	}
}

// Tick services the link and the node once, then samples when due and hands
// pending readings to the node once it is connected.
func (a *App) Tick(now time.Time) {
	a.Link.Service(now)
	a.Node.Service(now)

	if a.nextSample.IsZero() {
		a.nextSample = now.Add(a.cfg.StartupDelay)
	}
	if !now.Before(a.nextSample) {
		a.sample(now)
	}
	if a.pending != nil && a.Node.IsConnected() {
		a.flush()
	}
}

func (a *App) sample(now time.Time) Readings {
	// Readings that never went out are sent now so the node reports them
	// as dropped; they are not carried past the next sample.
	if a.pending != nil {
		a.flush()
	}
	a.nextSample = now.Add(a.cfg.SampleInterval)

	r := Readings{At: now, Values: make(map[string]float32, len(a.Channels)), Status: proto.StatusOK}
	for _, ch := range a.Channels {
		v, err := ch.Probe.Sample()
		if err != nil {
			a.logger.Warn("Failed to read sensor", "sensor", ch.Sensor.Name, "error", err)
			r.Status = proto.StatusSensorError
			continue
		}
		if r.Status == proto.StatusOK && !ch.Sensor.InRange(float64(v)) {
			r.Status = proto.StatusOutOfRange
		}
		r.Values[ch.Sensor.Name] = v
		telemetry.SensorReading.WithLabelValues(ch.Sensor.Name).Set(float64(v))
	}
	if a.Battery != nil {
		if v, err := a.Battery.Sample(); err != nil {
			a.logger.Warn("Failed to read battery", "error", err)
		} else {
			r.Battery = batteryPercent(v)
		}
	}
	a.logger.Debug("Sampled sensors", "values", r.Values, "status", r.Status, "battery", r.Battery)

	a.recordReadings(r)
	a.Node.SetDiagnostic(r.Status, r.Battery)
	a.pending = &r
	a.last = &r

	if !a.Node.IsConnected() {
		a.Node.RequestConnection()
	}
	return r
}

func (a *App) flush() {
	r := a.pending
	a.pending = nil
	for _, ch := range a.Channels {
		v, ok := r.Values[ch.Sensor.Name]
		if !ok {
			continue
		}
		if err := a.Node.SendFloat(ch.Sensor.Name, v); err != nil {
			a.logger.Warn("Failed to send reading", "sensor", ch.Sensor.Name, "error", err)
		}
	}
}

func (a *App) recordReadings(r Readings) {
	if a.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	for name, v := range r.Values {
		err := a.Journal.RecordReading(ctx, store.Reading{At: r.At, Sensor: name, Value: float64(v), Status: r.Status})
		if err != nil {
			a.logger.Warn("Failed to record reading", "sensor", name, "error", err)
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (a *App) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case a.ops <- op:
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func batteryPercent(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 100
	default:
		return uint8(v*100 + 0.5)
	}
}
