package app

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/botanynet/broker"
	"github.com/mbocsi/botanynet/client"
	"github.com/mbocsi/botanynet/netlink"
	"github.com/mbocsi/botanynet/proto"
	"github.com/mbocsi/botanynet/sensor"
	"github.com/mbocsi/botanynet/store"
	"github.com/mbocsi/botanynet/transport"
)

type fakeRadio struct {
	mu     sync.Mutex
	status netlink.Status
	ended  bool
}

func (r *fakeRadio) Begin() error { return nil }

func (r *fakeRadio) Status() netlink.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *fakeRadio) LocalAddr() netip.Addr          { return netip.MustParseAddr("10.0.0.2") }
func (r *fakeRadio) ReasonCode() int                { return 0 }
func (r *fakeRadio) SetLowPower(enabled bool) error { return nil }

func (r *fakeRadio) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = true
	return nil
}

type fixedProbe struct {
	v   float32
	err error
}

func (p fixedProbe) Sample() (float32, error) { return p.v, p.err }

type fixedClock uint64

func (c fixedClock) UptimeSeconds() uint64 { return uint64(c) }

type harness struct {
	app     *App
	radio   *fakeRadio
	tr      *transport.Loopback
	journal *store.Journal
	bus     *broker.Broker
	stream  chan proto.Message
}

func newHarness(t *testing.T, cfg Config, status netlink.Status) *harness {
	t.Helper()

	j, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })

	bus := broker.NewBroker(nil)
	stream := make(chan proto.Message, 16)
	bus.Subscribe(broker.AllTopics, stream)

	radio := &fakeRadio{status: status}
	link := netlink.NewLink(radio, netlink.Config{
		Global: netlink.ResolverFunc(func(ctx context.Context, host string) (netip.Addr, error) {
			return netip.Addr{}, netlink.ErrNotFound
		}),
	})
	tr := transport.NewLoopback("botnode-7-test", nil)
	node, err := client.New(client.Config{
		NodeID:   7,
		Broker:   "10.0.0.5",
		Observer: &ChirpRecorder{Sender: "botnode-7-test", Journal: j, Broker: bus},
	}, link, tr, fixedClock(42))
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	a := NewApp(cfg, node, link, fixedClock(42), bus)
	a.Journal = j
	a.AddChannel(proto.HumiditySensor, fixedProbe{v: 0.5})
	a.AddChannel(proto.TemperatureSensor, fixedProbe{v: 21.25})
	a.Battery = fixedProbe{v: 0.8}

	return &harness{app: a, radio: radio, tr: tr, journal: j, bus: bus, stream: stream}
}

func TestApp_SampleAndSend(t *testing.T) {
	h := newHarness(t, Config{SampleInterval: time.Minute}, netlink.StatusConnected)

	t0 := time.Unix(1000, 0)
	// Link comes up and resolution starts, the literal address is applied,
	// then the node connects and the pending readings go out.
	for i := 0; i < 3; i++ {
		h.app.Tick(t0.Add(time.Duration(i) * 100 * time.Millisecond))
	}

	if !h.app.Node.IsConnected() {
		t.Fatalf("node state = %v, want connected", h.app.Node.State())
	}
	if got := h.tr.Published(); got != 2 {
		t.Fatalf("Published() = %d, want 2", got)
	}

	want := map[string]string{"btnt/humidity": "0.50", "btnt/tempc": "21.25"}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-h.stream:
			c, err := msg.Chirp()
			if err != nil {
				t.Fatalf("Chirp() error = %v", err)
			}
			if c.Data != want[msg.Topic] {
				t.Errorf("%s data = %q, want %q", msg.Topic, c.Data, want[msg.Topic])
			}
			if c.Node != 7 || c.Diagnostic.Battery != 80 || c.Diagnostic.UptimeSec != 42 {
				t.Errorf("%s chirp = %+v", msg.Topic, c)
			}
		case <-time.After(time.Second):
			t.Fatal("no chirp on the broker")
		}
	}

	sent, err := h.journal.Recent(context.Background(), 10, store.StatusSent)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(sent) != 2 {
		t.Errorf("journal has %d sent chirps, want 2", len(sent))
	}

	readings, err := h.journal.Readings(context.Background(), "humidity", time.Time{})
	if err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	if len(readings) != 1 || readings[0].Value != 0.5 {
		t.Errorf("humidity readings = %+v", readings)
	}

	// Nothing is due until the interval passes.
	h.app.Tick(t0.Add(30 * time.Second))
	if got := h.tr.Published(); got != 2 {
		t.Errorf("Published() before next sample = %d, want 2", got)
	}
	h.app.Tick(t0.Add(time.Minute))
	if got := h.tr.Published(); got != 4 {
		t.Errorf("Published() after next sample = %d, want 4", got)
	}
}

func TestApp_UnsentReadingsDropped(t *testing.T) {
	h := newHarness(t, Config{SampleInterval: time.Second}, netlink.StatusIdle)

	t0 := time.Unix(1000, 0)
	h.app.Tick(t0)
	if h.app.pending == nil {
		t.Fatal("first tick should leave readings pending")
	}
	if h.app.Node.State() != client.StateIdle {
		t.Errorf("state = %v, want idle while the radio is down", h.app.Node.State())
	}

	h.app.Tick(t0.Add(time.Second))

	dropped, err := h.journal.Recent(context.Background(), 10, store.StatusDropped)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(dropped) != 2 {
		t.Fatalf("journal has %d dropped chirps, want 2", len(dropped))
	}
	for _, e := range dropped {
		if e.Reason != "not_connected" {
			t.Errorf("dropped %s reason = %q, want not_connected", e.Topic, e.Reason)
		}
	}
	if h.tr.Published() != 0 {
		t.Errorf("Published() = %d, want 0", h.tr.Published())
	}
}

func TestApp_DiagnosticStatus(t *testing.T) {
	tests := []struct {
		name     string
		humidity fixedProbe
		temp     fixedProbe
		want     uint8
		values   int
	}{
		{"ok", fixedProbe{v: 0.4}, fixedProbe{v: 20}, proto.StatusOK, 2},
		{"out of range", fixedProbe{v: 1.5}, fixedProbe{v: 20}, proto.StatusOutOfRange, 2},
		{"sensor error", fixedProbe{v: 1.5}, fixedProbe{err: errors.New("adc timeout")}, proto.StatusSensorError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, netlink.StatusIdle)
			h.app.Channels = nil
			h.app.AddChannel(proto.HumiditySensor, tt.humidity)
			h.app.AddChannel(proto.TemperatureSensor, tt.temp)

			r := h.app.sample(time.Unix(1000, 0))
			if r.Status != tt.want {
				t.Errorf("Status = %d, want %d", r.Status, tt.want)
			}
			if len(r.Values) != tt.values {
				t.Errorf("Values = %v, want %d entries", r.Values, tt.values)
			}
		})
	}
}

func TestApp_Console(t *testing.T) {
	h := newHarness(t, Config{Tick: 5 * time.Millisecond, StartupDelay: time.Hour}, netlink.StatusConnected)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan error, 1)
	go func() { stopped <- h.app.Start(ctx) }()

	if err := h.app.Send(ctx, "note", "hello"); !errors.Is(err, client.ErrNotConnected) {
		t.Errorf("Send() before connecting error = %v, want ErrNotConnected", err)
	}
	if err := h.app.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool {
		s, err := h.app.Status(ctx)
		return err == nil && s.Connected
	})

	if err := h.app.Send(ctx, "note", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := h.app.Send(ctx, "a/b#", "x"); !errors.Is(err, client.ErrInvalidArgument) {
		t.Errorf("Send(wildcard) error = %v, want ErrInvalidArgument", err)
	}

	s, err := h.app.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if s.NodeID != 7 || s.Broker != "10.0.0.5" || s.Address != "10.0.0.5" || s.State != "connected" {
		t.Errorf("Status() = %+v", s)
	}
	if s.Journal == nil || s.Journal.Sent != 1 || s.Journal.Dropped != 2 {
		t.Errorf("Status().Journal = %+v, want 1 sent, 2 dropped", s.Journal)
	}
	if !s.Link.Ready {
		t.Errorf("Status().Link = %+v, want ready", s.Link)
	}

	r, err := h.app.Sample(ctx)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if r.Values["humidity"] != 0.5 {
		t.Errorf("Sample() = %+v", r)
	}
	waitFor(t, func() bool {
		sum, err := h.journal.Summary(ctx)
		return err == nil && sum.Sent == 3
	})

	history, err := h.app.History(ctx, 1, "")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Topic != "btnt/tempc" {
		t.Errorf("History() = %+v", history)
	}

	if err := h.app.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if h.tr.Connected() {
		t.Error("transport still connected after Disconnect")
	}

	cancel()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return")
	}
	if !h.radio.ended {
		t.Error("radio not ended on shutdown")
	}
	if _, err := h.app.Status(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Status() after stop error = %v, want ErrStopped", err)
	}
}

func TestApp_NoJournal(t *testing.T) {
	h := newHarness(t, Config{}, netlink.StatusIdle)
	h.app.Journal = nil

	if _, err := h.app.History(context.Background(), 10, ""); !errors.Is(err, ErrNoJournal) {
		t.Errorf("History() error = %v, want ErrNoJournal", err)
	}
	if _, err := h.app.SensorHistory(context.Background(), "humidity", time.Time{}); !errors.Is(err, ErrNoJournal) {
		t.Errorf("SensorHistory() error = %v, want ErrNoJournal", err)
	}
}

func TestChirpRecorder_NilDestinations(t *testing.T) {
	var r ChirpRecorder
	r.ChirpSent("btnt/humidity", []byte(`{}`))
	r.ChirpDropped("humidity", "", client.ErrNotConnected)
}

func TestBatteryPercent(t *testing.T) {
	tests := []struct {
		in   float32
		want uint8
	}{
		{-0.2, 0},
		{0, 0},
		{0.504, 50},
		{0.996, 100},
		{1.3, 100},
	}
	for _, tt := range tests {
		if got := batteryPercent(tt.in); got != tt.want {
			t.Errorf("batteryPercent(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

var _ sensor.Probe = fixedProbe{}
