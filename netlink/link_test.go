package netlink

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"
)

// mockRadio is a simple mock for testing
type mockRadio struct {
	mu        sync.Mutex
	status    Status
	began     bool
	lowPower  *bool
	ended     bool
	reason    int
	localAddr netip.Addr
}

func (m *mockRadio) Begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.began = true
	return nil
}

func (m *mockRadio) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockRadio) setStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

func (m *mockRadio) LocalAddr() netip.Addr { return m.localAddr }
func (m *mockRadio) ReasonCode() int       { return m.reason }

func (m *mockRadio) SetLowPower(enabled bool) error {
	m.lowPower = &enabled
	return nil
}

func (m *mockRadio) End() error {
	m.ended = true
	return nil
}

// gatedResolver answers each lookup only when the test releases it.
type gatedResolver struct {
	mu      sync.Mutex
	answers map[string]chan netip.Addr
	calls   []string
}

func newGatedResolver() *gatedResolver {
	return &gatedResolver{answers: make(map[string]chan netip.Addr)}
}

func (g *gatedResolver) ch(hostname string) chan netip.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.answers[hostname]
	if !ok {
		c = make(chan netip.Addr, 1)
		g.answers[hostname] = c
	}
	return c
}

func (g *gatedResolver) Resolve(ctx context.Context, hostname string) (netip.Addr, error) {
	g.mu.Lock()
	g.calls = append(g.calls, hostname)
	g.mu.Unlock()

	select {
	case addr := <-g.ch(hostname):
		if !addr.IsValid() {
			return netip.Addr{}, ErrNotFound
		}
		return addr, nil
	case <-ctx.Done():
		return netip.Addr{}, timeoutErr(ctx, ctx.Err())
	}
}

func (g *gatedResolver) answer(hostname string, addr netip.Addr) {
	g.ch(hostname) <- addr
}

func newTestLink(t *testing.T, r Resolver) (*Link, *mockRadio) {
	t.Helper()
	radio := &mockRadio{status: StatusConnected, localAddr: netip.MustParseAddr("10.0.0.2")}
	link := NewLink(radio, Config{Local: r, Global: r, ResolveTimeout: time.Second, Logger: slog.Default()})
	link.Service(time.Now()) // bring resolvers up
	return link, radio
}

// serviceUntil ticks the link until cond holds or the deadline passes.
func serviceUntil(t *testing.T, link *Link, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		link.Service(time.Now())
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestLink_StatusMaskedUntilReady(t *testing.T) {
	radio := &mockRadio{status: StatusConnected}
	link := NewLink(radio, Config{Local: newGatedResolver(), LowPower: true})

	if got := link.Status(); got != StatusIdle {
		t.Errorf("Status() before Service = %v, want %v", got, StatusIdle)
	}
	link.Service(time.Now())
	if got := link.Status(); got != StatusConnected {
		t.Errorf("Status() after Service = %v, want %v", got, StatusConnected)
	}
	if radio.lowPower == nil || !*radio.lowPower {
		t.Error("expected low power mode to be applied on link up")
	}
}

func TestLink_StartResolvingErrors(t *testing.T) {
	radio := &mockRadio{status: StatusDisconnected}
	link := NewLink(radio, Config{Local: newGatedResolver()})

	if err := link.StartResolving("", true); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty hostname error = %v, want ErrInvalidArgument", err)
	}
	long := make([]byte, MaxHostNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := link.StartResolving(string(long), true); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("long hostname error = %v, want ErrInvalidArgument", err)
	}
	if err := link.StartResolving("botnet", true); !errors.Is(err, ErrInvalidState) {
		t.Errorf("link down error = %v, want ErrInvalidState", err)
	}

	radio.setStatus(StatusConnected)
	link.Service(time.Now())
	if err := link.StartResolving("botnet", false); !errors.Is(err, ErrInvalidState) {
		t.Errorf("missing global resolver error = %v, want ErrInvalidState", err)
	}
}

func TestLink_ResolveAndLookup(t *testing.T) {
	r := newGatedResolver()
	link, _ := newTestLink(t, r)

	if err := link.StartResolving("botnet", true); err != nil {
		t.Fatalf("StartResolving() error = %v", err)
	}
	if _, ok := link.Lookup("botnet"); ok {
		t.Fatal("Lookup() found a record before the resolver answered")
	}

	want := netip.MustParseAddr("10.0.0.5")
	r.answer("botnet", want)
	serviceUntil(t, link, func() bool { _, ok := link.Lookup("botnet"); return ok })

	got, _ := link.Lookup("botnet")
	if got != want {
		t.Errorf("Lookup() = %v, want %v", got, want)
	}
	if _, ok := link.Lookup("botne"); ok {
		t.Error("Lookup() matched a prefix of the cached hostname")
	}
	if _, ok := link.Lookup("botnet2"); ok {
		t.Error("Lookup() matched a different hostname")
	}
}

func TestLink_StaleResultIgnored(t *testing.T) {
	r := newGatedResolver()
	link, _ := newTestLink(t, r)

	if err := link.StartResolving("alpha", true); err != nil {
		t.Fatalf("StartResolving(alpha) error = %v", err)
	}
	if err := link.StartResolving("beta", true); err != nil {
		t.Fatalf("StartResolving(beta) error = %v", err)
	}

	// alpha's lookup was cancelled; even if an answer shows up it must not land.
	r.answer("alpha", netip.MustParseAddr("10.0.0.1"))
	for i := 0; i < 10; i++ {
		link.Service(time.Now())
		time.Sleep(time.Millisecond)
	}
	if _, ok := link.Lookup("alpha"); ok {
		t.Error("stale result for alpha was adopted")
	}
	if _, ok := link.Lookup("beta"); ok {
		t.Error("beta resolved without an answer")
	}

	r.answer("beta", netip.MustParseAddr("10.0.0.2"))
	serviceUntil(t, link, func() bool { _, ok := link.Lookup("beta"); return ok })
}

func TestLink_FailedLookup(t *testing.T) {
	r := newGatedResolver()
	link, _ := newTestLink(t, r)

	if err := link.StartResolving("botnet", true); err != nil {
		t.Fatalf("StartResolving() error = %v", err)
	}
	r.answer("botnet", netip.Addr{})
	serviceUntil(t, link, func() bool { return link.Failed("botnet") })

	if !errors.Is(link.LastError(), ErrNotFound) {
		t.Errorf("LastError() = %v, want ErrNotFound", link.LastError())
	}
	if link.Failed("other") {
		t.Error("Failed() reported an unrelated hostname")
	}

	// A new attempt clears the failure.
	if err := link.StartResolving("botnet", true); err != nil {
		t.Fatalf("StartResolving() error = %v", err)
	}
	if link.Failed("botnet") {
		t.Error("Failed() still true after restarting the lookup")
	}
}

func TestLink_Timeout(t *testing.T) {
	r := newGatedResolver()
	radio := &mockRadio{status: StatusConnected}
	link := NewLink(radio, Config{Local: r, ResolveTimeout: 10 * time.Millisecond})
	link.Service(time.Now())

	if err := link.StartResolving("botnet", true); err != nil {
		t.Fatalf("StartResolving() error = %v", err)
	}
	serviceUntil(t, link, func() bool { return link.Failed("botnet") })
	if !errors.Is(link.LastError(), ErrResolveTimeout) {
		t.Errorf("LastError() = %v, want ErrResolveTimeout", link.LastError())
	}
}

func TestLink_LiteralAddress(t *testing.T) {
	link, _ := newTestLink(t, newGatedResolver())

	if err := link.StartResolving("192.168.1.20", false); err != nil {
		t.Fatalf("StartResolving() error = %v", err)
	}
	link.Service(time.Now())
	got, ok := link.Lookup("192.168.1.20")
	if !ok || got != netip.MustParseAddr("192.168.1.20") {
		t.Errorf("Lookup() = %v, %v; want 192.168.1.20, true", got, ok)
	}
}

func TestLink_LinkLossClearsRecord(t *testing.T) {
	link, radio := newTestLink(t, newGatedResolver())

	if err := link.StartResolving("10.0.0.5", true); err != nil {
		t.Fatalf("StartResolving() error = %v", err)
	}
	link.Service(time.Now())
	if _, ok := link.Lookup("10.0.0.5"); !ok {
		t.Fatal("expected record before link loss")
	}

	radio.setStatus(StatusConnectionLost)
	link.Service(time.Now())

	if _, ok := link.Lookup("10.0.0.5"); ok {
		t.Error("record survived link loss")
	}
	if !link.Failed("10.0.0.5") {
		t.Error("in-progress hostname should read as failed after link loss")
	}
	if got := link.Status(); got != StatusConnectionLost {
		t.Errorf("Status() = %v, want %v", got, StatusConnectionLost)
	}
}

func TestLink_Shutdown(t *testing.T) {
	link, radio := newTestLink(t, newGatedResolver())
	if err := link.StartResolving("botnet", true); err != nil {
		t.Fatalf("StartResolving() error = %v", err)
	}
	if err := link.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !radio.ended {
		t.Error("radio was not ended")
	}
	if info := link.Info(); info.Ready || info.Resolving != "" {
		t.Errorf("Info() after shutdown = %+v", info)
	}
}

func TestStatus_String(t *testing.T) {
	if got := StatusConnected.String(); got != "WL_CONNECTED" {
		t.Errorf("StatusConnected.String() = %q", got)
	}
	if got := Status(42).String(); got != "(unknown status)" {
		t.Errorf("Status(42).String() = %q", got)
	}
}
