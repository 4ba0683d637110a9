// Package netlink owns the node's network link: the radio, hostname
// resolution and the single cached "last resolved name" record.
//
// Resolution is asynchronous. StartResolving hands the lookup to a resolver
// goroutine bounded by a timeout; the result is parked in a one-slot mailbox
// and applied to the record by the next Service call. Starting a new lookup
// cancels the previous one and bumps a generation counter, so a late result
// for an older hostname is discarded instead of overwriting the record.
package netlink

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

// MaxHostNameLen bounds hostnames accepted by StartResolving.
const MaxHostNameLen = 64

type Config struct {
	// Local resolves names on the local link (mDNS). Global resolves
	// through DNS. Either may be nil if the node never needs it.
	Local  Resolver
	Global Resolver

	ResolveTimeout time.Duration // default DefaultResolveTimeout
	LowPower       bool
	Logger         *slog.Logger
}

// record is the single-slot resolution cache.
type record struct {
	hostname string
	addr     netip.Addr
}

type result struct {
	gen      uint64
	hostname string
	addr     netip.Addr
	err      error
}

// Info is a snapshot of the link for diagnostics.
type Info struct {
	Status      string `json:"status"`
	RadioStatus string `json:"radio_status"`
	Ready       bool   `json:"ready"`
	LocalAddr   string `json:"local_addr,omitempty"`
	Resolving   string `json:"resolving,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
	Address     string `json:"address,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

type Link struct {
	radio  Radio
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	ready      bool // resolvers usable, radio associated
	record     record
	target     string
	gen        uint64
	inFlight   bool
	cancel     context.CancelFunc
	pending    *result
	failed     string // hostname whose latest lookup ended without an address
	lastErr    error
	lastReason int
}

func NewLink(radio Radio, cfg Config) *Link {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Link{radio: radio, cfg: cfg, logger: cfg.Logger}
}

// Connect starts associating the radio. Progress is observed through Status
// and driven by Service.
func (l *Link) Connect() error {
	if err := l.radio.Begin(); err != nil {
		return fmt.Errorf("link connect: %w", err)
	}
	return nil
}

// Status reports the radio status, except that an associated radio reads as
// idle until the resolvers are running: callers treat name resolution as
// part of being connected.
func (l *Link) Status() Status {
	status := l.radio.Status()
	l.mu.Lock()
	ready := l.ready
	l.mu.Unlock()
	if status == StatusConnected && !ready {
		return StatusIdle
	}
	return status
}

// Service advances the link by one step. It never blocks.
func (l *Link) Service(now time.Time) {
	status := l.radio.Status()

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.ready && status != StatusConnected:
		l.logger.Warn("Link lost", "status", status.String())
		l.ready = false
		l.cancelLocked()
		l.record = record{}
		l.pending = nil
		l.failed = l.target

	case l.ready:
		l.applyLocked()

	case status == StatusConnected:
		l.ready = true
		l.logger.Info("Resolver is running", "local_addr", l.radio.LocalAddr().String())
		if err := l.radio.SetLowPower(l.cfg.LowPower); err != nil {
			l.logger.Warn("Failed to set radio power mode", "low_power", l.cfg.LowPower, "error", err)
		}

	default:
		if reason := l.radio.ReasonCode(); reason != l.lastReason {
			l.logger.Debug("Radio not associated", "status", status.String(), "reason_code", reason)
			l.lastReason = reason
		}
	}
}

// StartResolving begins an asynchronous lookup of hostname and resets the
// cached record. local selects the mDNS resolver. Any lookup still in flight
// is cancelled and its result will be ignored.
func (l *Link) StartResolving(hostname string, local bool) error {
	if hostname == "" || len(hostname) > MaxHostNameLen {
		return fmt.Errorf("%w: hostname length %d", ErrInvalidArgument, len(hostname))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ready {
		return fmt.Errorf("%w: link is not up", ErrInvalidState)
	}
	resolver := l.cfg.Global
	if local {
		resolver = l.cfg.Local
	}
	if resolver == nil {
		return fmt.Errorf("%w: no resolver for local=%t", ErrInvalidState, local)
	}

	l.cancelLocked()
	l.record = record{}
	l.pending = nil
	l.failed = ""
	l.gen++
	l.target = hostname

	// Literal addresses need no lookup.
	if addr, err := netip.ParseAddr(hostname); err == nil {
		l.pending = &result{gen: l.gen, hostname: hostname, addr: addr}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.ResolveTimeout)
	l.cancel = cancel
	l.inFlight = true
	go l.resolve(ctx, resolver, l.gen, hostname)
	return nil
}

// Lookup returns the cached address for hostname. It only matches the
// hostname of the most recent lookup, and only after Service applied it.
func (l *Link) Lookup(hostname string) (netip.Addr, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.record.hostname == "" || l.record.hostname != hostname || !l.record.addr.IsValid() {
		return netip.Addr{}, false
	}
	return l.record.addr, true
}

// Failed reports whether the most recent lookup of hostname ended without an
// address, either because the resolver gave up or because the link went down.
// A caller polling Lookup should start over when Failed turns true.
func (l *Link) Failed(hostname string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return hostname != "" && l.failed == hostname
}

// LastError returns the error of the most recent failed lookup.
func (l *Link) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Link) Info() Info {
	radioStatus := l.radio.Status()
	status := l.Status()

	l.mu.Lock()
	defer l.mu.Unlock()

	info := Info{
		Status:      status.String(),
		RadioStatus: radioStatus.String(),
		Ready:       l.ready,
		Hostname:    l.record.hostname,
	}
	if addr := l.radio.LocalAddr(); addr.IsValid() {
		info.LocalAddr = addr.String()
	}
	if l.inFlight {
		info.Resolving = l.target
	}
	if l.record.addr.IsValid() {
		info.Address = l.record.addr.String()
	}
	if l.lastErr != nil {
		info.LastError = l.lastErr.Error()
	}
	return info
}

// Shutdown cancels any lookup and ends the radio.
func (l *Link) Shutdown() error {
	l.mu.Lock()
	l.cancelLocked()
	l.ready = false
	l.record = record{}
	l.pending = nil
	l.mu.Unlock()

	return l.radio.End()
}

func (l *Link) resolve(ctx context.Context, r Resolver, gen uint64, hostname string) {
	addr, err := r.Resolve(ctx, hostname)
	if err == nil && !addr.IsValid() {
		err = ErrNotFound
	}
	l.deliver(result{gen: gen, hostname: hostname, addr: addr, err: err})
}

// deliver parks a resolver result for the next Service call. Results from a
// superseded lookup are dropped.
func (l *Link) deliver(res result) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if res.gen != l.gen || res.hostname != l.target {
		return
	}
	l.inFlight = false
	l.pending = &res
}

func (l *Link) applyLocked() {
	res := l.pending
	if res == nil {
		return
	}
	l.pending = nil

	if res.gen != l.gen || res.hostname != l.target {
		return
	}
	if res.err != nil {
		l.lastErr = res.err
		l.failed = res.hostname
		l.logger.Warn("Resolving hostname failed", "hostname", res.hostname, "error", res.err)
		return
	}
	l.lastErr = nil
	l.record = record{hostname: res.hostname, addr: res.addr}
	l.logger.Info("Resolved hostname", "hostname", res.hostname, "address", res.addr.String())
}

func (l *Link) cancelLocked() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.inFlight = false
}
