package netlink

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// MQTTServiceType is the DNS-SD service type brokers advertise.
const MQTTServiceType = "_mqtt._tcp"

// ServiceResolver finds a broker by browsing DNS-SD advertisements and
// matching the advertised host or instance name against the hostname.
type ServiceResolver struct {
	Service string
	logger  *slog.Logger

	// query is swapped out in tests.
	query func(*mdns.QueryParam) error
}

func NewServiceResolver(service string, logger *slog.Logger) *ServiceResolver {
	if service == "" {
		service = MQTTServiceType
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceResolver{Service: service, logger: logger, query: mdns.Query}
}

func (r *ServiceResolver) Resolve(ctx context.Context, hostname string) (netip.Addr, error) {
	timeout := DefaultResolveTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	entriesCh := make(chan *mdns.ServiceEntry, 8)
	params := mdns.DefaultParams(r.Service)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	// Start discovery in background
	done := make(chan error, 1)
	go func() {
		defer close(entriesCh)
		done <- r.query(params)
	}()

	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				if err := <-done; err != nil {
					return netip.Addr{}, fmt.Errorf("mdns browse %s: %w", r.Service, err)
				}
				return netip.Addr{}, fmt.Errorf("%w: no %s advertisement for %s", ErrNotFound, r.Service, hostname)
			}
			if !matchesHost(entry, hostname) {
				r.logger.Debug("Ignoring service advertisement", "service_name", entry.Name, "host", entry.Host)
				continue
			}
			if entry.AddrV4 == nil {
				continue
			}
			addr, ok := netip.AddrFromSlice(entry.AddrV4.To4())
			if !ok {
				continue
			}
			r.logger.Info("Discovered broker",
				"service_name", entry.Name,
				"host", entry.Host,
				"address", addr,
				"port", entry.Port,
			)
			return addr, nil

		case <-ctx.Done():
			return netip.Addr{}, timeoutErr(ctx, ctx.Err())
		}
	}
}

func matchesHost(entry *mdns.ServiceEntry, hostname string) bool {
	want := strings.ToLower(strings.TrimSuffix(LocalName(hostname), "."))
	host := strings.ToLower(strings.TrimSuffix(entry.Host, "."))
	if host == want {
		return true
	}
	// Instance names look like "botnet._mqtt._tcp.local."
	instance, _, _ := strings.Cut(strings.ToLower(entry.Name), ".")
	return instance == strings.ToLower(strings.TrimSuffix(hostname, ".local"))
}
