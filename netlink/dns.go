package netlink

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// MDNSGroup is the IPv4 multicast DNS group and port.
const MDNSGroup = "224.0.0.251:5353"

// UnicastResolver looks hostnames up through regular DNS servers.
type UnicastResolver struct {
	Servers []string // host:port
	client  *dns.Client
}

// NewUnicastResolver queries servers in order. With no servers it falls back
// to the nameservers in /etc/resolv.conf.
func NewUnicastResolver(servers ...string) (*UnicastResolver, error) {
	if len(servers) == 0 {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("read resolver config: %w", err)
		}
		for _, s := range conf.Servers {
			servers = append(servers, net.JoinHostPort(s, conf.Port))
		}
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no DNS servers configured")
	}
	return &UnicastResolver{Servers: servers, client: &dns.Client{Net: "udp"}}, nil
}

func (r *UnicastResolver) Resolve(ctx context.Context, hostname string) (netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(hostname), dns.TypeA)
	m.RecursionDesired = true

	var lastErr error = ErrNotFound
	for _, server := range r.Servers {
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = timeoutErr(ctx, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%w: %s answered %s", ErrNotFound, server, dns.RcodeToString[in.Rcode])
			continue
		}
		// Accept any A record so CNAME chains resolve.
		if addr, ok := firstA(in.Answer, ""); ok {
			return addr, nil
		}
	}
	return netip.Addr{}, lastErr
}

// MulticastResolver sends a one-shot mDNS query for <hostname>.local and
// takes the first A record in the answer.
type MulticastResolver struct {
	Group  string
	client *dns.Client
}

func NewMulticastResolver() *MulticastResolver {
	return &MulticastResolver{Group: MDNSGroup, client: &dns.Client{Net: "udp"}}
}

func (r *MulticastResolver) Resolve(ctx context.Context, hostname string) (netip.Addr, error) {
	name := LocalName(hostname)

	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeA)
	m.RecursionDesired = false

	in, _, err := r.client.ExchangeContext(ctx, m, r.Group)
	if err != nil {
		return netip.Addr{}, timeoutErr(ctx, err)
	}
	if addr, ok := firstA(in.Answer, name); ok {
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// LocalName returns the fully qualified .local name for hostname.
func LocalName(hostname string) string {
	name := strings.TrimSuffix(hostname, ".")
	if !strings.HasSuffix(strings.ToLower(name), ".local") {
		name += ".local"
	}
	return dns.Fqdn(name)
}

func firstA(rrs []dns.RR, name string) (netip.Addr, bool) {
	for _, rr := range rrs {
		a, ok := rr.(*dns.A)
		if !ok || (name != "" && !strings.EqualFold(a.Hdr.Name, name)) {
			continue
		}
		if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
			return addr, true
		}
	}
	return netip.Addr{}, false
}
