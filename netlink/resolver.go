package netlink

import (
	"context"
	"errors"
	"net/netip"
	"time"
)

// DefaultResolveTimeout bounds a single hostname resolution.
const DefaultResolveTimeout = 5 * time.Second

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
	ErrNotFound        = errors.New("hostname not found")
	ErrResolveTimeout  = errors.New("hostname resolution timed out")
)

// Resolver maps a hostname to an address. Resolve may block until ctx is done;
// the Link calls it from its own goroutine.
type Resolver interface {
	Resolve(ctx context.Context, hostname string) (netip.Addr, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, hostname string) (netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context, hostname string) (netip.Addr, error) {
	return f(ctx, hostname)
}

// timeoutErr turns a context deadline into ErrResolveTimeout.
func timeoutErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrResolveTimeout
	}
	return err
}
