// Package transport provides the broker connections a node can publish
// through: MQTT over TCP or websocket, and an in-process loopback.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/uuid"
	"github.com/mbocsi/botanynet/proto"
)

// DialFunc opens the byte stream an MQTT session runs over.
type DialFunc func(ctx context.Context, addr netip.AddrPort) (net.Conn, error)

func DialTCP(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr.String())
}

// NewClientID returns a broker client id unique to this run of the node.
func NewClientID(nodeID uint16) string {
	return fmt.Sprintf("botnode-%d-%s", nodeID, uuid.NewString()[:8])
}

// dialCode classifies a failed dial as a connect timeout or refusal.
func dialCode(err error) proto.ConnectCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return proto.ConnectTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return proto.ConnectTimeout
	}
	return proto.ConnectRefused
}
