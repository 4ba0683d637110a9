package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// MQTTSubprotocol is the websocket subprotocol brokers expect for MQTT.
const MQTTSubprotocol = "mqtt"

// DialWebsocket returns a DialFunc that runs MQTT over a websocket at path,
// e.g. "/mqtt".
func DialWebsocket(path string) DialFunc {
	return func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		u := url.URL{Scheme: "ws", Host: addr.String(), Path: path}
		dialer := websocket.Dialer{
			Subprotocols:     []string{MQTTSubprotocol},
			HandshakeTimeout: 10 * time.Second,
		}
		conn, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
		}
		return NewWebsocketConn(conn), nil
	}
}

// wsConn presents a websocket as a byte stream. Each Write is sent as one
// binary message; Read drains messages in order.
type wsConn struct {
	*websocket.Conn
	r io.Reader
}

func NewWebsocketConn(conn *websocket.Conn) net.Conn {
	return &wsConn{Conn: conn}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			_, r, err := c.NextReader()
			if err != nil {
				return 0, err
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}
