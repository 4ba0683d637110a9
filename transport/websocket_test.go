package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDialWebsocket_Echo(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{MQTTSubprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mqtt" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if conn.Subprotocol() != MQTTSubprotocol {
			t.Errorf("subprotocol = %q", conn.Subprotocol())
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	addr := netip.MustParseAddrPort(u.Host)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := DialWebsocket("/mqtt")(ctx, addr)
	if err != nil {
		t.Fatalf("DialWebsocket() error = %v", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetDeadline() error = %v", err)
	}

	// Two frames come back as one stream read in small pieces.
	for _, frame := range []string{"hello ", "broker"} {
		if _, err := conn.Write([]byte(frame)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	buf := make([]byte, len("hello broker"))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != "hello broker" {
		t.Errorf("read %q", buf)
	}
}
