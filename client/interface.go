package client

import (
	"net/netip"

	"github.com/mbocsi/botanynet/proto"
)

// NetworkLink is the part of the network link the Node drives: starting a
// hostname lookup and polling its single-slot result.
type NetworkLink interface {
	// StartResolving resets the cached record and begins a lookup. It fails
	// with an invalid-argument or invalid-state error and never blocks.
	StartResolving(hostname string, local bool) error
	Lookup(hostname string) (netip.Addr, bool)
	// Failed reports that the latest lookup of hostname gave up.
	Failed(hostname string) bool
}

// TransportClient is a connection to the broker that carries one message at
// a time. Connected reports the transport's own view of the connection.
type TransportClient interface {
	Connect(addr netip.Addr, port int) bool
	Connected() bool
	Disconnect()
	LastError() proto.ConnectCode
	BeginMessage(topic string) bool
	Write(p []byte) (int, error)
	EndMessage() bool
	Poll()
}

// Clock reports seconds since the node booted.
type Clock interface {
	UptimeSeconds() uint64
}

// Observer receives state machine events. Implementations must not retain
// body: it aliases the encoder's buffer.
type Observer interface {
	StateChanged(from, to State)
	ConnectFailed(code proto.ConnectCode)
	ChirpSent(topic string, body []byte)
	ChirpDropped(topic, payload string, err error)
}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) StateChanged(from, to State) {
	for _, obs := range o {
		obs.StateChanged(from, to)
	}
}

func (o Observers) ConnectFailed(code proto.ConnectCode) {
	for _, obs := range o {
		obs.ConnectFailed(code)
	}
}

func (o Observers) ChirpSent(topic string, body []byte) {
	for _, obs := range o {
		obs.ChirpSent(topic, body)
	}
}

func (o Observers) ChirpDropped(topic, payload string, err error) {
	for _, obs := range o {
		obs.ChirpDropped(topic, payload, err)
	}
}
