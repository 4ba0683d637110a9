// Package client implements the node's connectivity and reporting state
// machine.
//
// A Node is driven by its owner calling Service once per tick. Each call
// performs at most one phase transition: start a hostname lookup, poll for
// its result, connect to the broker, or pump the connection. Long operations
// are split into a start and a later poll so that Service returns quickly and
// the owner's loop stays responsive.
//
// A Node is not safe for concurrent use; all calls must come from the loop
// that owns it.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/mbocsi/botanynet/proto"
)

const DefaultPort = 1883

// levelTrace matches config.LevelTrace.
const levelTrace = slog.Level(-8)

type Config struct {
	NodeID uint16
	Broker string // hostname or literal address, at most proto.MaxBrokerHostLen bytes
	Port   int    // default DefaultPort
	Local  bool   // resolve Broker on the local link (mDNS)

	// AddressTTL expires a resolved address that is not in use. Zero keeps
	// it until a connect fails.
	AddressTTL time.Duration

	Logger   *slog.Logger
	Observer Observer
}

type Node struct {
	cfg       Config
	logger    *slog.Logger
	observer  Observer
	link      NetworkLink
	transport TransportClient
	clock     Clock
	enc       *proto.Encoder

	intent        bool
	lookupStarted bool
	addr          netip.Addr
	addrAt        time.Time
	disconnected  bool // Disconnect was called and Service has not run since

	status  uint8
	battery uint8

	state State
}

func New(cfg Config, link NetworkLink, transport TransportClient, clock Clock) (*Node, error) {
	if cfg.Broker == "" || len(cfg.Broker) > proto.MaxBrokerHostLen {
		return nil, fmt.Errorf("%w: broker hostname must be 1-%d bytes, got %d",
			ErrInvalidArgument, proto.MaxBrokerHostLen, len(cfg.Broker))
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidArgument, cfg.Port)
	}
	if link == nil || transport == nil || clock == nil {
		return nil, fmt.Errorf("%w: link, transport and clock are required", ErrInvalidArgument)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = Observers(nil)
	}

	return &Node{
		cfg:       cfg,
		logger:    cfg.Logger.With("node", cfg.NodeID, "broker", cfg.Broker),
		observer:  cfg.Observer,
		link:      link,
		transport: transport,
		clock:     clock,
		enc:       proto.NewEncoder(),
		state:     StateIdle,
	}, nil
}

// RequestConnection authorizes the next Service calls to connect once an
// address is known. It starts nothing by itself.
func (n *Node) RequestConnection() {
	n.intent = true
}

// Disconnect closes the transport and forgets the resolved address. The next
// Service starts over from StateIdle; a new RequestConnection is needed before
// the node connects again.
func (n *Node) Disconnect() {
	// Also abandons a connect the transport may still have in flight.
	wasConnected := n.transport.Connected()
	n.transport.Disconnect()
	if wasConnected {
		n.logger.Info("Disconnected from broker")
	}
	n.intent = false
	n.lookupStarted = false
	n.addr = netip.Addr{}
	n.disconnected = true
	n.observe()
}

// IsConnected reports whether the transport is connected. It does not
// consider a pending RequestConnection.
func (n *Node) IsConnected() bool {
	return n.transport.Connected()
}

// Service advances the state machine by at most one phase.
func (n *Node) Service(now time.Time) {
	n.disconnected = false
	connected := n.transport.Connected()
	n.logger.Log(context.Background(), levelTrace, "Service",
		"state", n.state.String(),
		"connected", connected,
		"intent", n.intent,
		"lookup_started", n.lookupStarted,
	)

	switch {
	case n.addr.IsValid() && !connected && n.expired(now):
		n.logger.Debug("Broker address expired", "address", n.addr.String(), "ttl", n.cfg.AddressTTL)
		n.forgetAddress()

	case n.addr.IsValid() && n.intent && !connected:
		n.connect()

	case n.addr.IsValid():
		if connected {
			n.intent = false
			n.transport.Poll()
		}

	case !n.lookupStarted:
		if err := n.link.StartResolving(n.cfg.Broker, n.cfg.Local); err != nil {
			n.logger.Debug("Could not start resolving broker", "error", err)
			break
		}
		n.lookupStarted = true

	default:
		if addr, ok := n.link.Lookup(n.cfg.Broker); ok {
			n.addr = addr
			n.addrAt = now
			n.logger.Info("Broker address ready", "address", addr.String())
		} else if n.link.Failed(n.cfg.Broker) {
			n.logger.Warn("Resolving broker failed, retrying")
			n.lookupStarted = false
		}
	}

	n.observe()
}

// State derives the current phase from the machine's fields.
func (n *Node) State() State {
	switch {
	case n.disconnected:
		return StateDisconnected
	case n.transport.Connected():
		return StateConnected
	case n.addr.IsValid() && n.intent:
		return StateConnecting
	case n.addr.IsValid():
		return StateAddressReady
	case n.lookupStarted:
		return StateResolving
	default:
		return StateIdle
	}
}

// Address returns the cached broker address, if any.
func (n *Node) Address() (netip.Addr, bool) {
	return n.addr, n.addr.IsValid()
}

func (n *Node) NodeID() uint16 { return n.cfg.NodeID }

// Broker returns the configured broker hostname.
func (n *Node) Broker() string { return n.cfg.Broker }

// SetDiagnostic sets the status and battery fields of later chirps.
func (n *Node) SetDiagnostic(status, battery uint8) {
	n.status = status
	n.battery = battery
}

func (n *Node) SendHumidity(v float32) error {
	return n.SendFloat(proto.HumiditySensor.Name, v)
}

func (n *Node) SendTemperatureC(v float32) error {
	return n.SendFloat(proto.TemperatureSensor.Name, v)
}

// SendFloat publishes v formatted with two decimals.
func (n *Node) SendFloat(topic string, v float32) error {
	if err := proto.ValidateTopicName(topic); err != nil {
		return n.drop(topic, "", argumentErr(err))
	}
	if !n.transport.Connected() {
		return n.drop(topic, "", ErrNotConnected)
	}
	data, err := n.enc.EncodeFloat(v)
	if err != nil {
		return n.drop(topic, "", encodeErr(err))
	}
	return n.publish(topic, string(data))
}

// SendData publishes payload as the chirp's data string. Nothing is written
// to the transport unless the whole chirp fits its buffers.
func (n *Node) SendData(topic, payload string) error {
	if err := proto.ValidateTopicName(topic); err != nil {
		return n.drop(topic, payload, argumentErr(err))
	}
	if err := proto.ValidatePayload(payload); err != nil {
		return n.drop(topic, payload, argumentErr(err))
	}
	if !n.transport.Connected() {
		return n.drop(topic, payload, ErrNotConnected)
	}
	return n.publish(topic, payload)
}

func (n *Node) publish(topic, payload string) error {
	h := proto.Header{
		Node:      n.cfg.NodeID,
		Status:    n.status,
		Battery:   n.battery,
		UptimeSec: n.clock.UptimeSeconds(),
	}
	fullTopic, body, err := n.enc.Encode(h, topic, payload)
	if err != nil {
		return n.drop(topic, payload, encodeErr(err))
	}

	if !n.transport.BeginMessage(string(fullTopic)) {
		return n.drop(topic, payload, fmt.Errorf("%w: begin message on %s", ErrTransport, fullTopic))
	}
	if _, err := n.transport.Write(body); err != nil {
		n.transport.EndMessage()
		return n.drop(topic, payload, fmt.Errorf("%w: %w", ErrTransport, err))
	}
	if !n.transport.EndMessage() {
		return n.drop(topic, payload, fmt.Errorf("%w: end message on %s", ErrTransport, fullTopic))
	}

	n.logger.Debug("Chirp sent", "topic", string(fullTopic), "size", len(body))
	n.observer.ChirpSent(string(fullTopic), body)
	return nil
}

func (n *Node) drop(topic, payload string, err error) error {
	n.logger.Debug("Chirp dropped", "topic", topic, "error", err)
	n.observer.ChirpDropped(topic, payload, err)
	return err
}

func (n *Node) connect() {
	if n.transport.Connect(n.addr, n.cfg.Port) {
		n.intent = false
		n.logger.Info("Connected to broker", "address", n.addr.String(), "port", n.cfg.Port)
		return
	}

	code := n.transport.LastError()
	if code == proto.ConnectPending {
		return
	}
	n.logger.Warn("Connecting to broker failed",
		"address", n.addr.String(),
		"port", n.cfg.Port,
		"error", code.String(),
	)
	n.observer.ConnectFailed(code)
	// The address may be stale; resolve again before the next attempt.
	n.forgetAddress()
}

func (n *Node) forgetAddress() {
	n.addr = netip.Addr{}
	n.lookupStarted = false
}

func (n *Node) expired(now time.Time) bool {
	return n.cfg.AddressTTL > 0 && now.Sub(n.addrAt) >= n.cfg.AddressTTL
}

func (n *Node) observe() {
	s := n.State()
	if s == n.state {
		return
	}
	n.logger.Debug("State changed", "from", n.state.String(), "to", s.String())
	n.observer.StateChanged(n.state, s)
	n.state = s
}

func argumentErr(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
}

func encodeErr(err error) error {
	var ee *proto.EncodeError
	if errors.As(err, &ee) && ee.IsArgument() {
		return argumentErr(err)
	}
	return fmt.Errorf("%w: %w", ErrEncodingOverflow, err)
}
