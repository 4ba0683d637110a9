package transport

import (
	"bytes"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/mbocsi/botanynet/proto"
)

// Loopback is an in-process TransportClient. Connect succeeds unless Refuse
// is set, and every completed message is handed to Sink. It lets a node run
// without a broker.
type Loopback struct {
	ClientID string
	Sink     func(proto.Message)

	mu        sync.Mutex
	refuse    proto.ConnectCode
	connected bool
	lastErr   proto.ConnectCode
	addr      netip.AddrPort

	topic     string
	buf       bytes.Buffer
	writing   bool
	published int
}

func NewLoopback(clientID string, sink func(proto.Message)) *Loopback {
	return &Loopback{ClientID: clientID, Sink: sink}
}

// Refuse makes later Connect calls fail with code. ConnectSuccess clears it.
func (l *Loopback) Refuse(code proto.ConnectCode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refuse = code
}

// Drop simulates the broker going away.
func (l *Loopback) Drop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	l.lastErr = proto.ConnectRefused
}

func (l *Loopback) Connect(addr netip.Addr, port int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refuse != proto.ConnectSuccess {
		l.lastErr = l.refuse
		return false
	}
	l.addr = netip.AddrPortFrom(addr, uint16(port))
	l.connected = true
	l.lastErr = proto.ConnectSuccess
	return true
}

func (l *Loopback) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Loopback) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	l.writing = false
}

func (l *Loopback) LastError() proto.ConnectCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Loopback) BeginMessage(topic string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return false
	}
	l.topic = topic
	l.buf.Reset()
	l.writing = true
	return true
}

func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.writing {
		return 0, errors.New("write outside of a message")
	}
	return l.buf.Write(p)
}

func (l *Loopback) EndMessage() bool {
	l.mu.Lock()
	if !l.writing || !l.connected {
		l.writing = false
		l.mu.Unlock()
		return false
	}
	l.writing = false
	l.published++
	msg := proto.Message{
		Topic:     l.topic,
		Payload:   append([]byte(nil), l.buf.Bytes()...),
		Sender:    l.ClientID,
		Timestamp: time.Now().Unix(),
	}
	sink := l.Sink
	l.mu.Unlock()

	if sink != nil {
		sink(msg)
	}
	return true
}

func (l *Loopback) Poll() {}

// Published returns the number of messages completed so far.
func (l *Loopback) Published() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.published
}

// Addr returns the address of the last successful Connect.
func (l *Loopback) Addr() netip.AddrPort {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}
