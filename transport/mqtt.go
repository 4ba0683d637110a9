package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/mbocsi/botanynet/proto"
)

const (
	DefaultKeepAlive      = 60 // seconds
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
)

type MQTTConfig struct {
	ClientID string
	Username string
	Password string

	KeepAlive      uint16        // seconds, default DefaultKeepAlive
	ConnectTimeout time.Duration // dial plus CONNECT/CONNACK
	PublishTimeout time.Duration
	Retain         bool

	// Dial opens the connection, default DialTCP.
	Dial   DialFunc
	Logger *slog.Logger
}

// MQTTClient publishes chirps through an MQTT broker with QoS 0. A message is
// buffered between BeginMessage and EndMessage and published as a whole.
//
// Connect never blocks. The first call starts an attempt in the background and
// returns false with LastError ConnectPending; later calls for the same target
// return the attempt's outcome once it has finished. An attempt is bounded by
// ConnectTimeout. Keep-alive pings run on paho's own goroutines; Poll notices a
// connection the library has given up on.
type MQTTClient struct {
	cfg    MQTTConfig
	logger *slog.Logger

	mu      sync.Mutex
	sess    *session
	pending *attempt
	lastErr proto.ConnectCode

	topic   string
	buf     bytes.Buffer
	writing bool
}

// session is one broker connection. paho reports failures on its own
// goroutines, so they are recorded here under a separate lock.
type session struct {
	cli  *paho.Client
	conn net.Conn

	mu  sync.Mutex
	err error
}

func (s *session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// attempt is a connect running in the background. done, sess and code are
// written once under MQTTClient.mu.
type attempt struct {
	target netip.AddrPort
	cancel context.CancelFunc

	done bool
	sess *session
	code proto.ConnectCode
}

func NewMQTTClient(cfg MQTTConfig) *MQTTClient {
	if cfg.ClientID == "" {
		cfg.ClientID = NewClientID(0)
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = DialTCP
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MQTTClient{cfg: cfg, logger: cfg.Logger.With("client_id", cfg.ClientID)}
}

func (c *MQTTClient) Connect(addr netip.Addr, port int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthyLocked() {
		return true
	}

	target := netip.AddrPortFrom(addr, uint16(port))
	if a := c.pending; a != nil && a.target == target {
		if !a.done {
			c.lastErr = proto.ConnectPending
			return false
		}
		c.pending = nil
		c.lastErr = a.code
		if a.sess == nil {
			return false
		}
		c.sess = a.sess
		return true
	}

	c.abandonLocked()
	c.closeLocked(false)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	a := &attempt{target: target, cancel: cancel}
	c.pending = a
	c.lastErr = proto.ConnectPending
	go c.run(ctx, a)
	return false
}

// run performs an attempt and records its outcome, unless the attempt was
// abandoned in the meantime.
func (c *MQTTClient) run(ctx context.Context, a *attempt) {
	defer a.cancel()
	sess, code := c.open(ctx, a.target)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != a {
		if sess != nil {
			_ = sess.conn.Close()
		}
		return
	}
	a.done, a.sess, a.code = true, sess, code
}

// open dials target and runs the CONNECT/CONNACK exchange.
func (c *MQTTClient) open(ctx context.Context, target netip.AddrPort) (*session, proto.ConnectCode) {
	conn, err := c.cfg.Dial(ctx, target)
	if err != nil {
		c.logger.Debug("Dial failed", "addr", target.String(), "error", err)
		return nil, dialCode(err)
	}

	sess := &session{conn: conn}
	sess.cli = paho.NewClient(paho.ClientConfig{
		ClientID:      c.cfg.ClientID,
		Conn:          conn,
		OnClientError: sess.fail,
		OnServerDisconnect: func(d *paho.Disconnect) {
			sess.fail(fmt.Errorf("server disconnected with reason %d", d.ReasonCode))
		},
	})

	cp := &paho.Connect{
		KeepAlive:  c.cfg.KeepAlive,
		ClientID:   c.cfg.ClientID,
		CleanStart: true,
	}
	if c.cfg.Username != "" {
		cp.Username = c.cfg.Username
		cp.UsernameFlag = true
	}
	if c.cfg.Password != "" {
		cp.Password = []byte(c.cfg.Password)
		cp.PasswordFlag = true
	}

	ca, err := sess.cli.Connect(ctx, cp)
	if err != nil {
		code := proto.ConnectRefused
		switch {
		case ca != nil && ca.ReasonCode != 0:
			code = proto.ConnectCodeFromReason(ca.ReasonCode)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			code = proto.ConnectTimeout
		}
		c.logger.Debug("MQTT connect failed", "addr", target.String(), "error", err)
		_ = conn.Close()
		return nil, code
	}
	return sess, proto.ConnectSuccess
}

// abandonLocked cancels a running attempt and discards a finished one.
func (c *MQTTClient) abandonLocked() {
	a := c.pending
	if a == nil {
		return
	}
	c.pending = nil
	a.cancel()
	if a.sess != nil {
		_ = a.sess.conn.Close()
	}
}

func (c *MQTTClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthyLocked()
}

// Disconnect closes the session and abandons a connect still in progress.
func (c *MQTTClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked()
	c.closeLocked(true)
}

func (c *MQTTClient) LastError() proto.ConnectCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *MQTTClient) BeginMessage(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.healthyLocked() {
		return false
	}
	c.topic = topic
	c.buf.Reset()
	c.writing = true
	return true
}

func (c *MQTTClient) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.writing {
		return 0, errors.New("write outside of a message")
	}
	return c.buf.Write(p)
}

func (c *MQTTClient) EndMessage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.writing || !c.healthyLocked() {
		c.writing = false
		return false
	}
	c.writing = false

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
	defer cancel()

	_, err := c.sess.cli.Publish(ctx, &paho.Publish{
		Topic:   c.topic,
		QoS:     0,
		Retain:  c.cfg.Retain,
		Payload: append([]byte(nil), c.buf.Bytes()...),
	})
	if err != nil {
		c.logger.Warn("Failed to publish message", "topic", c.topic, "error", err)
		return false
	}
	return true
}

// Poll drops a connection that failed in the background.
func (c *MQTTClient) Poll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return
	}
	if err := c.sess.failure(); err != nil {
		c.logger.Warn("MQTT connection lost", "error", err)
		c.lastErr = proto.ConnectRefused
		c.closeLocked(false)
	}
}

func (c *MQTTClient) healthyLocked() bool {
	return c.sess != nil && c.sess.failure() == nil
}

// closeLocked ends the session. A DISCONNECT is sent only when asked for and
// the session is still healthy.
func (c *MQTTClient) closeLocked(graceful bool) {
	if c.sess == nil {
		return
	}
	if graceful && c.sess.failure() == nil {
		if err := c.sess.cli.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
			c.logger.Debug("MQTT disconnect failed", "error", err)
		}
	}
	_ = c.sess.conn.Close()
	c.sess = nil
	c.writing = false
}
