package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mbocsi/botanynet/app"
	"github.com/mbocsi/botanynet/broker"
	"github.com/mbocsi/botanynet/client"
	"github.com/mbocsi/botanynet/config"
	"github.com/mbocsi/botanynet/netlink"
	"github.com/mbocsi/botanynet/proto"
	"github.com/mbocsi/botanynet/sensor"
	"github.com/mbocsi/botanynet/store"
	"github.com/mbocsi/botanynet/telemetry"
	"github.com/mbocsi/botanynet/transport"
)

// node is everything a running botnode owns.
type node struct {
	app     *app.App
	bus     *broker.Broker
	journal *store.Journal
}

func (n *node) close() {
	if n.journal != nil {
		if err := n.journal.Close(); err != nil {
			slog.Warn("Failed to close journal", "error", err)
		}
	}
}

func buildNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	n := &node{bus: broker.NewBroker(logger.With("component", "broker"))}

	if cfg.Journal.Path != "" {
		j, err := store.Open(cfg.Journal.Path, cfg.Journal.Keep)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		n.journal = j
	}

	link, err := newLink(cfg.Network, logger.With("component", "netlink"))
	if err != nil {
		n.close()
		return nil, err
	}

	clientID := transport.NewClientID(cfg.Node.ID)
	tr := newTransport(cfg.Broker, clientID, logger.With("component", "transport"))
	clock := sensor.NewUptimeClock()

	nd, err := client.New(client.Config{
		NodeID:     cfg.Node.ID,
		Broker:     cfg.Broker.Host,
		Port:       cfg.Broker.Port,
		Local:      cfg.Network.Local(),
		AddressTTL: cfg.Broker.AddressTTL,
		Logger:     logger.With("component", "node"),
		Observer: client.Observers{
			telemetry.NodeObserver{},
			&app.ChirpRecorder{Sender: clientID, Journal: n.journal, Broker: n.bus, Logger: logger},
		},
	}, link, tr, clock)
	if err != nil {
		n.close()
		return nil, err
	}

	a := app.NewApp(app.Config{
		Tick:           cfg.Node.Tick,
		SampleInterval: cfg.Node.SampleInterval,
		StartupDelay:   cfg.Node.StartupDelay,
		Logger:         logger,
	}, nd, link, clock, n.bus)
	a.Journal = n.journal
	addSensors(a, cfg.Sensors)

	n.app = a
	return n, nil
}

func newLink(nc config.NetworkConfig, logger *slog.Logger) (*netlink.Link, error) {
	r, err := newResolver(nc, logger)
	if err != nil {
		return nil, err
	}
	lc := netlink.Config{
		ResolveTimeout: nc.ResolveTimeout,
		LowPower:       nc.LowPower,
		Logger:         logger,
	}
	if nc.Local() {
		lc.Local = r
	} else {
		lc.Global = r
	}
	return netlink.NewLink(netlink.NewHostRadio(nc.Interface, logger), lc), nil
}

func newResolver(nc config.NetworkConfig, logger *slog.Logger) (netlink.Resolver, error) {
	switch nc.Resolver {
	case config.ResolverLocal:
		return netlink.NewMulticastResolver(), nil
	case config.ResolverService:
		return netlink.NewServiceResolver(netlink.MQTTServiceType, logger), nil
	case config.ResolverGlobal:
		r, err := netlink.NewUnicastResolver(nc.DNSServers...)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown resolver %q", nc.Resolver)
	}
}

func newTransport(bc config.BrokerConfig, clientID string, logger *slog.Logger) client.TransportClient {
	mc := transport.MQTTConfig{
		ClientID:       clientID,
		Username:       bc.Username,
		Password:       bc.Password,
		KeepAlive:      uint16(bc.KeepAlive / time.Second),
		ConnectTimeout: bc.ConnectTimeout,
		Retain:         bc.Retain,
		Logger:         logger,
	}
	switch bc.Transport {
	case config.TransportLoopback:
		return transport.NewLoopback(clientID, func(msg proto.Message) {
			logger.Debug("Loopback chirp", "topic", msg.Topic, "payload", string(msg.Payload))
		})
	case config.TransportWebsocket:
		mc.Dial = transport.DialWebsocket(bc.WebsocketPath)
	}
	return transport.NewMQTTClient(mc)
}

func addSensors(a *app.App, sc config.SensorConfig) {
	if sc.Source == config.SourceSimulated {
		a.AddChannel(proto.HumiditySensor, sensor.NewSoilProbe(sensor.NewSimulatedADC(0.55, 0.1, 6*time.Hour), nil))
		a.AddChannel(proto.TemperatureSensor, sensor.LinearProbe{ADC: sensor.NewSimulatedADC(0.48, 0.04, 24*time.Hour), Min: -40, Max: 85})
		a.Battery = sensor.LinearProbe{ADC: sensor.NewSimulatedADC(0.9, 0, 0), Min: 0, Max: 1}
		return
	}

	a.AddChannel(proto.HumiditySensor, sensor.NewSoilProbe(sensor.IIOChannel{Path: sc.MoistureChannel, Bits: sc.ADCBits}, nil))
	if sc.TemperatureChannel != "" {
		adc := sensor.IIOChannel{Path: sc.TemperatureChannel, Bits: sc.ADCBits}
		a.AddChannel(proto.TemperatureSensor, sensor.LinearProbe{ADC: adc, Min: -40, Max: 85})
	}
	if sc.BatteryChannel != "" {
		a.Battery = sensor.LinearProbe{ADC: sensor.IIOChannel{Path: sc.BatteryChannel, Bits: sc.ADCBits}, Min: 0, Max: 1}
	}
}
