// Package config handles botnode configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// MaxBrokerHostLen mirrors the node's fixed broker hostname buffer.
const MaxBrokerHostLen = 24

// Resolver modes.
const (
	ResolverLocal   = "local"   // mDNS host query for <host>.local
	ResolverService = "service" // DNS-SD browse for _mqtt._tcp
	ResolverGlobal  = "global"  // unicast DNS
)

// Transports.
const (
	TransportTCP       = "tcp"
	TransportWebsocket = "websocket"
	TransportLoopback  = "loopback"
)

// Sensor sources.
const (
	SourceSimulated = "simulated"
	SourceIIO       = "iio"
)

// DefaultSearchPaths returns the config file search order.
// Then: ./botanynet.yaml, ~/.config/botanynet/botanynet.yaml, /etc/botanynet/botanynet.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"botanynet.yaml"}

	if home, err := homedir.Dir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "botanynet", "botanynet.yaml"))
	}

	paths = append(paths, "/etc/botanynet/botanynet.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all botnode configuration.
type Config struct {
	Node      NodeConfig    `yaml:"node"`
	Broker    BrokerConfig  `yaml:"broker"`
	Network   NetworkConfig `yaml:"network"`
	Sensors   SensorConfig  `yaml:"sensors"`
	Console   ConsoleConfig `yaml:"console"`
	Journal   JournalConfig `yaml:"journal"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // text or json
}

type NodeConfig struct {
	ID             uint16        `yaml:"id"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	Tick           time.Duration `yaml:"tick"`
	StartupDelay   time.Duration `yaml:"startup_delay"`
}

type BrokerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Transport      string        `yaml:"transport"`      // tcp, websocket, loopback
	WebsocketPath  string        `yaml:"websocket_path"` // used with transport websocket
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Retain         bool          `yaml:"retain"`
	AddressTTL     time.Duration `yaml:"address_ttl"` // 0 keeps the address until a connect fails
}

type NetworkConfig struct {
	Interface      string        `yaml:"interface"` // empty picks the first usable interface
	Resolver       string        `yaml:"resolver"`  // local, service, global
	DNSServers     []string      `yaml:"dns_servers"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	LowPower       bool          `yaml:"low_power"`
}

// Local reports whether the broker is resolved on the local link.
func (n NetworkConfig) Local() bool {
	return n.Resolver != ResolverGlobal
}

type SensorConfig struct {
	Source             string `yaml:"source"` // simulated or iio
	MoistureChannel    string `yaml:"moisture_channel"`
	TemperatureChannel string `yaml:"temperature_channel"`
	BatteryChannel     string `yaml:"battery_channel"` // optional, full scale is a full battery
	ADCBits            uint   `yaml:"adc_bits"`
}

type ConsoleConfig struct {
	Listen string `yaml:"listen"` // empty disables the HTTP console
}

type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the journal
	Keep int    `yaml:"keep"` // rows kept, 0 keeps everything
}

// Load reads configuration from a YAML file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Journal.Path != "" {
		p, err := homedir.Expand(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("journal path: %w", err)
		}
		cfg.Journal.Path = p
	}

	return cfg, nil
}

// Default returns the configuration a node boots with when nothing is
// configured.
func Default() *Config {
	journal := ""
	if home, err := homedir.Dir(); err == nil {
		journal = filepath.Join(home, ".local", "share", "botanynet", "journal.db")
	}
	return &Config{
		Node: NodeConfig{
			ID:             1,
			SampleInterval: 600 * time.Second,
			Tick:           100 * time.Millisecond,
			StartupDelay:   10 * time.Second,
		},
		Broker: BrokerConfig{
			Host:           "botnet",
			Port:           1883,
			Transport:      TransportTCP,
			WebsocketPath:  "/mqtt",
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 10 * time.Second,
			Retain:         true,
		},
		Network: NetworkConfig{
			Resolver:       ResolverLocal,
			ResolveTimeout: 5 * time.Second,
			LowPower:       true,
		},
		Sensors: SensorConfig{
			Source:  SourceSimulated,
			ADCBits: 12,
		},
		Console:   ConsoleConfig{Listen: "127.0.0.1:8081"},
		Journal:   JournalConfig{Path: journal, Keep: 10000},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if c.Broker.Host == "" || len(c.Broker.Host) > MaxBrokerHostLen {
		return fmt.Errorf("broker.host must be 1-%d bytes, got %d", MaxBrokerHostLen, len(c.Broker.Host))
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port %d out of range", c.Broker.Port)
	}
	switch c.Broker.Transport {
	case TransportTCP, TransportWebsocket, TransportLoopback:
	default:
		return fmt.Errorf("unknown broker.transport %q (valid: tcp, websocket, loopback)", c.Broker.Transport)
	}
	if c.Broker.KeepAlive < 0 || c.Broker.KeepAlive > 65535*time.Second {
		return fmt.Errorf("broker.keep_alive %v out of range", c.Broker.KeepAlive)
	}
	switch c.Network.Resolver {
	case ResolverLocal, ResolverService, ResolverGlobal:
	default:
		return fmt.Errorf("unknown network.resolver %q (valid: local, service, global)", c.Network.Resolver)
	}
	switch c.Sensors.Source {
	case SourceSimulated:
	case SourceIIO:
		if c.Sensors.MoistureChannel == "" {
			return fmt.Errorf("sensors.moisture_channel is required for source iio")
		}
	default:
		return fmt.Errorf("unknown sensors.source %q (valid: simulated, iio)", c.Sensors.Source)
	}
	if c.Node.SampleInterval <= 0 {
		return fmt.Errorf("node.sample_interval must be positive")
	}
	if c.Node.SampleInterval >= time.Hour {
		return fmt.Errorf("node.sample_interval must be under an hour")
	}
	if c.Node.Tick <= 0 {
		return fmt.Errorf("node.tick must be positive")
	}
	if c.Node.StartupDelay < 0 {
		return fmt.Errorf("node.startup_delay must not be negative")
	}
	if c.Network.ResolveTimeout <= 0 {
		return fmt.Errorf("network.resolve_timeout must be positive")
	}
	if c.Broker.ConnectTimeout <= 0 {
		return fmt.Errorf("broker.connect_timeout must be positive")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	return nil
}
