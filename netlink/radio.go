package netlink

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
)

// Status is the association state of the node's radio.
type Status uint8

const (
	StatusIdle           Status = 0
	StatusNoSSIDAvail    Status = 1
	StatusScanCompleted  Status = 2
	StatusConnected      Status = 3
	StatusConnectFailed  Status = 4
	StatusConnectionLost Status = 5
	StatusDisconnected   Status = 6
	StatusAPListening    Status = 7
	StatusAPConnected    Status = 8
	StatusAPFailed       Status = 9
	StatusNoShield       Status = 255
)

func (s Status) String() string {
	switch s {
	case StatusNoShield:
		return "WL_NO_SHIELD"
	case StatusIdle:
		return "WL_IDLE_STATUS"
	case StatusNoSSIDAvail:
		return "WL_NO_SSID_AVAIL"
	case StatusScanCompleted:
		return "WL_SCAN_COMPLETED"
	case StatusConnected:
		return "WL_CONNECTED"
	case StatusConnectFailed:
		return "WL_CONNECT_FAILED"
	case StatusConnectionLost:
		return "WL_CONNECTION_LOST"
	case StatusDisconnected:
		return "WL_DISCONNECTED"
	case StatusAPListening:
		return "WL_AP_LISTENING"
	case StatusAPConnected:
		return "WL_AP_CONNECTED"
	case StatusAPFailed:
		return "WL_AP_FAILED"
	default:
		return "(unknown status)"
	}
}

// Radio abstracts the network interface hardware. Implementations must not
// block in Status; association happens in the background after Begin.
type Radio interface {
	Begin() error
	Status() Status
	LocalAddr() netip.Addr
	ReasonCode() int
	SetLowPower(enabled bool) error
	End() error
}

// HostRadio reports the state of an interface that the host operating system
// associates on its own (wpa_supplicant, NetworkManager, ...).
type HostRadio struct {
	// Interface is the interface name, e.g. "wlan0". Empty selects the first
	// interface that is up, not loopback and has an IPv4 address.
	Interface string

	mu      sync.Mutex
	started bool
	logger  *slog.Logger

	// interfaces is swapped out in tests.
	interfaces func() ([]net.Interface, error)
}

func NewHostRadio(iface string, logger *slog.Logger) *HostRadio {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostRadio{Interface: iface, logger: logger, interfaces: net.Interfaces}
}

func (r *HostRadio) Begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Interface != "" {
		if _, err := r.find(); err != nil {
			return fmt.Errorf("radio begin: %w", err)
		}
	}
	r.started = true
	r.logger.Info("Radio started", "interface", r.Interface)
	return nil
}

func (r *HostRadio) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return StatusIdle
	}
	iface, err := r.find()
	if err != nil {
		return StatusNoShield
	}
	if iface.Flags&net.FlagUp == 0 {
		return StatusDisconnected
	}
	if !ipv4Of(iface).IsValid() {
		return StatusIdle
	}
	return StatusConnected
}

func (r *HostRadio) LocalAddr() netip.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	iface, err := r.find()
	if err != nil {
		return netip.Addr{}
	}
	return ipv4Of(iface)
}

// ReasonCode is always zero; the host does not expose association failures.
func (r *HostRadio) ReasonCode() int {
	return 0
}

func (r *HostRadio) SetLowPower(enabled bool) error {
	r.logger.Debug("Power management is left to the host", "low_power", enabled)
	return nil
}

func (r *HostRadio) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	return nil
}

func (r *HostRadio) find() (net.Interface, error) {
	ifaces, err := r.interfaces()
	if err != nil {
		return net.Interface{}, err
	}
	for _, iface := range ifaces {
		if r.Interface != "" {
			if iface.Name == r.Interface {
				return iface, nil
			}
			continue
		}
		if iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagUp != 0 && ipv4Of(iface).IsValid() {
			return iface, nil
		}
	}
	if r.Interface == "" {
		return net.Interface{}, fmt.Errorf("no usable interface found")
	}
	return net.Interface{}, fmt.Errorf("interface %q not found", r.Interface)
}

func ipv4Of(iface net.Interface) netip.Addr {
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			addr, _ := netip.AddrFromSlice(ip4)
			return addr
		}
	}
	return netip.Addr{}
}
