package netlink

import (
	"errors"
	"net"
	"testing"
)

func TestHostRadio_NotStarted(t *testing.T) {
	r := NewHostRadio("", nil)
	if got := r.Status(); got != StatusIdle {
		t.Errorf("Status() = %v, want %v", got, StatusIdle)
	}
}

func TestHostRadio_MissingInterface(t *testing.T) {
	r := NewHostRadio("wlan9", nil)
	r.interfaces = func() ([]net.Interface, error) {
		return []net.Interface{{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback}}, nil
	}

	if err := r.Begin(); err == nil {
		t.Fatal("Begin() should fail for a missing interface")
	}
	if addr := r.LocalAddr(); addr.IsValid() {
		t.Errorf("LocalAddr() = %v, want invalid", addr)
	}
}

func TestHostRadio_InterfaceError(t *testing.T) {
	r := NewHostRadio("", nil)
	r.interfaces = func() ([]net.Interface, error) { return nil, errors.New("boom") }

	if err := r.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if got := r.Status(); got != StatusNoShield {
		t.Errorf("Status() = %v, want %v", got, StatusNoShield)
	}
	if err := r.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if got := r.Status(); got != StatusIdle {
		t.Errorf("Status() after End = %v, want %v", got, StatusIdle)
	}
}
