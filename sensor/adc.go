// Package sensor reads the node's probes. Reads are synchronous and may
// block for the probe's settle delay; callers run them from the main loop
// between ticks.
package sensor

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultResolutionBits matches the SAMD ADC the probe was calibrated on.
const DefaultResolutionBits = 12

// ADC is one analog input channel.
type ADC interface {
	Read() (int, error)
	ResolutionBits() uint
}

// Pin switches a probe's supply.
type Pin interface {
	Set(high bool) error
}

// NopPin is used for probes that are always powered.
type NopPin struct{}

func (NopPin) Set(bool) error { return nil }

// MaxReading is the largest raw value of an ADC with the given resolution.
func MaxReading(bits uint) int {
	return 1<<bits - 1
}

// IIOChannel reads a Linux industrial I/O ADC channel from sysfs, e.g.
// /sys/bus/iio/devices/iio:device0/in_voltage1_raw.
type IIOChannel struct {
	Path string
	Bits uint
}

func (c IIOChannel) Read() (int, error) {
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		return 0, fmt.Errorf("read adc channel: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse adc value %q: %w", strings.TrimSpace(string(raw)), err)
	}
	return v, nil
}

func (c IIOChannel) ResolutionBits() uint {
	if c.Bits == 0 {
		return DefaultResolutionBits
	}
	return c.Bits
}

// SimulatedADC produces a slow sine wave around Base, both given as a
// fraction of full scale. It lets a node run on a host without a probe.
type SimulatedADC struct {
	Bits      uint
	Base      float64
	Amplitude float64
	Period    time.Duration

	mu    sync.Mutex
	start time.Time
	now   func() time.Time
}

func NewSimulatedADC(base, amplitude float64, period time.Duration) *SimulatedADC {
	return &SimulatedADC{
		Bits:      DefaultResolutionBits,
		Base:      base,
		Amplitude: amplitude,
		Period:    period,
		start:     time.Now(),
		now:       time.Now,
	}
}

func (s *SimulatedADC) Read() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.Base
	if s.Period > 0 {
		phase := float64(s.now().Sub(s.start)) / float64(s.Period)
		v += s.Amplitude * math.Sin(2*math.Pi*phase)
	}
	v = math.Max(0, math.Min(1, v))
	return int(math.Round(v * float64(MaxReading(s.ResolutionBits())))), nil
}

func (s *SimulatedADC) ResolutionBits() uint {
	if s.Bits == 0 {
		return DefaultResolutionBits
	}
	return s.Bits
}
