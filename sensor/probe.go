package sensor

import (
	"fmt"
	"time"
)

// DefaultSettle is how long a probe is powered before it is read.
const DefaultSettle = 10 * time.Millisecond

// Probe produces one reading per call.
type Probe interface {
	Sample() (float32, error)
}

// SoilProbe is a capacitive moisture probe with a switched supply. Sample
// returns the reading as a fraction of the ADC's full scale.
type SoilProbe struct {
	adc    ADC
	power  Pin
	settle time.Duration
	sleep  func(time.Duration)
}

func NewSoilProbe(adc ADC, power Pin) *SoilProbe {
	if power == nil {
		power = NopPin{}
	}
	return &SoilProbe{adc: adc, power: power, settle: DefaultSettle, sleep: time.Sleep}
}

func (p *SoilProbe) Sample() (float32, error) {
	if err := p.power.Set(true); err != nil {
		return 0, fmt.Errorf("power soil probe: %w", err)
	}
	defer p.power.Set(false)

	p.sleep(p.settle)
	raw, err := p.adc.Read()
	if err != nil {
		return 0, err
	}
	return float32(raw) / float32(MaxReading(p.adc.ResolutionBits())), nil
}

// LinearProbe maps the full ADC range linearly onto [Min, Max], e.g. an
// analog temperature sensor.
type LinearProbe struct {
	ADC      ADC
	Min, Max float32
}

func (p LinearProbe) Sample() (float32, error) {
	raw, err := p.ADC.Read()
	if err != nil {
		return 0, err
	}
	frac := float32(raw) / float32(MaxReading(p.ADC.ResolutionBits()))
	return p.Min + frac*(p.Max-p.Min), nil
}
