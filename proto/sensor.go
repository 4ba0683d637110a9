package proto

import (
	"errors"
	"fmt"
	"strings"
)

// Diagnostic status values carried in every chirp.
const (
	StatusOK          uint8 = 0
	StatusOutOfRange  uint8 = 1
	StatusSensorError uint8 = 2
)

// Sensor describes one reading a node publishes.
type Sensor struct {
	Name        string    `json:"name" yaml:"name"`                                   // Topic name: "humidity", "tempc", etc.
	Description string    `json:"description,omitempty" yaml:"description,omitempty"` // Human-readable purpose
	Type        string    `json:"type" yaml:"type"`                                   // "number" or "string"
	Unit        string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	Range       []float64 `json:"range,omitempty" yaml:"range,omitempty"` // min, max
}

// Topic returns the full topic the sensor's chirps are published on.
func (s *Sensor) Topic() string {
	return TopicPrefix + s.Name
}

func (s *Sensor) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("sensor name is required")
	}
	if err := ValidateTopicName(s.Name); err != nil {
		return fmt.Errorf("sensor %q: %w", s.Name, err)
	}
	if _, ok := validDataTypes[s.Type]; !ok {
		return fmt.Errorf("invalid data type %q for sensor %q", s.Type, s.Name)
	}
	if len(s.Range) > 0 {
		if s.Type != "number" {
			return fmt.Errorf("range on sensor %q requires type number", s.Name)
		}
		if len(s.Range) != 2 {
			return fmt.Errorf("range on sensor %q must have exactly two values (min, max)", s.Name)
		}
		if s.Range[0] > s.Range[1] {
			return fmt.Errorf("range on sensor %q has min > max", s.Name)
		}
	}
	return nil
}

// InRange reports whether v lies within the sensor's range. A sensor without
// a range accepts every value.
func (s *Sensor) InRange(v float64) bool {
	if len(s.Range) != 2 {
		return true
	}
	return v >= s.Range[0] && v <= s.Range[1]
}

var validDataTypes = map[string]bool{
	"number": true,
	"string": true,
}

// Sensors published by a soil probe node.
var (
	HumiditySensor = Sensor{
		Name:        "humidity",
		Description: "Soil moisture as a fraction of the probe's full scale",
		Type:        "number",
		Range:       []float64{0, 1},
	}
	TemperatureSensor = Sensor{
		Name:        "tempc",
		Description: "Soil temperature",
		Type:        "number",
		Unit:        "°C",
		Range:       []float64{-40, 85},
	}
)
