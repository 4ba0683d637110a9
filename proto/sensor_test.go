package proto

import "testing"

func TestSensor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sensor  Sensor
		wantErr bool
	}{
		{"humidity", HumiditySensor, false},
		{"temperature", TemperatureSensor, false},
		{"missing name", Sensor{Type: "number"}, true},
		{"name too long", Sensor{Name: "soil_moisture_raw", Type: "number"}, true},
		{"bad type", Sensor{Name: "x", Type: "blob"}, true},
		{"range on string", Sensor{Name: "x", Type: "string", Range: []float64{0, 1}}, true},
		{"range arity", Sensor{Name: "x", Type: "number", Range: []float64{1}}, true},
		{"inverted range", Sensor{Name: "x", Type: "number", Range: []float64{2, 1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sensor.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSensor_InRange(t *testing.T) {
	s := HumiditySensor
	if !s.InRange(0.5) {
		t.Error("0.5 should be in range")
	}
	if s.InRange(1.2) {
		t.Error("1.2 should be out of range")
	}
	if got := s.Topic(); got != "btnt/humidity" {
		t.Errorf("Topic() = %q", got)
	}

	open := Sensor{Name: "raw", Type: "number"}
	if !open.InRange(1e9) {
		t.Error("sensor without range should accept everything")
	}
}
