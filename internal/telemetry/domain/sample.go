package telemetry

import "fmt"

// Sample is one synthesized sensor reading. Samples are values and are
// never mutated after they leave the synthesizer.
type Sample struct {
	SensorID    int64   `json:"sensor_id"`
	Timestamp   int64   `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	Value       float64 `json:"value"`
	Anomaly     bool    `json:"anomaly"`
}

// SensorKey returns the state-map key for a sensor id.
func SensorKey(sensorID int64) string {
	return fmt.Sprintf("sensor_%d", sensorID)
}

// Bulk is the result of generating one sample for each of several sensors.
type Bulk struct {
	Data      []Sample `json:"data"`
	Count     int      `json:"count"`
	Timestamp int64    `json:"timestamp"`
}
