package types

import "time"

// Sample is one time step of a multi-channel sensor reading.
// Values are conventionally accel x/y/z followed by gyro x/y/z.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// SampleBatch is the payload the agent POSTs to /api/v1/samples.
type SampleBatch struct {
	DeviceID string   `json:"device_id"`
	Samples  []Sample `json:"samples"`
}

// Prediction sources.
const (
	SourceIMU     = "imu"
	SourceDrawing = "drawing"
)

// Prediction is a single recognised character.
type Prediction struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Character  string    `json:"character"`
	Confidence float64   `json:"confidence"`
	ClassIndex int       `json:"class_index"`
	DataPoints int       `json:"data_points,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
