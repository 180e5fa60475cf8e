package api

import (
	"time"

	"github.com/airscribe/airscribe/pkg/types"
	"github.com/airscribe/airscribe/server/internal/collector"
)

// StartResponse is the payload for POST /api/v1/collection/start.
type StartResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	File      string `json:"file,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"` // RFC3339
}

// StopResponse is the payload for POST /api/v1/collection/stop.
type StopResponse struct {
	Status       string  `json:"status"`
	Character    string  `json:"character"`
	Confidence   float64 `json:"confidence"`
	ClassIndex   int     `json:"class_index"`
	Message      string  `json:"message"`
	DataPoints   int     `json:"data_points"`
	SessionID    string  `json:"session_id"`
	File         string  `json:"file"`
	Detached     bool    `json:"detached,omitempty"`
	PredictionID string  `json:"prediction_id"`
}

// StatusResponse is the payload for GET /api/v1/collection/status and the
// data of "status" websocket events.
type StatusResponse struct {
	IsCollecting bool                  `json:"is_collecting"`
	SessionID    string                `json:"session_id,omitempty"`
	DataPoints   int                   `json:"data_points"`
	LastSample   *collector.LastSample `json:"last_sample"`
	Message      string                `json:"message"`
	GeneratedAt  string                `json:"generated_at"` // RFC3339
}

// SamplesResponse is the payload for POST /api/v1/samples.
type SamplesResponse struct {
	Accepted   int  `json:"accepted"`
	Dropped    int  `json:"dropped"`
	Collecting bool `json:"collecting"`
}

// PredictRequest is the body of POST /api/v1/predict. A null cell is read
// as a missing value (NaN) and imputed during preprocessing.
type PredictRequest struct {
	Rows [][]*float64 `json:"rows"`
}

// PredictionResponse is returned by the predict endpoints.
type PredictionResponse struct {
	types.Prediction
	Message string `json:"message"`
}

// PredictionsResponse is the payload for GET /api/v1/predictions.
type PredictionsResponse struct {
	Predictions []types.Prediction `json:"predictions"`
	Count       int                `json:"count"`
}

// CorrectRequest is the body of POST /api/v1/correct-word.
type CorrectRequest struct {
	Word    string `json:"word"`
	Context string `json:"context"`
}

// CorrectResponse is the payload for POST /api/v1/correct-word. Fallback is
// true when the LLM could not be reached and Corrected is the input word.
type CorrectResponse struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// StatusFrom maps a collector status to its JSON representation.
func StatusFrom(st collector.Status) StatusResponse {
	return StatusResponse{
		IsCollecting: st.Collecting(),
		SessionID:    st.SessionID,
		DataPoints:   st.DataPoints,
		LastSample:   st.LastSample,
		Message:      st.Message,
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

// BuildStatus returns the current status of c.
func BuildStatus(c *collector.Collector) StatusResponse {
	return StatusFrom(c.Status())
}
