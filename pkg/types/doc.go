// Package types defines shared Go types used by both the agent and server.
// These are the JSON wire representations of IMU samples and predictions,
// separate from the server's internal tensor and recording types.
package types
