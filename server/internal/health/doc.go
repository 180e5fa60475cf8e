// Package health implements the standard gRPC health service
// (grpc.health.v1.Health) for the recognition server.
//
// The overall service ("") and ServiceName report SERVING while the readiness
// func returns true and NOT_SERVING otherwise. The device agent probes this
// before it starts shipping samples. Any other service name is NotFound.
package health
