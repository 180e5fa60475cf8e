// Package ws implements the WebSocket hub for the recognition server.
//
// Hub manages a set of connected clients. It sends the collection status to
// every client on a fixed interval, and immediately whenever Publish is
// called (collection started or stopped, prediction made).
//
// New(collector, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker, blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket and sends the
// current status immediately on connect.
//
// Message format sent to clients:
//
//	{
//	  "event": "status" | "prediction",
//	  "data":  { /* GET /api/v1/collection/status body, or a prediction */ }
//	}
//
// The upgrader accepts all origins. The endpoint is mounted at /ws/stream.
package ws
