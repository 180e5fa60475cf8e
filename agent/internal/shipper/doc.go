// Package shipper sends IMU samples to airscribe-server as JSON batches
// (POST /api/v1/samples, body types.SampleBatch).
//
// Shipper.Ship() is non-blocking: samples are placed in an in-memory channel
// (default capacity 1000). When the buffer is full the oldest sample is
// evicted so the most recent motion is always preserved.
//
// Shipper.Run() first probes the server's gRPC health service
// (airscribe.Recognizer) and only starts draining once it reports SERVING.
// Batches are flushed at batch_size samples or every flush_interval. Failed
// probes and sends are retried with truncated exponential backoff
// (1s→60s, ±25% jitter). 4xx responses other than 429 discard the batch
// immediately rather than retrying.
//
// Auth: mTLS client certificates on both the HTTP client and the gRPC probe,
// or an API key sent as an HTTP header and as gRPC metadata.
//
// The dialFn and wait fields are injectable for testing.
package shipper
