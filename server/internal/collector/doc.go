// Package collector owns IMU collection sessions.
//
// A Collector is either Idle or Collecting. Start moves Idle → Collecting and
// launches one worker goroutine that pulls samples from a Source and appends
// them to a new recording file (one comma-separated row per sample). A second
// Start while Collecting fails with ErrAlreadyRunning; nothing is queued.
//
// Stop signals the worker and waits up to the configured stop timeout. If the
// worker has not exited by then Stop returns anyway and the Recording is
// marked Detached; the worker still closes its file when it finishes.
//
// Callers only ever see immutable Session and Recording values; the open file
// handle never leaves the worker.
//
// Sources:
//   - Simulated replays a recorded handwriting trajectory with jitter at a
//     fixed sample rate.
//   - Push buffers samples delivered over HTTP by the device agent.
package collector
