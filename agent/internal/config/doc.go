// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: server_url, server_endpoint, device_id, log_level, source,
//     batch_size, flush_interval, buffer_size, server_auth
//   - SourceConfig: type (simulated|replay), path, rate_hz, noise
//   - AuthConfig: mode (mtls|apikey|none), cert/key/ca files, header,
//     key_env; Key() resolves the API key from the environment
//
// Load(path) reads the YAML file, applies defaults (simulated source at 50 Hz,
// batches of 25 flushed every 500ms, 1000 sample buffer), then validates
// required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config.
package config
