// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort         : port for the REST API, /metrics and WebSocket hub (default 5000)
//   - GRPCPort         : port for the gRPC health service (default 50051)
//   - LogLevel         : debug | info | warn | error (default info, hot-reloadable)
//   - Auth             : API-key enforcement for gRPC and HTTP clients
//   - CORS             : allowed browser origins (default "*")
//   - Collection       : recording directory, sample source and stop timeout
//   - Normalize        : tensor shape and clip bound for IMU preprocessing
//   - Models           : classifier model files and label sets
//   - History          : prediction retention and optional SQLite file
//   - Corrector        : local LLM endpoint for word correction (hot-reloadable)
//   - Stream           : status broadcast interval for /ws/stream
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change.
package config
