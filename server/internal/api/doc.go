// Package api implements the HTTP JSON API of the recognition server.
//
// New(deps) returns an http.Handler that serves:
//
//	POST /api/v1/collection/start   (alias /start)  : begin an IMU session
//	POST /api/v1/collection/stop    (alias /stop)   : end it and predict
//	GET  /api/v1/collection/status  (alias /status) : current session state
//	POST /api/v1/samples                            : agent sample batches
//	POST /api/v1/predict                            : predict from JSON rows
//	POST /api/v1/predict/drawing    (alias /predict): predict from an image
//	GET  /api/v1/predictions                        : recent predictions
//	POST /api/v1/correct-word                       : LLM word correction
//	GET  /metrics                                   : Prometheus exposition
//
// All endpoints respond with Content-Type: application/json (except
// /metrics) and return 405 for the wrong method. Preprocessing failures map
// to 422 with error "preprocessing_failed". No external HTTP framework is
// used.
package api
