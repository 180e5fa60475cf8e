// Package auth enforces API-key authentication for the server.
//
// APIKeyInterceptor and APIKeyStreamInterceptor guard the gRPC health
// service; Middleware guards the HTTP API. All three share one rule: when
// mode != "apikey" or key == "" every call passes through (local
// development with auth disabled). Otherwise the named header must carry the
// exact key; anything else is rejected with codes.Unauthenticated or
// HTTP 401.
package auth
