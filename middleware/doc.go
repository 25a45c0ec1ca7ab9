// Package middleware adapts the gate and the rate limiter to net/http.
//
//   - [ClientInfo] records the caller's address, user agent and device id.
//   - [RateLimiter] enforces the per-source request limits.
//   - [Guard] authorizes a route action and stores the decision.
//
// Errors are handed to an [ErrorHandler] so the API package owns the
// response envelope.
package middleware
