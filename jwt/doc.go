// Package jwt issues and verifies the HS256 access and refresh tokens.
//
// Access and refresh tokens are signed by separate managers with distinct
// secrets and carry a "typ" claim, so one kind is never accepted as the other.
// Refresh tokens are bound to a device id, user agent and IP fingerprint.
package jwt
