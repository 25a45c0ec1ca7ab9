// Package secrets validates signing secrets and token lifetimes at startup.
//
// Validation fails closed: a missing, short or placeholder secret, or an
// access lifetime that is not shorter than the refresh lifetime, yields
// ErrConfigInvalid. The production profile additionally rejects secrets that
// merely look like placeholders.
package secrets
