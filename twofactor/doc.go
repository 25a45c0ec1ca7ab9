// Package twofactor implements TOTP enrollment and verification, one-time
// recovery codes and SMS code issuance.
//
// An enrollment moves through absent, pending and enabled. A pending
// enrollment holds a secret and recovery codes but does not gate login until
// a correct TOTP code confirms it. Recovery codes are stored as SHA-256
// hashes and consumed through a compare-and-swap on the enrollment version,
// so concurrent presentations of the same code succeed at most once.
//
// The package never performs delivery I/O. IssueSMSCode returns a
// DeliveryToken for the caller's transport.
package twofactor
