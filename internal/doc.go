// Package internal holds random code generation and the hashing used for
// refresh records and device fingerprints.
package internal
