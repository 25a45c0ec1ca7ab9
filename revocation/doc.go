// Package revocation keeps the per-token denylist and the per-principal
// revocation cutoff.
//
// Redis is the primary backend. An in-process go-cache structure takes over
// when Redis is not configured or stops answering; Stats reports which one is
// live. Keys are "blacklist:<token>" and "user_blacklist:<principal>".
package revocation
