// Package authkernel is the authentication, session and tenant-isolation
// kernel of the exchange platform: password login with lockout, signed
// access and refresh tokens, per-device sessions, two-factor login,
// revocation and the audit and fraud lanes that watch them.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// authkernel exposes [Engine], [Builder], [Config] and value types. Record
// storage sits behind [store.Directory]; Redis-backed state (sessions,
// revocation, challenges, velocity) falls back to process memory when no
// client is configured. The gate package builds tenant scoping on top of
// [Engine.VerifyAccess]; httpapi and middleware are the HTTP surface.
//
// # Failure behaviour
//
// Token checks fail closed: a revocation backend that cannot answer
// rejects the token with [ErrStoreUnavailable]. The fraud lane fails open:
// an evaluation error never blocks a login. Audit recording never fails a
// request.
package authkernel
