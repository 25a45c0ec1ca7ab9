// Package session stores each principal's active session list and the
// refresh-token records that point into it.
//
// Mutations of one principal's list are serialised: Redis applies them in a
// single script, the memory store holds a per-principal lock. A login that
// pushes the list past MaxSessions evicts the oldest entries.
package session
