// Package rate implements the per-source fixed-window request limits of
// the HTTP surface.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit, keyed
// rl:<scope>:<key>:<window index>. While Redis fails, counting continues
// in process memory, so a limit is per node until Redis returns.
package rate
