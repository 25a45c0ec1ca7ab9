// Package audit records security and business events.
//
// A Recorder normalizes an Entry into an Event (severity, tags, retention,
// time-ordered id) and hands it to an asynchronous Dispatcher. The
// dispatcher forwards to a Sink, usually a MultiSink of a Repository writer
// and a zap logger. Sink failures never reach the request path.
package audit
