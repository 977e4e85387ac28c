// Package transport provides the listener and connection primitives used by
// the fan-out engine: listen, non-blocking accept, non-blocking send and
// close over TCP or WebSocket. Sends are queued per connection and report
// ErrWouldBlock instead of stalling the caller.
package transport
