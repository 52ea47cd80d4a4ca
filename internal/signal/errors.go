package signal

import "errors"

var (
	// ErrNotConnected is returned by Send when the transport is not in the
	// Connected state.
	ErrNotConnected = errors.New("signal: transport not connected")

	// ErrConnectFailed wraps dial failures so the reconnect supervisor can
	// distinguish them from send-path errors.
	ErrConnectFailed = errors.New("signal: connect failed")

	// ErrClosed is returned by operations on a transport after Close.
	ErrClosed = errors.New("signal: transport closed")

	// ErrReconnectExhausted is surfaced by the supervisor once the retry
	// budget is spent.
	ErrReconnectExhausted = errors.New("signal: reconnect attempts exhausted")
)
