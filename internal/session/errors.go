package session

import "errors"

var (
	// ErrNegotiationOverflow marks a session failed because a misbehaving
	// peer flooded more pre-description ICE candidates than the buffer cap.
	ErrNegotiationOverflow = errors.New("session: pending candidate buffer overflow")

	// ErrNegotiationDeadline marks a session failed because it stayed in
	// Negotiating past the configured deadline.
	ErrNegotiationDeadline = errors.New("session: negotiation deadline exceeded")

	// ErrMediaFailed marks a session failed because the media stack
	// reported an unrecoverable connectivity failure.
	ErrMediaFailed = errors.New("session: media transport failed")
)
