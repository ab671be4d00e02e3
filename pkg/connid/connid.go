// Package connid generates per-connection correlation ids used to tie
// together every event emitted for a single connection's lifecycle.
package connid

import "github.com/google/uuid"

// New returns a fresh correlation id. peer_addr alone is not unique across
// reconnects from the same client, so every accepted connection gets one
// of these for log correlation.
func New() string {
	return uuid.NewString()
}
