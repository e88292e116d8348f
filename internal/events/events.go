// Package events fans telemetry out to websocket subscribers.
package events

import "codeberg.org/mutker/pulsecore/internal/errors"

const (
	EventSnapshot = "telemetry.snapshot"
	EventWarning  = "system.warning"

	SourceHistoryPrune = "history_prune"
)

const (
	ErrHubFull   = errors.ErrorCode("events_hub_full")
	ErrHubClosed = errors.ErrorCode("events_hub_closed")
	ErrEncode    = errors.ErrorCode("events_encode_failed")
)

// Envelope is the wire form of every published event.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Warning is the payload of a system.warning event.
type Warning struct {
	Message string `json:"message"`
	Source  string `json:"source"`
}
