// Package modem defines the capability interface over the modem-management
// service that the ingestion poller consumes. The production implementation
// lives in the mmdbus sub-package; tests substitute in-memory fakes.
package modem

import (
	"context"
	"time"
)

// Modem identifies one modem for the duration of a poll cycle. Path is the
// transient D-Bus object path; it may change when a modem reconnects. IMEI is
// the durable device identity messages are stored under.
type Modem struct {
	Path string `json:"path"`
	IMEI string `json:"imei"`
}

// Message is a transient message still queued on a modem's own storage. Path
// addresses the message for deletion and is only valid within the cycle that
// listed it.
type Message struct {
	Sender    string
	Text      string
	Timestamp time.Time
	Path      string
}

// Source enumerates modems and their pending messages.
type Source interface {
	// ListModems returns the currently visible modems sorted by Path so
	// repeated cycles iterate in a stable order. An empty slice is a valid,
	// non-error result.
	ListModems(ctx context.Context) ([]Modem, error)

	// ListMessages returns all messages queued on the modem. Order is
	// source-defined and not guaranteed chronological.
	ListMessages(ctx context.Context, m Modem) ([]Message, error)

	// DeleteMessage removes one message from the modem's internal storage.
	DeleteMessage(ctx context.Context, m Modem, messagePath string) error
}
