// Package store defines the message store contract and the plugin registry
// that backend implementations register themselves with from init().
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/sms-service/internal/model"
)

// MessageStore is durable, idempotency-checkable persistence of messages.
//
// Exists and Insert are deliberately separate calls: the store never enforces
// the dedup key itself, because the enforcement policy (check before insert,
// delete from the modem only after a durable write) belongs to the poller.
// Implementations must be safe for concurrent use by the poller and query
// handlers; the reference sqlite backend serializes every operation through a
// single mutex, and no modem I/O ever happens while a store call is in flight.
type MessageStore interface {
	// Exists reports whether a row with the same (imei, sender, text,
	// timestamp) tuple is already stored.
	Exists(ctx context.Context, msg model.Message) (bool, error)

	// Insert appends a new message row. It does not check uniqueness.
	Insert(ctx context.Context, msg *model.Message) error

	// Query returns matching rows ordered ascending by timestamp. A nil imei
	// matches all devices; a non-nil after is a strict (exclusive) lower bound.
	Query(ctx context.Context, imei *string, after *time.Time) ([]model.Message, error)

	Close() error
}

// Loader creates a store from the config carried in ctx.
type Loader func(ctx context.Context) (MessageStore, error)

// Plugin represents a store backend.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
