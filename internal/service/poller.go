// Package service contains the background services run by the serve command.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/sms-service/internal/model"
	"github.com/chirino/sms-service/internal/modem"
	registrystore "github.com/chirino/sms-service/internal/registry/store"
	"github.com/chirino/sms-service/internal/security"
	"github.com/prometheus/client_golang/prometheus"
)

// Poller drives the ingestion pipeline: each cycle it enumerates modems,
// lists their pending messages, and for each message runs the
// exists → insert → delete sequence against the store and the source.
//
// Messages are processed strictly sequentially, one modem at a time. No
// timeout bounds a single source call beyond ctx; a slow modem stalls the
// remainder of its cycle.
type Poller struct {
	source   modem.Source
	store    registrystore.MessageStore
	interval time.Duration
}

// NewPoller creates a poller that sleeps interval between cycles.
func NewPoller(source modem.Source, store registrystore.MessageStore, interval time.Duration) *Poller {
	return &Poller{source: source, store: store, interval: interval}
}

// Start runs poll cycles until ctx is cancelled. Cancellation is only
// observed between cycles; a cycle in flight always completes.
func (p *Poller) Start(ctx context.Context) {
	log.Info("Starting SMS poller", "interval", p.interval)
	for {
		p.RunCycle(ctx)
		select {
		case <-ctx.Done():
			log.Info("SMS poller stopped")
			return
		case <-time.After(p.interval):
		}
	}
}

// RunCycle performs one full enumeration and ingestion pass. Errors are
// handled at the smallest retryable unit: a message failure does not abort
// its modem, a modem failure does not abort the cycle, and an enumeration
// failure aborts only this cycle.
func (p *Poller) RunCycle(ctx context.Context) {
	modems, err := p.source.ListModems(ctx)
	if err != nil {
		log.Error("Failed to list modems, skipping cycle", "err", err)
		countError("list_modems")
		return
	}
	if security.ModemsVisible != nil {
		security.ModemsVisible.Set(float64(len(modems)))
	}

	for _, m := range modems {
		p.pollModem(ctx, m)
	}
	countCycle()
}

func (p *Poller) pollModem(ctx context.Context, m modem.Modem) {
	messages, err := p.source.ListMessages(ctx, m)
	if err != nil {
		log.Error("Failed to list messages on modem", "imei", m.IMEI, "path", m.Path, "err", err)
		countError("list_messages")
		return
	}
	if len(messages) == 0 {
		return
	}

	log.Info("Found messages on modem", "count", len(messages), "imei", m.IMEI)
	for _, sms := range messages {
		if err := p.processMessage(ctx, m, sms); err != nil {
			log.Error("Failed to process message",
				"imei", m.IMEI, "sender", sms.Sender, "err", err)
		}
	}
}

// processMessage runs the exists → insert → delete sequence for one message.
// The idempotency check comes first and the irreversible modem-side deletion
// last, so a crash or failure at any single step leaves a state the next
// cycle converges from: a failed delete is re-detected as a duplicate, and a
// failed check or insert leaves the message untouched on the modem.
func (p *Poller) processMessage(ctx context.Context, m modem.Modem, sms modem.Message) error {
	msg := model.Message{
		IMEI:      m.IMEI,
		Sender:    sms.Sender,
		Text:      sms.Text,
		Timestamp: sms.Timestamp,
	}
	msg.Normalize()

	exists, err := p.store.Exists(ctx, msg)
	if err != nil {
		countError("exists")
		return fmt.Errorf("exists check: %w", err)
	}

	if exists {
		// Stored by an earlier cycle whose delete failed. Clear the modem
		// copy without re-inserting.
		if err := p.source.DeleteMessage(ctx, m, sms.Path); err != nil {
			countError("delete")
			return fmt.Errorf("delete duplicate: %w", err)
		}
		countDuplicate()
		log.Info("Deleted already-stored message from modem", "imei", m.IMEI, "sender", sms.Sender)
		return nil
	}

	if err := p.store.Insert(ctx, &msg); err != nil {
		// No deletion after a failed insert; deleting here would lose the message.
		countError("insert")
		return fmt.Errorf("insert: %w", err)
	}
	countIngested()
	log.Info("Stored message", "imei", m.IMEI, "sender", sms.Sender, "timestamp", msg.Timestamp)

	if err := p.source.DeleteMessage(ctx, m, sms.Path); err != nil {
		// The row is durable; next cycle the exists-check redirects this
		// message to the delete-only path.
		countError("delete")
		log.Error("Failed to delete stored message from modem, will retry next cycle",
			"imei", m.IMEI, "sender", sms.Sender, "err", err)
	}
	return nil
}

// Metric helpers tolerate InitMetrics never having run (unit tests).

func countCycle()     { inc(security.PollCyclesTotal) }
func countIngested()  { inc(security.MessagesIngestedTotal) }
func countDuplicate() { inc(security.DuplicatesDeletedTotal) }

func countError(stage string) {
	if security.PollErrorsTotal != nil {
		security.PollErrorsTotal.WithLabelValues(stage).Inc()
	}
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
