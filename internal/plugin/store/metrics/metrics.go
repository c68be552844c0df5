package metrics

import (
	"context"
	"time"

	"github.com/chirino/sms-service/internal/model"
	"github.com/chirino/sms-service/internal/registry/store"
	"github.com/chirino/sms-service/internal/security"
)

// Wrap returns a MessageStore that records StoreLatency for every operation.
func Wrap(inner store.MessageStore) store.MessageStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MessageStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *metricsStore) Exists(ctx context.Context, msg model.Message) (bool, error) {
	defer observe("exists", time.Now())
	return m.inner.Exists(ctx, msg)
}

func (m *metricsStore) Insert(ctx context.Context, msg *model.Message) error {
	defer observe("insert", time.Now())
	return m.inner.Insert(ctx, msg)
}

func (m *metricsStore) Query(ctx context.Context, imei *string, after *time.Time) ([]model.Message, error) {
	defer observe("query", time.Now())
	return m.inner.Query(ctx, imei, after)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}
