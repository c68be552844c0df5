package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/sms-service/internal/config"
	"github.com/chirino/sms-service/internal/model"
	registrystore "github.com/chirino/sms-service/internal/registry/store"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) registrystore.MessageStore {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DBURL = ":memory:"
	ctx := config.WithContext(context.Background(), &cfg)

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func msg(imei, sender, text string, ts time.Time) model.Message {
	return model.Message{IMEI: imei, Sender: sender, Text: text, Timestamp: ts}
}

var (
	t1 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
	t3 = t2.Add(time.Hour)
)

func TestExistsMatchesFullTuple(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	m := msg("356938035643809", "Alice", "hello", t1)
	require.NoError(t, store.Insert(ctx, &m))
	require.NotZero(t, m.ID)

	exists, err := store.Exists(ctx, msg("356938035643809", "Alice", "hello", t1))
	require.NoError(t, err)
	require.True(t, exists)

	// Any differing tuple element is a different message.
	for _, other := range []model.Message{
		msg("490154203237518", "Alice", "hello", t1),
		msg("356938035643809", "Bob", "hello", t1),
		msg("356938035643809", "Alice", "goodbye", t1),
		msg("356938035643809", "Alice", "hello", t2),
	} {
		exists, err := store.Exists(ctx, other)
		require.NoError(t, err)
		require.False(t, exists)
	}
}

func TestExistsNormalizesTimestampZone(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	m := msg("356938035643809", "Alice", "hello", t1)
	require.NoError(t, store.Insert(ctx, &m))

	// Same instant expressed in a non-UTC zone must still match.
	cet := time.FixedZone("CET", 3600)
	exists, err := store.Exists(ctx, msg("356938035643809", "Alice", "hello", t1.In(cet)))
	require.NoError(t, err)
	require.True(t, exists)
}

func TestQueryOrdersByTimestampAscending(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// Inserted out of order on purpose.
	for _, ts := range []time.Time{t2, t3, t1} {
		m := msg("356938035643809", "Alice", "at "+ts.Format(time.RFC3339), ts)
		require.NoError(t, store.Insert(ctx, &m))
	}

	rows, err := store.Query(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.True(t, rows[0].Timestamp.Equal(t1))
	require.True(t, rows[1].Timestamp.Equal(t2))
	require.True(t, rows[2].Timestamp.Equal(t3))
}

func TestQueryAfterIsExclusive(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := msg("356938035643809", "Alice", "at t2", t2)
	b := msg("356938035643809", "Alice", "just after t2", t2.Add(time.Second))
	require.NoError(t, store.Insert(ctx, &a))
	require.NoError(t, store.Insert(ctx, &b))

	after := t2
	rows, err := store.Query(ctx, nil, &after)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "just after t2", rows[0].Text)
}

func TestQueryFiltersByIMEI(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := msg("356938035643809", "Alice", "for A", t1)
	b := msg("490154203237518", "Bob", "for B", t2)
	require.NoError(t, store.Insert(ctx, &a))
	require.NoError(t, store.Insert(ctx, &b))

	imei := "490154203237518"
	rows, err := store.Query(ctx, &imei, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "for B", rows[0].Text)

	rows, err = store.Query(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestInsertDoesNotDeduplicate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// Uniqueness enforcement belongs to the caller; the store appends.
	a := msg("356938035643809", "Alice", "hello", t1)
	b := msg("356938035643809", "Alice", "hello", t1)
	require.NoError(t, store.Insert(ctx, &a))
	require.NoError(t, store.Insert(ctx, &b))

	rows, err := store.Query(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}
