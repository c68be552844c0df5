package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chirino/sms-service/internal/config"
	"github.com/chirino/sms-service/internal/model"
	"github.com/chirino/sms-service/internal/modem"
	registrystore "github.com/chirino/sms-service/internal/registry/store"
	"github.com/stretchr/testify/require"

	_ "github.com/chirino/sms-service/internal/plugin/store/sqlite"
)

// fakeSource is an in-memory modem.Source. Deletions remove the message from
// the modem's queue unless an error is configured for its path; attempted
// deletions are recorded either way.
type fakeSource struct {
	modems        []modem.Modem
	messages      map[string][]modem.Message // keyed by modem path
	listModemsErr error
	listErr       map[string]error // keyed by modem path
	deleteErr     map[string]error // keyed by message path
	deleted       []string         // message paths, in attempt order
}

func (f *fakeSource) ListModems(ctx context.Context) ([]modem.Modem, error) {
	if f.listModemsErr != nil {
		return nil, f.listModemsErr
	}
	return f.modems, nil
}

func (f *fakeSource) ListMessages(ctx context.Context, m modem.Modem) ([]modem.Message, error) {
	if err := f.listErr[m.Path]; err != nil {
		return nil, err
	}
	return f.messages[m.Path], nil
}

func (f *fakeSource) DeleteMessage(ctx context.Context, m modem.Modem, messagePath string) error {
	f.deleted = append(f.deleted, messagePath)
	if err := f.deleteErr[messagePath]; err != nil {
		return err
	}
	kept := f.messages[m.Path][:0]
	for _, msg := range f.messages[m.Path] {
		if msg.Path != messagePath {
			kept = append(kept, msg)
		}
	}
	f.messages[m.Path] = kept
	return nil
}

// failingStore wraps a MessageStore and fails selected operations.
type failingStore struct {
	registrystore.MessageStore
	existsErr error
	insertErr error
}

func (s *failingStore) Exists(ctx context.Context, msg model.Message) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.MessageStore.Exists(ctx, msg)
}

func (s *failingStore) Insert(ctx context.Context, msg *model.Message) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.MessageStore.Insert(ctx, msg)
}

func newTestStore(t *testing.T) registrystore.MessageStore {
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

func countRows(t *testing.T, store registrystore.MessageStore) int {
	t.Helper()
	rows, err := store.Query(context.Background(), nil, nil)
	require.NoError(t, err)
	return len(rows)
}

var t1 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func twoModemSource() *fakeSource {
	return &fakeSource{
		modems: []modem.Modem{
			{Path: "/org/freedesktop/ModemManager1/Modem/0", IMEI: "356938035643809"},
			{Path: "/org/freedesktop/ModemManager1/Modem/1", IMEI: "490154203237518"},
		},
		messages: map[string][]modem.Message{
			"/org/freedesktop/ModemManager1/Modem/0": {
				{Sender: "Alice", Text: "hello", Timestamp: t1, Path: "/org/freedesktop/ModemManager1/SMS/0"},
			},
		},
		listErr:   map[string]error{},
		deleteErr: map[string]error{},
	}
}

func TestCycleIngestsAndDeletes(t *testing.T) {
	store := newTestStore(t)
	source := twoModemSource()
	poller := NewPoller(source, store, time.Second)

	poller.RunCycle(context.Background())

	rows, err := store.Query(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "356938035643809", rows[0].IMEI)
	require.Equal(t, "Alice", rows[0].Sender)
	require.Equal(t, "hello", rows[0].Text)

	require.Equal(t, []string{"/org/freedesktop/ModemManager1/SMS/0"}, source.deleted)
	require.Empty(t, source.messages["/org/freedesktop/ModemManager1/Modem/0"])
}

func TestFailedDeleteDoesNotDuplicateOnRetry(t *testing.T) {
	store := newTestStore(t)
	source := twoModemSource()
	source.deleteErr["/org/freedesktop/ModemManager1/SMS/0"] = errors.New("modem went away")
	poller := NewPoller(source, store, time.Second)

	// First cycle: insert succeeds, delete fails, message stays on the modem.
	poller.RunCycle(context.Background())
	require.Equal(t, 1, countRows(t, store))
	require.Len(t, source.messages["/org/freedesktop/ModemManager1/Modem/0"], 1)

	// Second cycle: the exists-check redirects to delete-only.
	delete(source.deleteErr, "/org/freedesktop/ModemManager1/SMS/0")
	poller.RunCycle(context.Background())
	require.Equal(t, 1, countRows(t, store))
	require.Empty(t, source.messages["/org/freedesktop/ModemManager1/Modem/0"])

	// Deletion was attempted on both cycles.
	require.Len(t, source.deleted, 2)
}

func TestExistsFailureSkipsMessageWithoutDeletion(t *testing.T) {
	store := &failingStore{
		MessageStore: newTestStore(t),
		existsErr:    errors.New("store unavailable"),
	}
	source := twoModemSource()
	poller := NewPoller(source, store, time.Second)

	poller.RunCycle(context.Background())

	require.Equal(t, 0, countRows(t, store))
	require.Empty(t, source.deleted)
	require.Len(t, source.messages["/org/freedesktop/ModemManager1/Modem/0"], 1)
}

func TestInsertFailureLeavesMessageOnModem(t *testing.T) {
	store := &failingStore{
		MessageStore: newTestStore(t),
		insertErr:    errors.New("disk full"),
	}
	source := twoModemSource()
	poller := NewPoller(source, store, time.Second)

	poller.RunCycle(context.Background())

	require.Equal(t, 0, countRows(t, store))
	require.Empty(t, source.deleted)
	require.Len(t, source.messages["/org/freedesktop/ModemManager1/Modem/0"], 1)
}

func TestModemFailureDoesNotAbortCycle(t *testing.T) {
	store := newTestStore(t)
	source := twoModemSource()
	source.messages["/org/freedesktop/ModemManager1/Modem/1"] = []modem.Message{
		{Sender: "Bob", Text: "still here", Timestamp: t1, Path: "/org/freedesktop/ModemManager1/SMS/7"},
	}
	source.listErr["/org/freedesktop/ModemManager1/Modem/0"] = errors.New("modem A unreachable")
	poller := NewPoller(source, store, time.Second)

	poller.RunCycle(context.Background())

	rows, err := store.Query(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "490154203237518", rows[0].IMEI)
}

func TestListModemsFailureAbortsCycleOnly(t *testing.T) {
	store := newTestStore(t)
	source := twoModemSource()
	source.listModemsErr = errors.New("bus gone")
	poller := NewPoller(source, store, time.Second)

	poller.RunCycle(context.Background())
	require.Equal(t, 0, countRows(t, store))

	// Next cycle recovers once enumeration works again.
	source.listModemsErr = nil
	poller.RunCycle(context.Background())
	require.Equal(t, 1, countRows(t, store))
}

func TestStartStopsOnContextCancel(t *testing.T) {
	store := newTestStore(t)
	source := twoModemSource()
	poller := NewPoller(source, store, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return countRows(t, store) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
}
