package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/engine"
)

func createTestSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Datastore.SQLite.Enabled = true
	s.Datastore.SQLite.Path = filepath.Join(t.TempDir(), "btsink.db")
	return s
}

func createDatabase(t *testing.T, settings *conf.Settings) Interface {
	t.Helper()
	store, err := New(settings, nil)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestNewRequiresBackend(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New(&conf.Settings{}, nil)
	assert.Error(t, err, "neither backend enabled")

	store, err := New(createTestSettings(t), nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)

	s := createTestSettings(t)
	s.Datastore.MySQL.Enabled = true
	store, err = New(s, nil)
	require.NoError(t, err)
	assert.IsType(t, &MySQLStore{}, store, "mysql wins when both are enabled")
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	t.Parallel()

	store := createDatabase(t, createTestSettings(t))
	ctx := context.Background()

	connected := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	session := &DeviceSession{
		SessionID:   "3f1c9a52-0000-0000-0000-000000000001",
		Device:      "AA:BB:CC:DD:EE:FF",
		ConnectedAt: connected,
	}
	require.NoError(t, store.SaveSession(ctx, session))
	require.NotZero(t, session.ID)

	sessions, err := store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", sessions[0].Device)
	assert.Nil(t, sessions[0].DisconnectedAt)

	disconnected := connected.Add(42 * time.Minute)
	require.NoError(t, store.CloseSession(ctx, &DeviceSession{
		SessionID:      session.SessionID,
		CodecName:      "ldac",
		SampleRate:     96000,
		BitDepth:       32,
		Channels:       2,
		DisconnectedAt: &disconnected,
	}))

	sessions, err = store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ldac", sessions[0].CodecName)
	assert.Equal(t, 96000, sessions[0].SampleRate)
	require.NotNil(t, sessions[0].DisconnectedAt)
	assert.WithinDuration(t, disconnected, *sessions[0].DisconnectedAt, time.Second)
}

func TestSQLiteRecentSessionsOrderAndLimit(t *testing.T) {
	t.Parallel()

	store := createDatabase(t, createTestSettings(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, store.SaveSession(ctx, &DeviceSession{
			SessionID:   string(rune('a'+i)) + "-session",
			Device:      "AA:BB:CC:DD:EE:FF",
			ConnectedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	sessions, err := store.RecentSessions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "e-session", sessions[0].SessionID, "newest first")
	assert.Equal(t, "d-session", sessions[1].SessionID)
	assert.Equal(t, "c-session", sessions[2].SessionID)
}

func TestSQLiteSnapshotsSinceAndPrune(t *testing.T) {
	t.Parallel()

	store := createDatabase(t, createTestSettings(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, store.SaveSnapshot(ctx, &StatsSnapshot{
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			SessionID: "s-1",
			Writes:    uint64(100 * (i + 1)),
		}))
	}

	snaps, err := store.SnapshotsSince(ctx, base.Add(time.Minute), 100)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, uint64(200), snaps[0].Writes, "oldest of the window first")
	assert.Equal(t, uint64(300), snaps[1].Writes)

	pruned, err := store.PruneSnapshots(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	snaps, err = store.SnapshotsSince(ctx, base, 100)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestSQLiteOperationsRequireOpen(t *testing.T) {
	t.Parallel()

	store, err := New(createTestSettings(t), nil)
	require.NoError(t, err)

	err = store.SaveSession(context.Background(), &DeviceSession{SessionID: "x"})
	assert.Error(t, err, "operations before Open fail cleanly")
}

type stubStatusSource struct {
	status engine.Status
}

func (s *stubStatusSource) Status() engine.Status { return s.status }

func TestRecorderPersistsSessions(t *testing.T) {
	t.Parallel()

	store := createDatabase(t, createTestSettings(t))
	rec := NewRecorder(store, 0)

	session := engine.Session{
		ID:          "11111111-2222-3333-4444-555555555555",
		Device:      "AA:BB:CC:DD:EE:FF",
		ConnectedAt: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
	}
	rec.SessionStarted(session)

	session.Codec = engine.CodecInfo{Name: "aac", SampleRate: 48000, BitDepth: 16, Channels: 2}
	session.DisconnectedAt = session.ConnectedAt.Add(10 * time.Minute)
	rec.SessionEnded(session)

	sessions, err := store.RecentSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "aac", sessions[0].CodecName)
	assert.Equal(t, 48000, sessions[0].SampleRate)
	require.NotNil(t, sessions[0].DisconnectedAt)
}

func TestRecorderSamplesOnlyWhileConnected(t *testing.T) {
	t.Parallel()

	store := createDatabase(t, createTestSettings(t))
	rec := NewRecorder(store, time.Hour)
	ctx := context.Background()

	source := &stubStatusSource{}
	rec.sample(ctx, source)

	snaps, err := store.SnapshotsSince(ctx, time.Time{}, 100)
	require.NoError(t, err)
	assert.Empty(t, snaps, "no rows while disconnected")

	source.status = engine.Status{
		Connected:  true,
		Session:    engine.Session{ID: "s-42"},
		Streaming:  true,
		SampleRate: 48000,
		Volume:     90,
		DuckGain:   0.2,
	}
	source.status.Pipeline.Writes = 1234
	source.status.Pipeline.Dropped = 5
	source.status.Analysis.BandDB[0] = -12.5
	rec.sample(ctx, source)

	snaps, err = store.SnapshotsSince(ctx, time.Time{}, 100)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "s-42", snaps[0].SessionID)
	assert.True(t, snaps[0].Streaming)
	assert.Equal(t, 48000, snaps[0].SampleRate)
	assert.Equal(t, 90, snaps[0].Volume)
	assert.Equal(t, uint64(1234), snaps[0].Writes)
	assert.Equal(t, uint64(5), snaps[0].Dropped)
	assert.InDelta(t, 0.2, snaps[0].DuckGain, 1e-9)
	assert.InDelta(t, -12.5, snaps[0].Band30DB, 1e-9)
}

func TestRecorderRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := createDatabase(t, createTestSettings(t))
	rec := NewRecorder(store, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- rec.Run(ctx, &stubStatusSource{})
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
}

func TestRecorderZeroIntervalDisablesLoop(t *testing.T) {
	t.Parallel()

	store := createDatabase(t, createTestSettings(t))
	rec := NewRecorder(store, 0)
	assert.NoError(t, rec.Run(context.Background(), &stubStatusSource{}))
}
