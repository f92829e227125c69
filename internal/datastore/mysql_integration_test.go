package datastore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/btsink-go/internal/conf"
)

// TestMySQLStoreIntegration runs the session and snapshot round trip
// against a real MySQL server in a container. Gated behind an env var
// because it needs a working Docker daemon.
func TestMySQLStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	if os.Getenv("BTSINK_TEST_MYSQL") == "" {
		t.Skip("set BTSINK_TEST_MYSQL=1 to run the MySQL container test")
	}

	ctx := context.Background()
	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("btsink"),
		tcmysql.WithUsername("btsink"),
		tcmysql.WithPassword("btsink-test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("container terminate: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	settings := &conf.Settings{}
	settings.Datastore.MySQL = conf.MySQLSettings{
		Enabled:  true,
		Username: "btsink",
		Password: "btsink-test",
		Database: "btsink",
		Host:     host,
		Port:     port.Port(),
	}

	store, err := New(settings, nil)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	connected := time.Now().UTC().Truncate(time.Second)
	session := &DeviceSession{
		SessionID:   "mysql-itest-session-1",
		Device:      "AA:BB:CC:DD:EE:FF",
		ConnectedAt: connected,
	}
	require.NoError(t, store.SaveSession(ctx, session))

	disconnected := connected.Add(5 * time.Minute)
	require.NoError(t, store.CloseSession(ctx, &DeviceSession{
		SessionID:      session.SessionID,
		CodecName:      "sbc",
		SampleRate:     44100,
		BitDepth:       16,
		Channels:       2,
		DisconnectedAt: &disconnected,
	}))

	sessions, err := store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sbc", sessions[0].CodecName)
	require.NotNil(t, sessions[0].DisconnectedAt)

	require.NoError(t, store.SaveSnapshot(ctx, &StatsSnapshot{
		SessionID: session.SessionID,
		Writes:    1000,
		Streaming: true,
	}))
	snaps, err := store.SnapshotsSince(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, uint64(1000), snaps[0].Writes)
}
