package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAppliesMigrationsAndRecords(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "events.db")
	store, err := Open(dsn)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, "s1", "connected", "pid 12345"))
	require.NoError(t, store.Record(ctx, "s1", "disconnected", ""))

	events, err := store.ForSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "connected", events[0].Event)
	require.Equal(t, "disconnected", events[1].Event)
}

func TestOpenIsIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "events.db")
	store1, err := Open(dsn)
	require.NoError(t, err)
	store1.Close()

	store2, err := Open(dsn)
	require.NoError(t, err)
	defer store2.Close()
}
