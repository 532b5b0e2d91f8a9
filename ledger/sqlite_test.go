package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raidolabs/raido/models"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := Event{
		Kind:     KindAdded,
		VolumeID: common.HexToHash("0xaa"),
		Cell:     models.CellFromGrid(0, 4, 4),
		Actor:    common.HexToAddress("0xbb"),
		Time:     at,
	}

	t.Run("append assigns sequence numbers", func(t *testing.T) {
		seq, err := store.Append(want)
		require.NoError(t, err)
		require.Equal(t, uint64(1), seq)

		seq, err = store.Append(want)
		require.NoError(t, err)
		require.Equal(t, uint64(2), seq)
	})

	t.Run("range roundtrips every field", func(t *testing.T) {
		events, err := store.Range(1, 1)
		require.NoError(t, err)
		require.Len(t, events, 1)

		got := events[0]
		require.Equal(t, uint64(1), got.Seq)
		require.Equal(t, want.Kind, got.Kind)
		require.Equal(t, want.VolumeID, got.VolumeID)
		require.Equal(t, want.Cell, got.Cell)
		require.Equal(t, want.Actor, got.Actor)
		require.Equal(t, want.Time, got.Time)
	})

	t.Run("range beyond the head is empty", func(t *testing.T) {
		events, err := store.Range(10, 20)
		require.NoError(t, err)
		require.Empty(t, events)
	})

	t.Run("inverted bounds are rejected", func(t *testing.T) {
		_, err := store.Range(2, 1)
		require.Error(t, err)
	})

	t.Run("head", func(t *testing.T) {
		head, err := store.Head()
		require.NoError(t, err)
		require.Equal(t, uint64(2), head)
	})
}

func TestSQLiteStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)

	e := Event{
		Kind:     KindDeleted,
		VolumeID: common.HexToHash("0xaa"),
		Cell:     models.CellFromGrid(1, 2, 4),
		Actor:    common.HexToAddress("0xbb"),
		Time:     time.Now().UTC().Truncate(time.Millisecond),
	}
	_, err = store.Append(e)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	head, err := reopened.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(1), head)

	events, err := reopened.Range(1, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, e.Kind, events[0].Kind)
	require.Equal(t, e.Cell, events[0].Cell)
	require.Equal(t, e.Time, events[0].Time)

	// New appends continue the sequence.
	seq, err := reopened.Append(e)
	require.NoError(t, err)
	require.Equal(t, uint64(2), seq)
}

func TestSQLiteStoreEmpty(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()

	head, err := store.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(0), head)

	events, err := store.Range(1, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}
