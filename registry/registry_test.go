package registry

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/raidolabs/raido/ledger"
	"github.com/raidolabs/raido/models"
	"github.com/stretchr/testify/require"
)

var (
	testOwner    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testOperator = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testStranger = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func newTestRegistry(t *testing.T) (*Registry, *ledger.Log) {
	t.Helper()

	log := ledger.NewLog(ledger.NewMemoryStore())
	t.Cleanup(func() { log.Close() })

	r, err := New(Config{
		Precision:    4,
		MaxPrecision: 16,
		Owner:        testOwner,
		Ledger:       log,
	})
	require.NoError(t, err)
	return r, log
}

func volumeID(s string) models.VolumeID {
	return common.BytesToHash(crypto.Keccak256([]byte(s)))
}

func upsertIn(id string, cells ...models.Cell) UpsertIn {
	return UpsertIn{
		ID:           volumeID(id),
		Cells:        cells,
		MinHeight:    0,
		MaxHeight:    120,
		StartTime:    1000,
		EndTime:      2000,
		URL:          "https://ops.example.com/" + id,
		EntityNumber: 7,
		Caller:       testOwner,
	}
}

func TestNew(t *testing.T) {
	log := ledger.NewLog(ledger.NewMemoryStore())
	defer log.Close()

	t.Run("rejects precision above the cap", func(t *testing.T) {
		_, err := New(Config{Precision: 17, MaxPrecision: 16, Owner: testOwner, Ledger: log})
		require.Error(t, err)
		require.Equal(t, models.ErrTypePrecisionExceeded, errors.Type(err))
	})

	t.Run("rejects a zero owner", func(t *testing.T) {
		_, err := New(Config{Precision: 4, MaxPrecision: 16, Ledger: log})
		require.Error(t, err)
	})

	t.Run("rejects a nil ledger", func(t *testing.T) {
		_, err := New(Config{Precision: 4, MaxPrecision: 16, Owner: testOwner})
		require.Error(t, err)
	})
}

func TestRegistryUpsert(t *testing.T) {
	cellA := models.CellFromGrid(0, 4, 4)
	cellB := models.CellFromGrid(0, 5, 4)
	cellC := models.CellFromGrid(1, 1, 4)

	t.Run("creates a volume", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		require.NoError(t, r.Upsert(upsertIn("a", cellA)))
		require.Equal(t, 1, r.VolumeCount())

		vol, err := r.VolumeByID(volumeID("a"))
		require.NoError(t, err)
		require.Equal(t, []models.Cell{cellA}, vol.Cells)
		require.Equal(t, testOwner, vol.CreatedBy)
		require.Equal(t, testOwner, vol.LastUpdatedBy)
	})

	t.Run("deduplicates cells preserving order", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		require.NoError(t, r.Upsert(upsertIn("a", cellB, cellA, cellB, cellA)))

		vol, err := r.VolumeByID(volumeID("a"))
		require.NoError(t, err)
		require.Equal(t, []models.Cell{cellB, cellA}, vol.Cells)
	})

	t.Run("same id overwrites and rediffs the index", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		require.NoError(t, r.Upsert(upsertIn("a", cellA, cellB)))
		require.NoError(t, r.Upsert(upsertIn("a", cellB, cellC)))
		require.Equal(t, 1, r.VolumeCount())

		out, err := r.Query(QueryIn{Cell: cellA, Precision: 4, MaxHeight: 200, StartTime: 1000, EndTime: 2000})
		require.NoError(t, err)
		require.Empty(t, out.IDs)

		for _, c := range []models.Cell{cellB, cellC} {
			out, err := r.Query(QueryIn{Cell: c, Precision: 4, MaxHeight: 200, StartTime: 1000, EndTime: 2000})
			require.NoError(t, err)
			require.Equal(t, []models.VolumeID{volumeID("a")}, out.IDs)
		}
	})

	t.Run("re-upserting identical content is idempotent", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		in := upsertIn("a", cellA, cellB)
		require.NoError(t, r.Upsert(in))
		require.NoError(t, r.Upsert(in))
		require.Equal(t, 1, r.VolumeCount())

		out, err := r.Query(QueryIn{Cell: cellA, Precision: 4, MaxHeight: 200, StartTime: 1000, EndTime: 2000})
		require.NoError(t, err)
		require.Equal(t, []models.VolumeID{volumeID("a")}, out.IDs)
	})

	t.Run("unauthorized caller leaves no trace", func(t *testing.T) {
		r, log := newTestRegistry(t)

		in := upsertIn("a", cellA)
		in.Caller = testStranger
		err := r.Upsert(in)
		require.Error(t, err)
		require.Equal(t, models.ErrTypeUnauthorized, errors.Type(err))
		require.Equal(t, 0, r.VolumeCount())

		head, err := log.Head()
		require.NoError(t, err)
		require.Equal(t, uint64(0), head)
	})

	t.Run("rejects an empty cell set", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		err := r.Upsert(upsertIn("a"))
		require.Error(t, err)
		require.Equal(t, models.ErrTypeInvalidRecord, errors.Type(err))
	})

	t.Run("rejects unordered altitude bounds", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		in := upsertIn("a", cellA)
		in.MinHeight = 200
		in.MaxHeight = 100
		err := r.Upsert(in)
		require.Error(t, err)
		require.Equal(t, models.ErrTypeInvalidRecord, errors.Type(err))
	})

	t.Run("rejects an empty time window", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		in := upsertIn("a", cellA)
		in.StartTime = 2000
		in.EndTime = 2000
		err := r.Upsert(in)
		require.Error(t, err)
		require.Equal(t, models.ErrTypeInvalidRecord, errors.Type(err))
	})

	t.Run("allow-listed users may mutate", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		require.NoError(t, r.AllowUser(testOperator, testOwner))

		in := upsertIn("a", cellA)
		in.Caller = testOperator
		require.NoError(t, r.Upsert(in))

		vol, err := r.VolumeByID(volumeID("a"))
		require.NoError(t, err)
		require.Equal(t, testOperator, vol.CreatedBy)
	})
}

func TestRegistryDelete(t *testing.T) {
	cellA := models.CellFromGrid(0, 4, 4)

	t.Run("removes the volume everywhere", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		require.NoError(t, r.Upsert(upsertIn("a", cellA)))
		require.NoError(t, r.Delete(volumeID("a"), testOwner))
		require.Equal(t, 0, r.VolumeCount())

		_, err := r.VolumeByID(volumeID("a"))
		require.Error(t, err)
		require.Equal(t, models.ErrTypeNotFound, errors.Type(err))

		out, err := r.Query(QueryIn{Cell: cellA, Precision: 4, MaxHeight: 200, StartTime: 1000, EndTime: 2000})
		require.NoError(t, err)
		require.Empty(t, out.IDs)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		err := r.Delete(volumeID("a"), testOwner)
		require.Error(t, err)
		require.Equal(t, models.ErrTypeNotFound, errors.Type(err))
	})

	t.Run("unauthorized caller is rejected", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		require.NoError(t, r.Upsert(upsertIn("a", cellA)))
		err := r.Delete(volumeID("a"), testStranger)
		require.Error(t, err)
		require.Equal(t, models.ErrTypeUnauthorized, errors.Type(err))
		require.Equal(t, 1, r.VolumeCount())
	})
}

func TestRegistryQuery(t *testing.T) {
	cellA := models.CellFromGrid(0, 4, 4) // 0x10
	cellB := models.CellFromGrid(0, 5, 4) // 0x11, shares the precision-3 prefix

	setup := func(t *testing.T) *Registry {
		r, _ := newTestRegistry(t)

		a := upsertIn("a", cellA)
		a.MinHeight, a.MaxHeight = 0, 100
		a.StartTime, a.EndTime = 1000, 2000
		require.NoError(t, r.Upsert(a))

		b := upsertIn("b", cellB)
		b.MinHeight, b.MaxHeight = 50, 150
		b.StartTime, b.EndTime = 1500, 2500
		require.NoError(t, r.Upsert(b))
		return r
	}

	t.Run("exact precision is a bucket lookup", func(t *testing.T) {
		r := setup(t)

		out, err := r.Query(QueryIn{Cell: cellA, Precision: 4, MaxHeight: 200, StartTime: 0, EndTime: 3000})
		require.NoError(t, err)
		require.Equal(t, []models.VolumeID{volumeID("a")}, out.IDs)
		require.Equal(t, []string{"https://ops.example.com/a"}, out.URLs)
		require.Equal(t, []int64{7}, out.EntityNumbers)
	})

	t.Run("coarser precision matches by prefix in insertion order", func(t *testing.T) {
		r := setup(t)

		out, err := r.Query(QueryIn{Cell: cellA, Precision: 3, MaxHeight: 200, StartTime: 0, EndTime: 3000})
		require.NoError(t, err)
		require.Equal(t, []models.VolumeID{volumeID("a"), volumeID("b")}, out.IDs)
	})

	t.Run("finer precision is rejected", func(t *testing.T) {
		r := setup(t)

		_, err := r.Query(QueryIn{Cell: cellA, Precision: 5, MaxHeight: 200, StartTime: 0, EndTime: 3000})
		require.Error(t, err)
		require.Equal(t, models.ErrTypeInvalidRecord, errors.Type(err))
	})

	t.Run("altitude band filters", func(t *testing.T) {
		r := setup(t)

		out, err := r.Query(QueryIn{Cell: cellA, Precision: 3, MinHeight: 120, MaxHeight: 200, StartTime: 0, EndTime: 3000})
		require.NoError(t, err)
		require.Equal(t, []models.VolumeID{volumeID("b")}, out.IDs)
	})

	t.Run("time window filters", func(t *testing.T) {
		r := setup(t)

		out, err := r.Query(QueryIn{Cell: cellA, Precision: 3, MaxHeight: 200, StartTime: 0, EndTime: 1200})
		require.NoError(t, err)
		require.Equal(t, []models.VolumeID{volumeID("a")}, out.IDs)
	})

	t.Run("touching bounds still overlap", func(t *testing.T) {
		r := setup(t)

		out, err := r.Query(QueryIn{Cell: cellA, Precision: 4, MinHeight: 100, MaxHeight: 100, StartTime: 2000, EndTime: 2000})
		require.NoError(t, err)
		require.Equal(t, []models.VolumeID{volumeID("a")}, out.IDs)
	})

	t.Run("no matches yields empty sequences", func(t *testing.T) {
		r := setup(t)

		out, err := r.Query(QueryIn{Cell: models.CellFromGrid(9, 9, 4), Precision: 4, MaxHeight: 200, StartTime: 0, EndTime: 3000})
		require.NoError(t, err)
		require.NotNil(t, out.IDs)
		require.Empty(t, out.IDs)
		require.Empty(t, out.URLs)
		require.Empty(t, out.EntityNumbers)
	})

	t.Run("malformed ranges are rejected", func(t *testing.T) {
		r := setup(t)

		_, err := r.Query(QueryIn{Cell: cellA, Precision: 4, MinHeight: 10, MaxHeight: 5, StartTime: 0, EndTime: 3000})
		require.Error(t, err)
		require.Equal(t, models.ErrTypeInvalidRecord, errors.Type(err))

		_, err = r.Query(QueryIn{Cell: cellA, Precision: 4, MaxHeight: 200, StartTime: 3000, EndTime: 0})
		require.Error(t, err)
	})

	t.Run("precision zero is rejected", func(t *testing.T) {
		r := setup(t)

		_, err := r.Query(QueryIn{Cell: cellA, Precision: 0, MaxHeight: 200, StartTime: 0, EndTime: 3000})
		require.Error(t, err)
	})
}

func TestRegistryNotifications(t *testing.T) {
	cellA := models.CellFromGrid(0, 4, 4)
	cellB := models.CellFromGrid(0, 5, 4)

	r, log := newTestRegistry(t)

	require.NoError(t, r.Upsert(upsertIn("a", cellA)))
	require.NoError(t, r.Upsert(upsertIn("a", cellB, cellA)))
	require.NoError(t, r.Delete(volumeID("a"), testOwner))

	head, err := log.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(3), head)

	events, err := log.Range(1, head)
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Equal(t, ledger.KindAdded, events[0].Kind)
	require.Equal(t, cellA, events[0].Cell)

	require.Equal(t, ledger.KindUpdated, events[1].Kind)
	require.Equal(t, cellB, events[1].Cell)

	require.Equal(t, ledger.KindDeleted, events[2].Kind)

	for i, e := range events {
		require.Equal(t, uint64(i+1), e.Seq)
		require.Equal(t, volumeID("a"), e.VolumeID)
		require.Equal(t, testOwner, e.Actor)
		require.False(t, e.Time.IsZero())
	}
}

func TestRegistryAccessControl(t *testing.T) {
	t.Run("only the owner maintains the allow-list", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		err := r.AllowUser(testOperator, testStranger)
		require.Error(t, err)
		require.Equal(t, models.ErrTypeUnauthorized, errors.Type(err))

		require.NoError(t, r.AllowUser(testOperator, testOwner))
		require.True(t, r.IsAllowed(testOperator))

		err = r.RevokeUser(testOperator, testOperator)
		require.Error(t, err)
		require.True(t, r.IsAllowed(testOperator))

		require.NoError(t, r.RevokeUser(testOperator, testOwner))
		require.False(t, r.IsAllowed(testOperator))
	})

	t.Run("allow-listing twice is a no-op", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		require.NoError(t, r.AllowUser(testOperator, testOwner))
		require.NoError(t, r.AllowUser(testOperator, testOwner))
		require.True(t, r.IsAllowed(testOperator))
	})

	t.Run("revoking an unlisted identity is a no-op", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		require.NoError(t, r.RevokeUser(testOperator, testOwner))
	})

	t.Run("ownership transfer", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		err := r.TransferOwnership(testOperator, testStranger)
		require.Error(t, err)
		require.Equal(t, models.ErrTypeUnauthorized, errors.Type(err))

		err = r.TransferOwnership(common.Address{}, testOwner)
		require.Error(t, err)
		require.Equal(t, models.ErrTypeInvalidRecord, errors.Type(err))

		require.NoError(t, r.TransferOwnership(testOperator, testOwner))
		require.Equal(t, testOperator, r.Owner())
		require.True(t, r.IsAllowed(testOperator))
		require.False(t, r.IsAllowed(testOwner))
	})
}
