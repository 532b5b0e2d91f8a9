package registry

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/raidolabs/raido/ledger"
	"github.com/raidolabs/raido/models"
	"github.com/raidolabs/raido/raster"
)

// Config carries the construction parameters of a registry. Precision is
// immutable for the lifetime of a deployment.
type Config struct {
	// The grid precision stored cells are encoded at.
	Precision uint

	// The highest precision the deployment's rasterizer accepts. Bounds the
	// cell-set size a single record can reach.
	MaxPrecision uint

	// The owner identity. The owner maintains the allow-list and may
	// transfer ownership.
	Owner common.Address

	// The notification ledger mutations are appended to.
	Ledger *ledger.Log
}

// Registry is the flight-volume registry: a record store keyed by volume id
// and a spatial index from cell to the ids covering it, gated by an owner
// plus allow-list.
//
// A single mutex makes every mutating call atomic. Readers hold the read
// lock for a whole call, so they observe either the complete pre-image or
// the complete post-image of any write.
type Registry struct {
	precision    uint
	maxPrecision uint
	log          *ledger.Log

	mutex   sync.RWMutex
	owner   common.Address
	allowed map[common.Address]struct{}
	volumes map[models.VolumeID]*models.Volume
	order   []models.VolumeID
	buckets map[models.Cell][]models.VolumeID
}

func New(c Config) (*Registry, error) {
	if c.Precision < 1 || c.Precision > c.MaxPrecision || c.MaxPrecision > raster.MaxPrecision {
		return nil, errors.New("registry precision is out of range").
			WithType(models.ErrTypePrecisionExceeded).
			WithTag("precision", c.Precision).
			WithTag("max_precision", c.MaxPrecision)
	}
	if c.Owner == (common.Address{}) {
		return nil, errors.New("registry owner is not set").
			WithType(models.ErrTypeInvalidRecord)
	}
	if c.Ledger == nil {
		return nil, errors.New("registry ledger is not set").
			WithType(models.ErrTypeInvalidRecord)
	}

	return &Registry{
		precision:    c.Precision,
		maxPrecision: c.MaxPrecision,
		log:          c.Ledger,
		owner:        c.Owner,
		allowed:      make(map[common.Address]struct{}),
		volumes:      make(map[models.VolumeID]*models.Volume),
		buckets:      make(map[models.Cell][]models.VolumeID),
	}, nil
}

// Precision returns the grid precision stored cells are encoded at.
func (r *Registry) Precision() uint {
	return r.precision
}

// MaxPrecision returns the deployment's rasterization precision cap.
func (r *Registry) MaxPrecision() uint {
	return r.maxPrecision
}

// UpsertIn carries the attributes of an upserted volume. Caller identity is
// explicit on every mutating call.
type UpsertIn struct {
	ID           models.VolumeID
	Cells        []models.Cell
	MinHeight    int64
	MaxHeight    int64
	StartTime    int64
	EndTime      int64
	URL          string
	EntityNumber int64
	Caller       common.Address
}

// Upsert creates the volume on first use of its id and overwrites it on
// subsequent calls, diffing cell membership against the spatial index. The
// whole call is atomic: a validation or authorization failure leaves no
// trace, and the matching notification is appended within the same critical
// section.
func (r *Registry) Upsert(in UpsertIn) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.authorize(in.Caller); err != nil {
		instrumentMutation("upsert", err)
		return err
	}
	if err := validateUpsert(in); err != nil {
		instrumentMutation("upsert", err)
		return err
	}

	cells := dedupeCells(in.Cells)

	vol, exists := r.volumes[in.ID]
	kind := ledger.KindAdded
	if exists {
		kind = ledger.KindUpdated
	}

	// Appending before touching the maps keeps the call all-or-nothing when
	// the ledger store fails.
	if _, err := r.log.Append(ledger.Event{
		Kind:     kind,
		VolumeID: in.ID,
		Cell:     cells[0],
		Actor:    in.Caller,
	}); err != nil {
		instrumentMutation("upsert", err)
		return errors.New("appending notification failed").Wrap(err)
	}

	if !exists {
		vol = &models.Volume{ID: in.ID, CreatedBy: in.Caller}
		r.volumes[in.ID] = vol
		r.order = append(r.order, in.ID)
		for _, c := range cells {
			r.buckets[c] = append(r.buckets[c], in.ID)
		}
	} else {
		old := make(map[models.Cell]struct{}, len(vol.Cells))
		for _, c := range vol.Cells {
			old[c] = struct{}{}
		}
		next := make(map[models.Cell]struct{}, len(cells))
		for _, c := range cells {
			next[c] = struct{}{}
		}

		for _, c := range vol.Cells {
			if _, ok := next[c]; !ok {
				r.removeFromBucket(c, in.ID)
			}
		}
		for _, c := range cells {
			if _, ok := old[c]; !ok {
				r.buckets[c] = append(r.buckets[c], in.ID)
			}
		}
	}

	vol.Cells = cells
	vol.MinHeight = in.MinHeight
	vol.MaxHeight = in.MaxHeight
	vol.StartTime = in.StartTime
	vol.EndTime = in.EndTime
	vol.URL = in.URL
	vol.EntityNumber = in.EntityNumber
	vol.LastUpdatedBy = in.Caller

	instrumentMutation("upsert", nil)
	instrumentVolumeCount(len(r.volumes))
	return nil
}

// Delete removes the volume from every cell bucket it occupies and from the
// store, and appends a Deleted notification.
func (r *Registry) Delete(id models.VolumeID, caller common.Address) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.authorize(caller); err != nil {
		instrumentMutation("delete", err)
		return err
	}

	vol, ok := r.volumes[id]
	if !ok {
		err := errors.New("volume is not registered").
			WithType(models.ErrTypeNotFound).
			WithTag("volume_id", id.Hex())
		instrumentMutation("delete", err)
		return err
	}

	if _, err := r.log.Append(ledger.Event{
		Kind:     ledger.KindDeleted,
		VolumeID: id,
		Cell:     vol.Cells[0],
		Actor:    caller,
	}); err != nil {
		instrumentMutation("delete", err)
		return errors.New("appending notification failed").Wrap(err)
	}

	for _, c := range vol.Cells {
		r.removeFromBucket(c, id)
	}
	delete(r.volumes, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	instrumentMutation("delete", nil)
	instrumentVolumeCount(len(r.volumes))
	return nil
}

// QueryIn is a range query: a target cell at a given precision, an altitude
// range and a time range, bounds inclusive.
type QueryIn struct {
	Cell      models.Cell
	Precision uint
	MinHeight int64
	MaxHeight int64
	StartTime int64
	EndTime   int64
}

// QueryOut carries three parallel sequences of the same length and order.
type QueryOut struct {
	URLs          []string          `json:"urls"`
	EntityNumbers []int64           `json:"entity_numbers"`
	IDs           []models.VolumeID `json:"ids"`
}

// Query resolves the volumes covering the target cell whose altitude and
// time ranges overlap the queried ones. A query at the registry precision is
// an exact bucket lookup returned in bucket insertion order; a coarser query
// cell acts as a prefix filter over stored cells, evaluated in volume
// insertion order. A precision finer than the registry's is rejected. No
// matches yields empty sequences, not an error.
func (r *Registry) Query(in QueryIn) (QueryOut, error) {
	instrumentQuery()

	if in.Precision < 1 || in.Precision > r.precision {
		return QueryOut{}, errors.New("query precision does not match the registry grid").
			WithType(models.ErrTypeInvalidRecord).
			WithTag("precision", in.Precision).
			WithTag("registry_precision", r.precision)
	}
	if in.MinHeight > in.MaxHeight || in.StartTime > in.EndTime {
		return QueryOut{}, errors.New("query ranges are malformed").
			WithType(models.ErrTypeInvalidRecord).
			WithTag("min_height", in.MinHeight).
			WithTag("max_height", in.MaxHeight).
			WithTag("start_time", in.StartTime).
			WithTag("end_time", in.EndTime)
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var candidates []models.VolumeID
	if in.Precision == r.precision {
		candidates = r.buckets[in.Cell]
	} else {
		for _, id := range r.order {
			for _, c := range r.volumes[id].Cells {
				if c.HasPrefix(in.Cell, in.Precision) {
					candidates = append(candidates, id)
					break
				}
			}
		}
	}

	out := QueryOut{
		URLs:          []string{},
		EntityNumbers: []int64{},
		IDs:           []models.VolumeID{},
	}
	for _, id := range candidates {
		vol := r.volumes[id]
		if !vol.OverlapsHeight(in.MinHeight, in.MaxHeight) ||
			!vol.OverlapsTime(in.StartTime, in.EndTime) {
			continue
		}
		out.URLs = append(out.URLs, vol.URL)
		out.EntityNumbers = append(out.EntityNumbers, vol.EntityNumber)
		out.IDs = append(out.IDs, vol.ID)
	}
	return out, nil
}

// VolumeByID returns a copy of the registered volume.
func (r *Registry) VolumeByID(id models.VolumeID) (models.Volume, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	vol, ok := r.volumes[id]
	if !ok {
		return models.Volume{}, errors.New("volume is not registered").
			WithType(models.ErrTypeNotFound).
			WithTag("volume_id", id.Hex())
	}
	return vol.Copy(), nil
}

// VolumeCount returns the number of registered volumes.
func (r *Registry) VolumeCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.volumes)
}

// AllowUser adds the identity to the allow-list. Owner-only; allow-listing
// an already-listed identity is a successful no-op.
func (r *Registry) AllowUser(identity, caller common.Address) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.authorizeOwner(caller); err != nil {
		return err
	}

	r.allowed[identity] = struct{}{}
	return nil
}

// RevokeUser removes the identity from the allow-list. Owner-only.
func (r *Registry) RevokeUser(identity, caller common.Address) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.authorizeOwner(caller); err != nil {
		return err
	}

	delete(r.allowed, identity)
	return nil
}

// TransferOwnership hands the registry to a new owner. Owner-only.
func (r *Registry) TransferOwnership(newOwner, caller common.Address) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.authorizeOwner(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return errors.New("new owner is not set").
			WithType(models.ErrTypeInvalidRecord)
	}

	r.owner = newOwner
	return nil
}

// Owner returns the current owner identity.
func (r *Registry) Owner() common.Address {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.owner
}

// IsAllowed reports whether the identity may mutate the registry.
func (r *Registry) IsAllowed(identity common.Address) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.isAllowed(identity)
}

func (r *Registry) isAllowed(identity common.Address) bool {
	if identity == r.owner {
		return true
	}
	_, ok := r.allowed[identity]
	return ok
}

func (r *Registry) authorize(caller common.Address) error {
	if !r.isAllowed(caller) {
		return errors.New("caller is not authorized").
			WithType(models.ErrTypeUnauthorized).
			WithTag("caller", caller.Hex())
	}
	return nil
}

func (r *Registry) authorizeOwner(caller common.Address) error {
	if caller != r.owner {
		return errors.New("caller is not the owner").
			WithType(models.ErrTypeUnauthorized).
			WithTag("caller", caller.Hex())
	}
	return nil
}

func (r *Registry) removeFromBucket(c models.Cell, id models.VolumeID) {
	bucket := r.buckets[c]
	for i, bid := range bucket {
		if bid == id {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(r.buckets, c)
		return
	}
	r.buckets[c] = bucket
}

func validateUpsert(in UpsertIn) error {
	if len(in.Cells) == 0 {
		return errors.New("cell set is empty").
			WithType(models.ErrTypeInvalidRecord)
	}
	if in.MinHeight > in.MaxHeight {
		return errors.New("altitude bounds are not ordered").
			WithType(models.ErrTypeInvalidRecord).
			WithTag("min_height", in.MinHeight).
			WithTag("max_height", in.MaxHeight)
	}
	if in.StartTime >= in.EndTime {
		return errors.New("time bounds are not ordered").
			WithType(models.ErrTypeInvalidRecord).
			WithTag("start_time", in.StartTime).
			WithTag("end_time", in.EndTime)
	}
	return nil
}

// dedupeCells preserves first-occurrence order.
func dedupeCells(cells []models.Cell) []models.Cell {
	seen := make(map[models.Cell]struct{}, len(cells))
	deduped := make([]models.Cell, 0, len(cells))
	for _, c := range cells {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		deduped = append(deduped, c)
	}
	return deduped
}
