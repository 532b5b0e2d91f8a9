package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VolumeID is the 256-bit, globally unique, caller-supplied identifier of a
// flight-volume reference.
type VolumeID = common.Hash

// Vertex is a polygon corner. Latitude and longitude are fixed-point signed
// integers in degrees, scaled by 10^18.
type Vertex struct {
	Lat *big.Int `json:"lat"`
	Lng *big.Int `json:"lng"`
}

// Volume is a registered flight-volume reference: the covering cell set of
// its footprint, an altitude band, a time window and a pointer to off-system
// detail.
type Volume struct {
	ID            VolumeID       `json:"id"`
	Cells         []Cell         `json:"cells"`
	MinHeight     int64          `json:"min_height"`
	MaxHeight     int64          `json:"max_height"`
	StartTime     int64          `json:"start_time"`
	EndTime       int64          `json:"end_time"`
	URL           string         `json:"url"`
	EntityNumber  int64          `json:"entity_number"`
	CreatedBy     common.Address `json:"created_by"`
	LastUpdatedBy common.Address `json:"last_updated_by"`
}

// OverlapsHeight reports whether the volume's altitude band overlaps the
// given range, bounds inclusive.
func (v *Volume) OverlapsHeight(min, max int64) bool {
	return !(v.MaxHeight < min || v.MinHeight > max)
}

// OverlapsTime reports whether the volume's time window overlaps the given
// range, bounds inclusive.
func (v *Volume) OverlapsTime(start, end int64) bool {
	return !(v.EndTime < start || v.StartTime > end)
}

// Copy returns a deep copy of the volume.
func (v *Volume) Copy() Volume {
	c := *v
	c.Cells = make([]Cell, len(v.Cells))
	copy(c.Cells, v.Cells)
	return c
}
