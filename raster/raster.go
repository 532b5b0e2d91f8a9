package raster

import (
	"math/big"
	"sort"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/raidolabs/raido/models"
)

// MaxPrecision is the absolute precision ceiling. Grid coordinates stay
// below 2^24 so row and column arithmetic never overflows int64.
const MaxPrecision = 24

var (
	scale  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	latMin = new(big.Int).Mul(big.NewInt(-90), scale)
	latMax = new(big.Int).Mul(big.NewInt(90), scale)
	lonMin = new(big.Int).Mul(big.NewInt(-180), scale)
	lonMax = new(big.Int).Mul(big.NewInt(180), scale)
)

// Rasterizer converts polygon footprints into covering cell sets on the
// Z-order grid. It is pure: identical inputs always yield the identical,
// identically-ordered cell sequence.
type Rasterizer struct {
	// The highest precision a caller may request.
	MaxPrecision uint
}

// New returns a rasterizer capped at the given precision.
func New(maxPrecision uint) (*Rasterizer, error) {
	if maxPrecision < 1 || maxPrecision > MaxPrecision {
		return nil, errors.New("precision cap is out of range").
			WithType(models.ErrTypePrecisionExceeded).
			WithTag("max_precision", maxPrecision).
			WithTag("ceiling", MaxPrecision)
	}
	return &Rasterizer{MaxPrecision: maxPrecision}, nil
}

type gridPoint struct {
	row int64 // latitude index
	col int64 // longitude index
}

// Rasterize converts a polygon footprint into the covering set of cells at
// the requested precision. Vertices are snapped to grid coordinates, then
// each grid row of the bounding box is scanned: edge crossings are paired
// even-odd and the covered columns filled. Horizontal edges fill their own
// column span and every vertex cell is always covered, so a footprint
// smaller than one cell still yields that cell.
//
// The returned cells are deduplicated and ordered by (row, column). When
// debug is true a scanline trace is returned alongside; it never affects
// the cell sequence.
func (r *Rasterizer) Rasterize(vertices []models.Vertex, precision uint, debug bool) ([]models.Cell, *Trace, error) {
	if precision < 1 || precision > r.MaxPrecision {
		return nil, nil, errors.New("requested precision is out of range").
			WithType(models.ErrTypePrecisionExceeded).
			WithTag("precision", precision).
			WithTag("max_precision", r.MaxPrecision)
	}

	if len(vertices) < 3 {
		return nil, nil, errors.New("a footprint needs at least 3 vertices").
			WithType(models.ErrTypeInvalidPolygon).
			WithTag("vertex_count", len(vertices))
	}

	for i, v := range vertices {
		if v.Lat == nil || v.Lng == nil {
			return nil, nil, errors.New("vertex has no coordinates").
				WithType(models.ErrTypeInvalidPolygon).
				WithTag("vertex", i)
		}
	}

	if !hasArea(vertices) {
		return nil, nil, errors.New("footprint has zero area").
			WithType(models.ErrTypeInvalidPolygon)
	}

	points := make([]gridPoint, len(vertices))
	for i, v := range vertices {
		row, err := gridIndex(v.Lat, latMin, latMax, precision)
		if err != nil {
			return nil, nil, errors.New("latitude is outside the grid").
				WithType(models.ErrTypeInvalidPolygon).
				WithTag("vertex", i).
				Wrap(err)
		}
		col, err := gridIndex(v.Lng, lonMin, lonMax, precision)
		if err != nil {
			return nil, nil, errors.New("longitude is outside the grid").
				WithType(models.ErrTypeInvalidPolygon).
				WithTag("vertex", i).
				Wrap(err)
		}
		points[i] = gridPoint{row: row, col: col}
	}

	covered := make(map[gridPoint]struct{})

	minRow, maxRow := points[0].row, points[0].row
	minCol, maxCol := points[0].col, points[0].col
	for _, p := range points {
		covered[p] = struct{}{}
		minRow, maxRow = min(minRow, p.row), max(maxRow, p.row)
		minCol, maxCol = min(minCol, p.col), max(maxCol, p.col)
	}

	var trace *Trace
	if debug {
		trace = &Trace{
			Precision: precision,
			MinRow:    minRow,
			MaxRow:    maxRow,
			MinCol:    minCol,
			MaxCol:    maxCol,
		}
	}

	// Horizontal edges carry no even-odd parity. They fill their own span so
	// boundary rows are covered.
	for i := range points {
		p1 := points[i]
		p2 := points[(i+1)%len(points)]
		if p1.row == p2.row {
			for c := min(p1.col, p2.col); c <= max(p1.col, p2.col); c++ {
				covered[gridPoint{row: p1.row, col: c}] = struct{}{}
			}
		}
	}

	for row := minRow; row <= maxRow; row++ {
		crossings := rowCrossings(points, row)

		var rowTrace *RowTrace
		if debug {
			approx := make([]float64, len(crossings))
			for i, c := range crossings {
				approx[i], _ = c.Float64()
			}
			trace.Rows = append(trace.Rows, RowTrace{Row: row, Crossings: approx})
			rowTrace = &trace.Rows[len(trace.Rows)-1]
		}

		for i := 0; i+1 < len(crossings); i += 2 {
			from := ceilRat(crossings[i])
			to := floorRat(crossings[i+1])
			if rowTrace != nil {
				rowTrace.Spans = append(rowTrace.Spans, [2]int64{from, to})
			}
			for c := from; c <= to; c++ {
				covered[gridPoint{row: row, col: c}] = struct{}{}
			}
		}
	}

	ordered := make([]gridPoint, 0, len(covered))
	for p := range covered {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].row != ordered[j].row {
			return ordered[i].row < ordered[j].row
		}
		return ordered[i].col < ordered[j].col
	})

	cells := make([]models.Cell, len(ordered))
	for i, p := range ordered {
		cells[i] = models.CellFromGrid(uint64(p.row), uint64(p.col), precision)
	}
	return cells, trace, nil
}

// rowCrossings returns the sorted column positions where polygon edges cross
// the given grid row, as exact rationals. The half-open row rule counts each
// vertex crossing once, keeping the even-odd parity intact; horizontal and
// degenerate edges contribute nothing.
func rowCrossings(points []gridPoint, row int64) []*big.Rat {
	var crossings []*big.Rat
	for i := range points {
		p1 := points[i]
		p2 := points[(i+1)%len(points)]
		if p1.row == p2.row {
			continue
		}

		lo, hi := p1, p2
		if lo.row > hi.row {
			lo, hi = hi, lo
		}
		if row < lo.row || row >= hi.row {
			continue
		}

		c := big.NewRat(row-p1.row, p2.row-p1.row)
		c.Mul(c, big.NewRat(p2.col-p1.col, 1))
		c.Add(c, big.NewRat(p1.col, 1))
		crossings = append(crossings, c)
	}
	sort.Slice(crossings, func(i, j int) bool {
		return crossings[i].Cmp(crossings[j]) < 0
	})
	return crossings
}

// ceilRat and floorRat turn a crossing into its bounding column. Rat keeps
// its denominator positive, so big.Int's Euclidean Div is a floor here.
func ceilRat(r *big.Rat) int64 {
	n := new(big.Int).Add(r.Num(), r.Denom())
	n.Sub(n, big.NewInt(1))
	return new(big.Int).Div(n, r.Denom()).Int64()
}

func floorRat(r *big.Rat) int64 {
	return new(big.Int).Div(r.Num(), r.Denom()).Int64()
}

// gridIndex maps a fixed-point coordinate onto [0, 2^precision) over the
// [lo, hi] domain. The exact upper edge clamps to the last cell.
func gridIndex(coord, lo, hi *big.Int, precision uint) (int64, error) {
	if coord.Cmp(lo) < 0 || coord.Cmp(hi) > 0 {
		return 0, errors.New("coordinate is out of domain").
			WithTag("coordinate", coord.String())
	}

	span := new(big.Int).Sub(hi, lo)
	idx := new(big.Int).Sub(coord, lo)
	idx.Lsh(idx, precision)
	idx.Quo(idx, span)

	last := int64(1)<<precision - 1
	if i := idx.Int64(); i <= last {
		return i, nil
	}
	return last, nil
}

// hasArea applies the shoelace formula over the raw fixed-point coordinates.
func hasArea(vertices []models.Vertex) bool {
	sum := new(big.Int)
	for i := range vertices {
		v1 := vertices[i]
		v2 := vertices[(i+1)%len(vertices)]
		sum.Add(sum, new(big.Int).Mul(v1.Lat, v2.Lng))
		sum.Sub(sum, new(big.Int).Mul(v2.Lat, v1.Lng))
	}
	return sum.Sign() != 0
}
