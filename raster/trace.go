package raster

// Trace carries scanline diagnostics gathered during a rasterization. It is
// auxiliary output only.
type Trace struct {
	Precision uint  `json:"precision"`
	MinRow    int64 `json:"min_row"`
	MaxRow    int64 `json:"max_row"`
	MinCol    int64 `json:"min_col"`
	MaxCol    int64 `json:"max_col"`

	Rows []RowTrace `json:"rows"`
}

// RowTrace records the edge crossings found on one grid row and the column
// spans filled from them.
type RowTrace struct {
	Row       int64      `json:"row"`
	Crossings []float64  `json:"crossings,omitempty"`
	Spans     [][2]int64 `json:"spans,omitempty"`
}
