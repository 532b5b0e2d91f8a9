package models

// Error types attached to errors returned by the rasterizer and the
// registry. Checked with errors.IsType from go-tooling.
const (
	// A footprint is degenerate or indexes outside the representable grid.
	ErrTypeInvalidPolygon = "invalid_polygon"

	// A requested rasterization precision is above the configured cap.
	ErrTypePrecisionExceeded = "precision_exceeded"

	// A record or query carries malformed altitude, time or cell-set input.
	ErrTypeInvalidRecord = "invalid_record"

	// A caller is neither the owner nor allow-listed.
	ErrTypeUnauthorized = "unauthorized"

	// An operation targets an unknown volume identifier.
	ErrTypeNotFound = "not_found"
)
