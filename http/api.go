package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/raidolabs/raido/featureflag"
	"github.com/raidolabs/raido/ledger"
	"github.com/raidolabs/raido/models"
	"github.com/raidolabs/raido/raster"
	"github.com/raidolabs/raido/registry"
	"github.com/segmentio/encoding/json"
)

// The largest number of events a single /events page returns.
const maxEventPage = 512

// Handler serves the registry REST API.
type Handler struct {
	Registry     *registry.Registry
	Rasterizer   *raster.Rasterizer
	Ledger       *ledger.Log
	FeatureFlags featureflag.FeatureFlag
}

type upsertVolumeRequest struct {
	ID           models.VolumeID `json:"id"`
	Vertices     []models.Vertex `json:"vertices"`
	MinHeight    int64           `json:"min_height"`
	MaxHeight    int64           `json:"max_height"`
	StartTime    int64           `json:"start_time"`
	EndTime      int64           `json:"end_time"`
	URL          string          `json:"url"`
	EntityNumber int64           `json:"entity_number"`
}

// HandleUpsertVolume rasterizes the footprint at the registry precision and
// upserts the volume on behalf of the recovered caller.
func (h *Handler) HandleUpsertVolume(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errors.New("reading body failed").Wrap(err))
		return
	}

	caller, err := RecoverCaller(r, body)
	if err != nil {
		writeError(w, err)
		return
	}

	var req upsertVolumeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.New("decoding volume failed").
			WithType(models.ErrTypeInvalidRecord).
			Wrap(err))
		return
	}

	cells, _, err := h.Rasterizer.Rasterize(req.Vertices, h.Registry.Precision(), false)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.Registry.Upsert(registry.UpsertIn{
		ID:           req.ID,
		Cells:        cells,
		MinHeight:    req.MinHeight,
		MaxHeight:    req.MaxHeight,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		URL:          req.URL,
		EntityNumber: req.EntityNumber,
		Caller:       caller,
	}); err != nil {
		writeError(w, err)
		return
	}

	vol, err := h.Registry.VolumeByID(req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vol)
}

func (h *Handler) HandleDeleteVolume(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errors.New("reading body failed").Wrap(err))
		return
	}

	caller, err := RecoverCaller(r, body)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := parseVolumeID(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.Registry.Delete(id, caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) HandleGetVolume(w http.ResponseWriter, r *http.Request) {
	id, err := parseVolumeID(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	vol, err := h.Registry.VolumeByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vol)
}

func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cell, err := models.ParseCell(q.Get("cell"))
	if err != nil {
		writeError(w, err)
		return
	}
	precision, err := strconv.ParseUint(q.Get("precision"), 10, 32)
	if err != nil {
		writeError(w, errors.New("query precision is malformed").
			WithType(models.ErrTypeInvalidRecord).
			Wrap(err))
		return
	}

	in := registry.QueryIn{
		Cell:      cell,
		Precision: uint(precision),
	}
	for param, dst := range map[string]*int64{
		"min_height": &in.MinHeight,
		"max_height": &in.MaxHeight,
		"start_time": &in.StartTime,
		"end_time":   &in.EndTime,
	} {
		v, err := strconv.ParseInt(q.Get(param), 10, 64)
		if err != nil {
			writeError(w, errors.New("query range is malformed").
				WithType(models.ErrTypeInvalidRecord).
				WithTag("param", param).
				Wrap(err))
			return
		}
		*dst = v
	}

	out, err := h.Registry.Query(in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type eventsResponse struct {
	Events []ledger.Event `json:"events"`
	Head   uint64         `json:"head"`
}

// HandleEvents serves a bounded page of past notifications.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := strconv.ParseUint(q.Get("from"), 10, 64)
	if err != nil {
		writeError(w, errors.New("range lower bound is malformed").
			WithType(models.ErrTypeInvalidRecord).
			Wrap(err))
		return
	}
	to, err := strconv.ParseUint(q.Get("to"), 10, 64)
	if err != nil {
		writeError(w, errors.New("range upper bound is malformed").
			WithType(models.ErrTypeInvalidRecord).
			Wrap(err))
		return
	}
	if from > to {
		writeError(w, errors.New("range lower bound is above its upper bound").
			WithType(models.ErrTypeInvalidRecord).
			WithTag("from", from).
			WithTag("to", to))
		return
	}
	if to-from+1 > maxEventPage {
		to = from + maxEventPage - 1
	}

	events, err := h.Ledger.Range(from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	head, err := h.Ledger.Head()
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Head: head})
}

type rasterizeRequest struct {
	Vertices  []models.Vertex `json:"vertices"`
	Precision uint            `json:"precision"`
	Debug     bool            `json:"debug"`
}

type rasterizeResponse struct {
	Cells []models.Cell `json:"cells"`
	Trace *raster.Trace `json:"trace,omitempty"`
}

// HandleRasterize exposes the rasterizer as a pure utility call.
func (h *Handler) HandleRasterize(w http.ResponseWriter, r *http.Request) {
	var req rasterizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New("decoding footprint failed").
			WithType(models.ErrTypeInvalidRecord).
			Wrap(err))
		return
	}

	h.FeatureFlags.IfSet(featureflag.FlagDisableRasterTrace, func() {
		req.Debug = false
	})

	cells, trace, err := h.Rasterizer.Rasterize(req.Vertices, req.Precision, req.Debug)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rasterizeResponse{Cells: cells, Trace: trace})
}

type identityRequest struct {
	Identity string `json:"identity"`
}

func (h *Handler) HandleAllowUser(w http.ResponseWriter, r *http.Request) {
	h.handleAccessChange(w, r, h.Registry.AllowUser)
}

func (h *Handler) HandleTransferOwner(w http.ResponseWriter, r *http.Request) {
	h.handleAccessChange(w, r, h.Registry.TransferOwnership)
}

func (h *Handler) HandleRevokeUser(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errors.New("reading body failed").Wrap(err))
		return
	}

	caller, err := RecoverCaller(r, body)
	if err != nil {
		writeError(w, err)
		return
	}

	identity, err := parseAddress(r.PathValue("identity"))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.Registry.RevokeUser(identity, caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAccessChange(w http.ResponseWriter, r *http.Request, change func(identity, caller common.Address) error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errors.New("reading body failed").Wrap(err))
		return
	}

	caller, err := RecoverCaller(r, body)
	if err != nil {
		writeError(w, err)
		return
	}

	var req identityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.New("decoding identity failed").
			WithType(models.ErrTypeInvalidRecord).
			Wrap(err))
		return
	}

	identity, err := parseAddress(req.Identity)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := change(identity, caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func parseVolumeID(s string) (models.VolumeID, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return models.VolumeID{}, errors.New("volume id is malformed").
			WithType(models.ErrTypeInvalidRecord).
			WithTag("volume_id", s)
	}
	return common.BytesToHash(b), nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("identity is malformed").
			WithType(models.ErrTypeInvalidRecord).
			WithTag("identity", s)
	}
	return common.HexToAddress(s), nil
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Type(err) {
	case models.ErrTypeInvalidPolygon,
		models.ErrTypePrecisionExceeded,
		models.ErrTypeInvalidRecord:
		status = http.StatusBadRequest

	case models.ErrTypeUnauthorized:
		status = http.StatusUnauthorized

	case models.ErrTypeNotFound:
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		logs.Error(err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Type: errors.Type(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Error(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
