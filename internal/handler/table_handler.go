package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/catalog"
	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/model"
	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/service"
	"github.com/devrev/otree/internal/snapshot"
	"github.com/devrev/otree/internal/status"
)

// underfilledFraction is the share of the target size below which an inner cube is reported
const underfilledFraction = 0.5

// Config holds request limits and save defaults
type Config struct {
	MaxBodyBytes int64
	// AutoExpand applies to saves that do not set auto_expand
	AutoExpand bool
}

// TableHandler serves the table API over HTTP
type TableHandler struct {
	service  *service.TableService
	resolver *catalog.Resolver
	cfg      Config
	logger   *zap.Logger
}

// NewTableHandler creates a new table handler
func NewTableHandler(svc *service.TableService, resolver *catalog.Resolver, cfg Config, logger *zap.Logger) *TableHandler {
	return &TableHandler{
		service:  svc,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
	}
}

// SaveRequest is the body of a save call
type SaveRequest struct {
	Schema     model.Schema    `json:"schema"`
	Rows       [][]interface{} `json:"rows"`
	Columns    []string        `json:"columns,omitempty"`
	CubeSize   int64           `json:"cube_size,omitempty"`
	AutoExpand *bool           `json:"auto_expand,omitempty"`
	Append     bool            `json:"append,omitempty"`
	BatchID    string          `json:"batch_id,omitempty"`
}

// CubeView is the JSON form of one cube status
type CubeView struct {
	Cube             string  `json:"cube"`
	Size             int64   `json:"size"`
	MaxWeight        int32   `json:"max_weight"`
	NormalizedWeight float64 `json:"normalized_weight"`
	Overflowed       bool    `json:"overflowed"`
}

// StatusResponse is the JSON form of an index status
type StatusResponse struct {
	TableID     string             `json:"table_id"`
	Version     int64              `json:"version"`
	Revision    *revision.Revision `json:"revision"`
	TotalSize   int64              `json:"total_size"`
	Cubes       []CubeView         `json:"cubes"`
	Underfilled []string           `json:"underfilled"`
}

// RevisionsResponse lists the revisions of a table
type RevisionsResponse struct {
	TableID   string               `json:"table_id"`
	Version   int64                `json:"version"`
	Revisions []*revision.Revision `json:"revisions"`
}

// resolve maps the {table} path variable to a table reference. "ns.name" names a
// namespaced table.
func (h *TableHandler) resolve(r *http.Request) (catalog.TableRef, error) {
	name := mux.Vars(r)["table"]
	t := catalog.ManagedTable{Name: name}
	if i := strings.IndexByte(name, '.'); i > 0 && i < len(name)-1 {
		t = catalog.ManagedTable{Namespace: name[:i], Name: name[i+1:]}
	}
	return h.resolver.Resolve(t)
}

// versionParam reads the optional ?version= pin. Zero means latest.
func versionParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.InvalidArgument(fmt.Sprintf("invalid version %q", raw), err)
	}
	return v, nil
}

func (h *TableHandler) snapshot(r *http.Request, tableID string) (*snapshot.Snapshot, error) {
	version, err := versionParam(r)
	if err != nil {
		return nil, err
	}
	if version > 0 {
		return h.service.SnapshotAt(r.Context(), tableID, version)
	}
	return h.service.Snapshot(r.Context(), tableID)
}

// Save handles POST /v1/tables/{table}/save
func (h *TableHandler) Save(w http.ResponseWriter, r *http.Request) {
	ref, err := h.resolve(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, errors.InvalidArgument("invalid request body", err))
		return
	}

	batch := &model.Batch{Schema: req.Schema, Rows: make([]model.Row, 0, len(req.Rows))}
	for i, raw := range req.Rows {
		row, err := req.Schema.Coerce(raw)
		if err != nil {
			writeError(w, r, h.logger, errors.InvalidArgument(fmt.Sprintf("row %d", i), err))
			return
		}
		batch.Rows = append(batch.Rows, row)
	}

	autoExpand := h.cfg.AutoExpand
	if req.AutoExpand != nil {
		autoExpand = *req.AutoExpand
	}
	batchID := req.BatchID
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		batchID = key
	}

	res, err := h.service.Table(ref).Save(r.Context(), batch, service.SaveOptions{
		Columns:    req.Columns,
		CubeSize:   req.CubeSize,
		AutoExpand: autoExpand,
		Append:     req.Append,
		BatchID:    batchID,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	statusCode := http.StatusCreated
	if res.Replayed {
		statusCode = http.StatusOK
	}
	writeJSON(w, statusCode, res)
}

// Status handles GET /v1/tables/{table}/status
func (h *TableHandler) Status(w http.ResponseWriter, r *http.Request) {
	ref, err := h.resolve(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	snap, err := h.snapshot(r, ref.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	st, err := snap.LatestIndexStatus()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(ref.ID, snap.Offset(), st))
}

// Revisions handles GET /v1/tables/{table}/revisions
func (h *TableHandler) Revisions(w http.ResponseWriter, r *http.Request) {
	ref, err := h.resolve(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	snap, err := h.snapshot(r, ref.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, RevisionsResponse{
		TableID:   ref.ID,
		Version:   snap.Offset(),
		Revisions: snap.Revisions(),
	})
}

// RevisionStatus handles GET /v1/tables/{table}/revisions/{id}/status
func (h *TableHandler) RevisionStatus(w http.ResponseWriter, r *http.Request) {
	ref, err := h.resolve(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	raw := mux.Vars(r)["id"]
	revisionID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, r, h.logger, errors.InvalidArgument(fmt.Sprintf("invalid revision id %q", raw), err))
		return
	}
	snap, err := h.snapshot(r, ref.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	st, err := snap.IndexStatus(revisionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(ref.ID, snap.Offset(), st))
}

// Query handles POST /v1/tables/{table}/query
func (h *TableHandler) Query(w http.ResponseWriter, r *http.Request) {
	ref, err := h.resolve(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	var q service.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, r, h.logger, errors.InvalidArgument("invalid query body", err))
		return
	}

	start := time.Now()
	res, err := h.service.Table(ref).Query(r.Context(), q)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Debug("Pruned query",
		zap.String("table_id", ref.ID),
		zap.Int64("version", res.Version),
		zap.Int("revisions", len(res.Revisions)),
		zap.Duration("duration", time.Since(start)))
	writeJSON(w, http.StatusOK, res)
}

func statusView(tableID string, version int64, st *status.IndexStatus) StatusResponse {
	cubes := st.Cubes()
	out := StatusResponse{
		TableID:     tableID,
		Version:     version,
		Revision:    st.Revision(),
		TotalSize:   st.TotalSize(),
		Cubes:       make([]CubeView, len(cubes)),
		Underfilled: []string{},
	}
	for i, cs := range cubes {
		out.Cubes[i] = CubeView{
			Cube:             cs.Cube.String(),
			Size:             cs.Size,
			MaxWeight:        int32(cs.MaxWeight),
			NormalizedWeight: float64(cs.NormalizedWeight),
			Overflowed:       cs.Overflowed,
		}
	}
	for _, id := range st.Underfilled(underfilledFraction) {
		out.Underfilled = append(out.Underfilled, id.String())
	}
	return out
}
