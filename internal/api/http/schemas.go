package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/shelfard/shelfard/internal/drift"
	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/internal/export"
	"github.com/shelfard/shelfard/internal/infer"
	"github.com/shelfard/shelfard/internal/observability"
	"github.com/shelfard/shelfard/internal/registry"
)

// DefaultMaxBodyBytes bounds uploaded payloads when no limit is configured.
const DefaultMaxBodyBytes = 64 << 20

// SchemaHandler serves snapshot, check and history requests.
type SchemaHandler struct {
	service  *drift.Service
	registry registry.Registry
	stats    *observability.DriftStats
	maxBody  int64
	logger   *slog.Logger
}

// NewSchemaHandler creates a new schema handler. stats may be nil.
func NewSchemaHandler(service *drift.Service, maxBody int64, logger *slog.Logger) *SchemaHandler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaHandler{
		service:  service,
		registry: service.Registry,
		stats:    service.Stats,
		maxBody:  maxBody,
		logger:   logger,
	}
}

// Routes registers the handler's endpoints on router.
func (h *SchemaHandler) Routes(router *mux.Router) {
	router.HandleFunc("/v1/schemas", h.listNames).Methods("GET")
	router.HandleFunc("/v1/schemas/{name}/snapshots", h.snapshot).Methods("POST")
	router.HandleFunc("/v1/schemas/{name}/check", h.check).Methods("POST")
	router.HandleFunc("/v1/schemas/{name}/latest", h.latest).Methods("GET")
	router.HandleFunc("/v1/schemas/{name}/versions", h.versions).Methods("GET")
	router.HandleFunc("/v1/schemas/{name}/versions/{version}", h.version).Methods("GET")
	router.HandleFunc("/v1/schemas/{name}/openapi", h.openapi).Methods("GET")
	router.HandleFunc("/v1/schemas/{name}/archive", h.archive).Methods("GET")
	router.HandleFunc("/v1/stats/drift", h.driftStats).Methods("GET")
}

// snapshot handles POST /v1/schemas/{name}/snapshots. The request body is
// the payload whose schema is registered.
func (h *SchemaHandler) snapshot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	result, err := h.service.SnapshotPayload(r.Context(), name, sourceOf(r), body, hintsOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// check handles POST /v1/schemas/{name}/check. Drift is reported in the
// outcome field; the status is 200 whether or not the schema changed.
func (h *SchemaHandler) check(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	result, err := h.service.CheckPayload(r.Context(), name, sourceOf(r), body, hintsOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SchemaHandler) latest(w http.ResponseWriter, r *http.Request) {
	sv, err := h.registry.GetLatest(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

func (h *SchemaHandler) versions(w http.ResponseWriter, r *http.Request) {
	infos, err := h.registry.ListVersions(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *SchemaHandler) version(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	v, err := strconv.Atoi(vars["version"])
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:     fmt.Sprintf("version %q is not a number", vars["version"]),
			RequestID: GetRequestID(r.Context()),
		})
		return
	}

	sv, err := h.registry.GetVersion(r.Context(), vars["name"], v)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

func (h *SchemaHandler) openapi(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	sv, err := h.registry.GetLatest(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export.OpenAPIDocument(name, sv))
}

// archive streams the full history of a name as a snappy-framed archive.
func (h *SchemaHandler) archive(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	history, err := h.registry.History(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-snappy-framed")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".shelfard"))
	w.WriteHeader(http.StatusOK)
	if err := export.WriteArchive(w, name, history); err != nil {
		h.logger.Warn("archive write interrupted", "name", name, "err", err)
	}
}

func (h *SchemaHandler) listNames(w http.ResponseWriter, r *http.Request) {
	names, err := h.registry.ListNames(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// driftStats handles GET /v1/stats/drift?name=&top=.
func (h *SchemaHandler) driftStats(w http.ResponseWriter, r *http.Request) {
	top := 10
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrorResponse{
				Error:     fmt.Sprintf("top must be a positive integer, got %q", raw),
				RequestID: GetRequestID(r.Context()),
			})
			return
		}
		top = n
	}
	writeJSON(w, http.StatusOK, h.stats.TopPaths(r.URL.Query().Get("name"), top))
}

func (h *SchemaHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:     fmt.Sprintf("failed to read request body: %v", err),
			RequestID: GetRequestID(r.Context()),
		})
		return nil, false
	}
	return body, true
}

// fail writes err with the status its category maps to.
func (h *SchemaHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	requestID := GetRequestID(r.Context())
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "err", err, "request_id", requestID)
	}

	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      serrors.GetCode(err),
		Details:   serrors.GetDetails(err),
		RequestID: requestID,
	}
	var se *serrors.Error
	if errors.As(err, &se) {
		resp.Error = se.Message
	}
	writeError(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case serrors.IsNotFound(err):
		return http.StatusNotFound
	case serrors.IsInvalidInput(err):
		return http.StatusBadRequest
	case serrors.GetCode(err) == serrors.CodeLockTimeout:
		return http.StatusServiceUnavailable
	case serrors.IsFetch(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sourceOf returns the source recorded with an uploaded payload: the source
// query parameter, else "upload".
func sourceOf(r *http.Request) string {
	if s := r.URL.Query().Get("source"); s != "" {
		return s
	}
	return "upload"
}

func hintsOf(r *http.Request) infer.KeyHints {
	q := r.URL.Query()
	return infer.KeyHints{
		PartitionKeys:  splitList(q.Get("partition_keys")),
		ClusteringKeys: splitList(q.Get("clustering_keys")),
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
