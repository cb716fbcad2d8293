package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"cabinmap/core-go/internal/config"
	"cabinmap/core-go/internal/connections"
	"cabinmap/core-go/internal/export"
	"cabinmap/core-go/internal/geometry"
	"cabinmap/core-go/internal/locations"
	"cabinmap/core-go/internal/meta"
	"cabinmap/core-go/internal/metrics"
	"cabinmap/core-go/internal/style"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Store   Pinger
	Metrics *metrics.Metrics
	// Tokens maps bearer tokens to a role (config.RoleEditor or config.RoleViewer).
	Tokens map[string]string
}

type Handler struct {
	log       zerolog.Logger
	store     Pinger
	locations *locations.Service
	metrics   *metrics.Metrics
	tokens    map[string]string
}

func NewHandler(log zerolog.Logger, svc *locations.Service, opts Options) *Handler {
	return &Handler{
		log:       log,
		store:     opts.Store,
		locations: svc,
		metrics:   opts.Metrics,
		tokens:    opts.Tokens,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/locations", func(r chi.Router) {
				r.Get("/", h.handleListLocations)
				r.With(h.requireEditor).Post("/", h.handleCreateLocation)
				r.Get("/export", h.handleExportLocations)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetLocation)
					r.With(h.requireEditor).Put("/", h.handleUpdateLocation)
					r.With(h.requireEditor).Delete("/", h.handleDeleteLocation)
					r.Get("/connections", h.handleListConnections)
					r.With(h.requireEditor).Put("/style", h.handleUpdateStyle)
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		h.metrics.ObserveHTTPRequest(r.Method, routePattern(r), ww.Status(), duration)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http_request")
	})
}

// routePattern keeps metric cardinality bounded by labelling with the matched
// chi pattern instead of the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (h *Handler) requireEditor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		role, ok := h.tokens[token]
		if !ok {
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token", nil)
			return
		}
		if role != config.RoleEditor {
			h.writeError(w, http.StatusForbidden, "forbidden", "token may not modify locations", map[string]any{"role": role})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// writeServiceError maps a locations.Service error onto the error envelope.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, id int64, action string) {
	var ve *locations.ValidationError
	switch {
	case errors.As(err, &ve):
		details := make(map[string]any, len(ve.Fields))
		for k, v := range ve.Fields {
			details[k] = v
		}
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid location", details)
	case errors.Is(err, meta.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "location not found", map[string]any{"id": id})
	default:
		h.log.Error().Err(err).Int64("id", id).Msg(action + " failed")
		h.writeError(w, http.StatusInternalServerError, "store_error", "failed to "+action, nil)
	}
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "store not configured", nil)
		return
	}

	if err := h.store.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "store not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

type connectionRef struct {
	ID   int64  `json:"id"`
	Kind string `json:"kind"`
}

type locationWrite struct {
	Title       *string          `json:"title,omitempty"`
	Type        *string          `json:"type,omitempty"`
	Coordinates json.RawMessage  `json:"coordinates,omitempty"`
	Label       *string          `json:"label,omitempty"`
	GroupTag    *string          `json:"group_tag,omitempty"`
	Style       *style.Patch     `json:"style,omitempty"`
	Connections *[]connectionRef `json:"connections,omitempty"`
}

// toInput converts the request body. Unknown kinds are passed through so the
// service reports them against the offending connections[i] field.
func (req locationWrite) toInput() locations.Input {
	in := locations.Input{
		Title:       req.Title,
		Type:        req.Type,
		Coordinates: req.Coordinates,
		Label:       req.Label,
		GroupTag:    req.GroupTag,
		Style:       req.Style,
	}
	if req.Connections != nil {
		targets := make([]connections.Target, 0, len(*req.Connections))
		for _, c := range *req.Connections {
			kind, ok := meta.ParseKind(c.Kind)
			if !ok {
				kind = meta.Kind(c.Kind)
			}
			targets = append(targets, connections.Target{ID: c.ID, Kind: kind})
		}
		in.Connections = &targets
	}
	return in
}

func (h *Handler) ensureService(w http.ResponseWriter) bool {
	if h.locations == nil {
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "store not configured", nil)
		return false
	}
	return true
}

// locationID parses the {id} path parameter. Anything that is not a positive
// integer cannot name a location and is reported as not found.
func (h *Handler) locationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusNotFound, "not_found", "location not found", map[string]any{"id": raw})
		return 0, false
	}
	return id, true
}

// parseBBox reads "minLat,minLng,maxLat,maxLng".
func parseBBox(raw string) (*geometry.Box, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, errors.New("bbox must be minLat,minLng,maxLat,maxLng")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.New("bbox values must be numbers")
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return nil, errors.New("bbox minimum must not exceed maximum")
	}
	return &geometry.Box{MinLat: v[0], MinLng: v[1], MaxLat: v[2], MaxLng: v[3]}, nil
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	bbox, err := parseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid bbox", map[string]any{"bbox": err.Error()})
		return
	}

	if !h.ensureService(w) {
		return
	}

	locs, err := h.locations.List(r.Context(), bbox)
	if err != nil {
		h.writeServiceError(w, err, 0, "list locations")
		return
	}

	h.writeJSON(w, http.StatusOK, locs)
}

func (h *Handler) handleExportLocations(w http.ResponseWriter, r *http.Request) {
	if !h.ensureService(w) {
		return
	}

	locs, err := h.locations.List(r.Context(), nil)
	if err != nil {
		h.writeServiceError(w, err, 0, "export locations")
		return
	}

	var buf bytes.Buffer
	if _, err := export.Write(&buf, locs); err != nil {
		h.log.Error().Err(err).Msg("encode export failed")
		h.writeError(w, http.StatusInternalServerError, "store_error", "failed to export locations", nil)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="locations.geojson"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationWrite
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	if !h.ensureService(w) {
		return
	}

	loc, err := h.locations.Create(r.Context(), req.toInput())
	if err != nil {
		h.writeServiceError(w, err, 0, "create location")
		return
	}

	h.writeJSON(w, http.StatusCreated, loc)
}

func (h *Handler) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.locationID(w, r)
	if !ok || !h.ensureService(w) {
		return
	}

	loc, err := h.locations.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, id, "fetch location")
		return
	}

	h.writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.locationID(w, r)
	if !ok {
		return
	}
	var req locationWrite
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	if !h.ensureService(w) {
		return
	}

	loc, err := h.locations.Update(r.Context(), id, req.toInput())
	if err != nil {
		h.writeServiceError(w, err, id, "update location")
		return
	}

	h.writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) handleUpdateStyle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.locationID(w, r)
	if !ok {
		return
	}
	var req style.Patch
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	if !h.ensureService(w) {
		return
	}

	st, err := h.locations.UpdateStyle(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, err, id, "update style")
		return
	}

	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.locationID(w, r)
	if !ok || !h.ensureService(w) {
		return
	}

	if err := h.locations.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, id, "delete location")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	id, ok := h.locationID(w, r)
	if !ok || !h.ensureService(w) {
		return
	}

	details, err := h.locations.ConnectionDetails(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, id, "list connections")
		return
	}

	h.writeJSON(w, http.StatusOK, details)
}
