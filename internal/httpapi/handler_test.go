package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"cabinmap/core-go/internal/config"
	"cabinmap/core-go/internal/connections"
	"cabinmap/core-go/internal/locations"
	"cabinmap/core-go/internal/meta"
	"cabinmap/core-go/internal/metrics"
	"cabinmap/core-go/internal/style"
)

const (
	editorToken = "editor-secret"
	viewerToken = "viewer-secret"
)

type fakePinger struct {
	pingFn func(ctx context.Context) error
}

func (f fakePinger) Ping(ctx context.Context) error {
	return f.pingFn(ctx)
}

type testServer struct {
	store   *meta.Memory
	router  http.Handler
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	log := zerolog.New(io.Discard)
	store := meta.NewMemory()
	m := metrics.New()
	index := connections.New(log, store, connections.Options{}, m)
	styles := style.NewResolver(log, store, nil)
	svc := locations.NewService(log, store, index, styles)
	h := NewHandler(log, svc, Options{
		Store:   store,
		Metrics: m,
		Tokens:  map[string]string{editorToken: config.RoleEditor, viewerToken: config.RoleViewer},
	})
	return testServer{store: store, router: h.Router(), metrics: m}
}

func (s testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s testServer) createMarker(t *testing.T, title string) int64 {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/v1/locations", editorToken,
		`{"title":"`+title+`","coordinates":{"lat":59.8982,"lng":10.7489}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var loc locations.Location
	if err := json.Unmarshal(rr.Body.Bytes(), &loc); err != nil {
		t.Fatalf("decode created location: %v", err)
	}
	return loc.ID
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body as json: %v\nbody=%s", err, rr.Body.String())
	}
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rr)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestHealthz_OK(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ok, _ := decodeBody(t, rr)["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, body=%s", rr.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	log := zerolog.New(io.Discard)

	t.Run("not configured", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewHandler(log, nil, Options{}).Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if code := errorCode(t, rr); code != "store_unavailable" {
			t.Fatalf("expected store_unavailable, got %q", code)
		}
	})

	t.Run("ping fails", func(t *testing.T) {
		h := NewHandler(log, nil, Options{Store: fakePinger{pingFn: func(context.Context) error {
			return errors.New("connection refused")
		}}})
		rr := httptest.NewRecorder()
		h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
	})

	t.Run("ready", func(t *testing.T) {
		s := newTestServer(t)
		rr := s.do(t, http.MethodGet, "/readyz", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
		}
	})
}

func TestLocations_ServiceNotConfigured(t *testing.T) {
	h := NewHandler(zerolog.New(io.Discard), nil, Options{})
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestWrites_RequireEditorToken(t *testing.T) {
	s := newTestServer(t)
	id := s.createMarker(t, "Beach")
	body := `{"title":"Pier","coordinates":{"lat":1,"lng":2}}`

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		code   string
	}{
		{"create without token", http.MethodPost, "/api/v1/locations", "", body, http.StatusUnauthorized, "unauthorized"},
		{"create with unknown token", http.MethodPost, "/api/v1/locations", "nope", body, http.StatusUnauthorized, "unauthorized"},
		{"create as viewer", http.MethodPost, "/api/v1/locations", viewerToken, body, http.StatusForbidden, "forbidden"},
		{"update as viewer", http.MethodPut, "/api/v1/locations/" + itoa(id), viewerToken, `{"title":"x"}`, http.StatusForbidden, "forbidden"},
		{"style without token", http.MethodPut, "/api/v1/locations/" + itoa(id) + "/style", "", `{"color":"red"}`, http.StatusUnauthorized, "unauthorized"},
		{"delete as viewer", http.MethodDelete, "/api/v1/locations/" + itoa(id), viewerToken, "", http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(t, tc.method, tc.path, tc.token, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, code)
			}
		})
	}

	// Reads stay public and the location is untouched.
	rr := s.do(t, http.MethodGet, "/api/v1/locations/"+itoa(id), "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if title := decodeBody(t, rr)["title"]; title != "Beach" {
		t.Fatalf("expected title Beach, got %v", title)
	}
}

func TestCreateLocation_Validation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing title", `{"coordinates":{"lat":1,"lng":2}}`, "title"},
		{"missing coordinates", `{"title":"x"}`, "coordinates"},
		{"non-numeric lat", `{"title":"x","coordinates":{"lat":"north","lng":2}}`, "coordinates"},
		{"type mismatch", `{"title":"x","type":"polygon","coordinates":{"lat":1,"lng":2}}`, "type"},
		{"bad color", `{"title":"x","coordinates":{"lat":1,"lng":2},"style":{"color":"nope"}}`, "style"},
		{"bad connection kind", `{"title":"x","coordinates":{"lat":1,"lng":2},"connections":[{"id":3,"kind":"planet"}]}`, "connections[0]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/api/v1/locations", editorToken, tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
			}
			errObj := decodeBody(t, rr)["error"].(map[string]any)
			if errObj["code"] != "validation_failed" {
				t.Fatalf("expected validation_failed, got %v", errObj["code"])
			}
			details, _ := errObj["details"].(map[string]any)
			if _, ok := details[tc.field]; !ok {
				t.Fatalf("expected details to name %q, got %v", tc.field, details)
			}
		})
	}

	rr := s.do(t, http.MethodGet, "/api/v1/locations", "", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("rejected creates must not write, got %s", rr.Body.String())
	}
}

func TestCreateLocation_RejectsUnknownFields(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodPost, "/api/v1/locations", editorToken, `{"title":"x","coordinates":{"lat":1,"lng":2},"colour":"red"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetLocation_NotFound(t *testing.T) {
	s := newTestServer(t)
	post, err := s.store.CreateEntity(context.Background(), meta.Entity{Kind: meta.KindContent, Subtype: "post", Title: "News"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}

	for _, path := range []string{
		"/api/v1/locations/999",
		"/api/v1/locations/abc",
		"/api/v1/locations/-3",
		"/api/v1/locations/" + itoa(post.ID),
		"/api/v1/locations/999/connections",
	} {
		rr := s.do(t, http.MethodGet, path, "", "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d body=%s", path, rr.Code, rr.Body.String())
		}
		if code := errorCode(t, rr); code != "not_found" {
			t.Fatalf("%s: expected not_found, got %q", path, code)
		}
	}
}

func TestUpdateLocation_ConnectionsAndLabel(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	account, err := s.store.CreateEntity(ctx, meta.Entity{ID: 44, Kind: meta.KindAccount, Subtype: meta.SubtypeAccount, Title: "Ola"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := s.store.Set(ctx, meta.KindAccount, account.ID, locations.KeyCabinNumber, []byte(`"12"`)); err != nil {
		t.Fatalf("set cabin number: %v", err)
	}
	id := s.createMarker(t, "Cabin")

	rr := s.do(t, http.MethodPut, "/api/v1/locations/"+itoa(id), editorToken, `{"connections":[{"id":44,"kind":"user"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var loc locations.Location
	if err := json.Unmarshal(rr.Body.Bytes(), &loc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(loc.Connections) != 1 || loc.Connections[0].Kind != meta.KindAccount || loc.Connections[0].Type != "user" {
		t.Fatalf("unexpected connections: %+v", loc.Connections)
	}
	if loc.Label == nil || *loc.Label != "12" {
		t.Fatalf("expected label fallback 12, got %v", loc.Label)
	}

	rr = s.do(t, http.MethodGet, "/api/v1/locations/"+itoa(id)+"/connections", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var details []locations.ConnectionDetail
	if err := json.Unmarshal(rr.Body.Bytes(), &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if len(details) != 1 || details[0].Title != "Ola" || !details[0].Resolved {
		t.Fatalf("unexpected details: %+v", details)
	}

	reverse, err := s.store.Get(ctx, meta.KindAccount, 44, connections.KeyConnectedLocations)
	if err != nil {
		t.Fatalf("get reverse list: %v", err)
	}
	if string(reverse) != "["+itoa(id)+"]" {
		t.Fatalf("expected reverse list [%d], got %s", id, reverse)
	}
}

func TestUpdateStyle(t *testing.T) {
	s := newTestServer(t)
	id := s.createMarker(t, "Beach")

	rr := s.do(t, http.MethodPut, "/api/v1/locations/"+itoa(id)+"/style", editorToken, `{"color":"javascript:alert(1)"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodPut, "/api/v1/locations/"+itoa(id)+"/style", editorToken, `{"color":"#FF0000","opacity":1.7}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var st style.Style
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Color != "#FF0000" || st.Opacity != 1 || st.Weight != 3 {
		t.Fatalf("unexpected style: %+v", st)
	}

	rr = s.do(t, http.MethodPut, "/api/v1/locations/999/style", editorToken, `{"color":"red"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestDeleteLocation_CleansUpReverseEdges(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	if _, err := s.store.CreateEntity(ctx, meta.Entity{ID: 44, Kind: meta.KindAccount, Subtype: meta.SubtypeAccount, Title: "Ola"}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	id := s.createMarker(t, "Cabin")
	rr := s.do(t, http.MethodPut, "/api/v1/locations/"+itoa(id), editorToken, `{"connections":[{"id":44,"kind":"account"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodDelete, "/api/v1/locations/"+itoa(id), editorToken, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodGet, "/api/v1/locations/"+itoa(id), "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
	reverse, err := s.store.Get(ctx, meta.KindAccount, 44, connections.KeyConnectedLocations)
	if err != nil {
		t.Fatalf("get reverse list: %v", err)
	}
	if string(reverse) != "[]" {
		t.Fatalf("expected empty reverse list, got %s", reverse)
	}

	rr = s.do(t, http.MethodDelete, "/api/v1/locations/"+itoa(id), editorToken, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rr.Code)
	}
}

func TestListLocations_BBox(t *testing.T) {
	s := newTestServer(t)
	s.createMarker(t, "Oslo")
	rr := s.do(t, http.MethodPost, "/api/v1/locations", editorToken,
		`{"title":"Bergen","coordinates":{"lat":60.39,"lng":5.32}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodGet, "/api/v1/locations?bbox=59,10,60,11", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var locs []locations.Location
	if err := json.Unmarshal(rr.Body.Bytes(), &locs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(locs) != 1 || locs[0].Title != "Oslo" {
		t.Fatalf("expected only Oslo, got %+v", locs)
	}

	rr = s.do(t, http.MethodGet, "/api/v1/locations", "", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &locs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("expected 2 locations without bbox, got %d", len(locs))
	}

	for _, bad := range []string{"1,2,3", "a,b,c,d", "10,10,0,0"} {
		rr = s.do(t, http.MethodGet, "/api/v1/locations?bbox="+bad, "", "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("bbox %q: expected 400, got %d", bad, rr.Code)
		}
	}
}

func TestExportLocations_GeoJSONAttachment(t *testing.T) {
	s := newTestServer(t)
	s.createMarker(t, "Oslo")

	rr := s.do(t, http.MethodGet, "/api/v1/locations/export", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("expected attachment disposition, got %q", cd)
	}
	body := decodeBody(t, rr)
	if body["type"] != "FeatureCollection" {
		t.Fatalf("expected FeatureCollection, got %v", body["type"])
	}
	if features, _ := body["features"].([]any); len(features) != 1 {
		t.Fatalf("expected 1 feature, got %v", body["features"])
	}
}

func TestMetrics_RecordRoutePattern(t *testing.T) {
	s := newTestServer(t)
	id := s.createMarker(t, "Oslo")
	s.do(t, http.MethodGet, "/api/v1/locations/"+itoa(id), "", "")

	rr := s.do(t, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	out := rr.Body.String()
	if !strings.Contains(out, "cabinmap_http_requests_total") {
		t.Fatalf("expected request counter in output:\n%s", out)
	}
	if !strings.Contains(out, `path="/api/v1/locations/{id}`) {
		t.Fatalf("expected route pattern label in output:\n%s", out)
	}
	if strings.Contains(out, `path="/api/v1/locations/`+itoa(id)) {
		t.Fatalf("raw ids must not be used as labels:\n%s", out)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
