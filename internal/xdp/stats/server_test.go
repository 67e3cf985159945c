// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/grimm-is/xdpfw/internal/xdp/types"
)

type fakeInspector struct {
	filters []types.Filter
}

func (f *fakeInspector) ActiveFilters() []types.Filter { return f.filters }

func TestHealthzReturnsOK(t *testing.T) {
	srv := NewServer(NewCollector(nil), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %+v", body)
	}
}

func TestDebugFiltersWithoutInspectorReturns501(t *testing.T) {
	srv := NewServer(NewCollector(nil), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/filters", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestDebugFiltersWithInspectorReturnsCount(t *testing.T) {
	insp := &fakeInspector{filters: []types.Filter{{Enabled: 1}, {Enabled: 1}}}
	srv := NewServer(NewCollector(nil), insp, nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/filters", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("expected count 2, got %d", body.Count)
	}
}
