package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"
)

func newTestEcho() *echo.Echo {
	server := NewServer(NewRunStore(), NewAttentionService())
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("unexpected health status %q", health.Status)
	}
	if health.Version == "" {
		t.Fatalf("expected version string")
	}
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	body := `{"batch_size":2,"head_number":1,"head_size":16,"seq_length":32,"fixed_length":true,"causal":true,"seed":5}`
	createRec := doJSON(t, e, http.MethodPost, "/v1/attention/runs", body)
	if createRec.Code != http.StatusOK {
		t.Fatalf("create status: got %d body=%s", createRec.Code, createRec.Body.String())
	}

	var created RunResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected run id")
	}
	if created.Status != "completed" {
		t.Fatalf("expected completed status, got %q (error %q)", created.Status, created.Error)
	}
	if !created.Checked || created.Passed == nil || !*created.Passed {
		t.Fatalf("expected passing reference check, got %+v", created)
	}
	if created.Problems != 2 {
		t.Fatalf("expected 2 sub-problems, got %d", created.Problems)
	}
	if created.WorkUnits < 2 {
		t.Fatalf("expected work units, got %d", created.WorkUnits)
	}
	if created.Units < 1 {
		t.Fatalf("expected at least one execution unit, got %d", created.Units)
	}
	if created.Flops <= 0 {
		t.Fatalf("expected positive flop count, got %d", created.Flops)
	}

	getRec := doJSON(t, e, http.MethodGet, "/v1/attention/runs/"+created.ID, "")
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status: got %d body=%s", getRec.Code, getRec.Body.String())
	}

	listRec := doJSON(t, e, http.MethodGet, "/v1/attention/runs", "")
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status: got %d body=%s", listRec.Code, listRec.Body.String())
	}
	if !strings.Contains(listRec.Body.String(), created.ID) {
		t.Fatalf("list does not contain run id: %s", listRec.Body.String())
	}

	delRec := doJSON(t, e, http.MethodDelete, "/v1/attention/runs/"+created.ID, "")
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete status: got %d body=%s", delRec.Code, delRec.Body.String())
	}
	if !strings.Contains(delRec.Body.String(), `"deleted":true`) {
		t.Fatalf("delete response missing deleted=true: %s", delRec.Body.String())
	}

	getDeletedRec := doJSON(t, e, http.MethodGet, "/v1/attention/runs/"+created.ID, "")
	if getDeletedRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d body=%s", getDeletedRec.Code, getDeletedRec.Body.String())
	}
}

func TestRunValidationErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	cases := []struct {
		name string
		body string
	}{
		{"negative-batch", `{"batch_size":-1,"head_number":1,"head_size":16,"seq_length":32}`},
		{"zero-head-size", `{"batch_size":1,"head_number":1,"head_size":0,"seq_length":32}`},
		{"bad-scheduler", `{"batch_size":1,"head_number":1,"head_size":16,"seq_length":32,"scheduler_mode":"quantum"}`},
		{"unsupported-alignment", `{"batch_size":1,"head_number":1,"head_size":16,"seq_length":32,"alignment":8}`},
		{"malformed-json", `{"batch_size":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, e, http.MethodPost, "/v1/attention/runs", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("got %d body=%s, want 400", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), "invalid_request_error") {
				t.Fatalf("missing error type: %s", rec.Body.String())
			}
		})
	}
}

func TestRunResourceInsufficient(t *testing.T) {
	t.Parallel()

	// A tile too large for the scratch budget affords zero execution
	// units, which must surface as 503 before anything runs.
	e := newTestEcho()
	body := `{"batch_size":1,"head_number":1,"head_size":8,"seq_length":16,"fixed_length":true,"tile_rows":8192,"tile_cols":8192}`
	rec := doJSON(t, e, http.MethodPost, "/v1/attention/runs", body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d body=%s, want 503", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "resource_insufficient") {
		t.Fatalf("missing error type: %s", rec.Body.String())
	}
}

func TestRunMaskedAtUnitAlignment(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	body := `{"batch_size":2,"head_number":1,"head_size":8,"seq_length":40,"use_mask":true,"alignment":1,"seed":11}`
	rec := doJSON(t, e, http.MethodPost, "/v1/attention/runs", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("masked run status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" || resp.Passed == nil || !*resp.Passed {
		t.Fatalf("masked run did not pass: %+v", resp)
	}
}

func TestRunHostPrecomputeMode(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	body := `{"batch_size":3,"head_number":2,"head_size":16,"seq_length":48,"scheduler_mode":"host-precompute","seed":7}`
	rec := doJSON(t, e, http.MethodPost, "/v1/attention/runs", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("host-precompute run status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" {
		t.Fatalf("expected completed, got %q (error %q)", resp.Status, resp.Error)
	}
	if resp.Workspace <= 0 {
		t.Fatalf("host-precompute mode should report schedule workspace, got %d", resp.Workspace)
	}
}

func TestEstimateCountsWork(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	body := `{"batch_size":2,"head_number":2,"head_size":16,"seq_length":64,"fixed_length":true}`
	rec := doJSON(t, e, http.MethodPost, "/v1/attention/estimate", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("estimate status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var est EstimateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &est); err != nil {
		t.Fatalf("decode estimate: %v", err)
	}
	if est.Problems != 4 {
		t.Fatalf("problems: got %d want 4", est.Problems)
	}
	// 64 query rows per problem at the default 32-row tile.
	if est.WorkUnits != 8 {
		t.Fatalf("work units: got %d want 8", est.WorkUnits)
	}
	wantFlops := int64(4) * 2 * 64 * 64 * (16 + 16)
	if est.Flops != wantFlops {
		t.Fatalf("flops: got %d want %d", est.Flops, wantFlops)
	}
	if est.ElemsQ != 4*64*16 || est.ElemsO != 4*64*16 {
		t.Fatalf("element counts: got q=%d o=%d", est.ElemsQ, est.ElemsO)
	}
}

func TestEstimateRejectsBadSpec(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	rec := doJSON(t, e, http.MethodPost, "/v1/attention/estimate", `{"batch_size":0,"head_number":1,"head_size":16,"seq_length":8}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d body=%s, want 400", rec.Code, rec.Body.String())
	}
}
