package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cinderlog/cinder/internal/alerting"
	"github.com/cinderlog/cinder/internal/models"
)

func newHandlerWithAlert(t *testing.T) (*Handler, *models.Alert) {
	t.Helper()
	store := alerting.NewStore()
	alert, created := store.Trigger("HIGH_ERROR_RATE", models.SeverityHigh, "system",
		"High Error Rate", "Error rate is 6.0% (6 of 100 entries)")
	if !created {
		t.Fatal("expected a fresh alert")
	}
	return NewHandler(store, nil), alert
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeAlert(t *testing.T, rec *httptest.ResponseRecorder) *models.Alert {
	t.Helper()
	var resp struct {
		Data *models.Alert `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data == nil {
		t.Fatal("response data is nil")
	}
	return resp.Data
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error.Code
}

func TestList_Empty(t *testing.T) {
	handler := NewHandler(alerting.NewStore(), nil)

	req := httptest.NewRequest("GET", "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()

	handler.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Data []*models.Alert `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data == nil {
		t.Error("data is null, want empty array")
	}
	if len(resp.Data) != 0 {
		t.Errorf("alerts = %d, want 0", len(resp.Data))
	}
}

func TestList_StatusFilter(t *testing.T) {
	store := alerting.NewStore()
	open, _ := store.Trigger("HIGH_ERROR_RATE", models.SeverityHigh, "system", "High Error Rate", "d")
	acked, _ := store.Trigger("HIGH_LOG_VOLUME", models.SeverityLow, "system", "High Log Volume", "d")
	if _, err := store.Acknowledge(acked.ID, "sre"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	handler := NewHandler(store, nil)

	req := httptest.NewRequest("GET", "/api/v1/alerts?status=open", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Data []*models.Alert `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("alerts = %d, want 1", len(resp.Data))
	}
	if resp.Data[0].ID != open.ID {
		t.Errorf("id = %q, want the open alert %q", resp.Data[0].ID, open.ID)
	}
}

func TestList_SeverityFilter(t *testing.T) {
	store := alerting.NewStore()
	store.Trigger("HIGH_ERROR_RATE", models.SeverityHigh, "system", "High Error Rate", "d")
	store.Trigger("HIGH_LOG_VOLUME", models.SeverityLow, "system", "High Log Volume", "d")

	handler := NewHandler(store, nil)

	req := httptest.NewRequest("GET", "/api/v1/alerts?severity=high", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	var resp struct {
		Data []*models.Alert `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("alerts = %d, want 1", len(resp.Data))
	}
	if resp.Data[0].Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", resp.Data[0].Severity)
	}
}

func TestList_InvalidFilters(t *testing.T) {
	handler := NewHandler(alerting.NewStore(), nil)

	for _, url := range []string{
		"/api/v1/alerts?status=bogus",
		"/api/v1/alerts?severity=extreme",
	} {
		req := httptest.NewRequest("GET", url, nil)
		rec := httptest.NewRecorder()
		handler.List(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", url, rec.Code, http.StatusBadRequest)
		}
		if code := decodeErrorCode(t, rec); code != errCodeValidationFailed {
			t.Errorf("%s: error code = %q, want %q", url, code, errCodeValidationFailed)
		}
	}
}

func TestGetByID_Found(t *testing.T) {
	handler, alert := newHandlerWithAlert(t)

	req := httptest.NewRequest("GET", "/api/v1/alerts/"+alert.ID, nil)
	req = withURLParam(req, "id", alert.ID)
	rec := httptest.NewRecorder()

	handler.GetByID(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	got := decodeAlert(t, rec)
	if got.ID != alert.ID {
		t.Errorf("id = %q, want %q", got.ID, alert.ID)
	}
	if got.RuleKey != "HIGH_ERROR_RATE" {
		t.Errorf("rule key = %q, want HIGH_ERROR_RATE", got.RuleKey)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	handler, _ := newHandlerWithAlert(t)

	req := httptest.NewRequest("GET", "/api/v1/alerts/nonexistent", nil)
	req = withURLParam(req, "id", "nonexistent")
	rec := httptest.NewRecorder()

	handler.GetByID(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if code := decodeErrorCode(t, rec); code != errCodeNotFound {
		t.Errorf("error code = %q, want %q", code, errCodeNotFound)
	}
}

func TestAcknowledge(t *testing.T) {
	handler, alert := newHandlerWithAlert(t)

	req := httptest.NewRequest("POST", "/api/v1/alerts/"+alert.ID+"/ack", strings.NewReader(`{"by":"sre-team"}`))
	req = withURLParam(req, "id", alert.ID)
	rec := httptest.NewRecorder()

	handler.Acknowledge(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	got := decodeAlert(t, rec)
	if got.Status != models.StatusAcknowledged {
		t.Errorf("status = %s, want ACKNOWLEDGED", got.Status)
	}
	if got.AcknowledgedBy != "sre-team" {
		t.Errorf("acknowledged by = %q, want sre-team", got.AcknowledgedBy)
	}
	if got.AcknowledgedAt == nil {
		t.Error("acknowledged at not set")
	}
}

func TestAcknowledge_MissingBy(t *testing.T) {
	handler, alert := newHandlerWithAlert(t)

	req := httptest.NewRequest("POST", "/api/v1/alerts/"+alert.ID+"/ack", strings.NewReader(`{}`))
	req = withURLParam(req, "id", alert.ID)
	rec := httptest.NewRecorder()

	handler.Acknowledge(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if code := decodeErrorCode(t, rec); code != errCodeValidationFailed {
		t.Errorf("error code = %q, want %q", code, errCodeValidationFailed)
	}
}

func TestAcknowledge_ResolvedConflict(t *testing.T) {
	store := alerting.NewStore()
	alert, _ := store.Trigger("HIGH_ERROR_RATE", models.SeverityHigh, "system", "High Error Rate", "d")
	if _, err := store.Resolve(alert.ID, "sre", "fixed"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	handler := NewHandler(store, nil)

	req := httptest.NewRequest("POST", "/api/v1/alerts/"+alert.ID+"/ack", strings.NewReader(`{"by":"sre"}`))
	req = withURLParam(req, "id", alert.ID)
	rec := httptest.NewRecorder()

	handler.Acknowledge(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if code := decodeErrorCode(t, rec); code != errCodeConflict {
		t.Errorf("error code = %q, want %q", code, errCodeConflict)
	}
}

func TestResolve(t *testing.T) {
	handler, alert := newHandlerWithAlert(t)

	body := `{"by":"oncall","notes":"database failover completed"}`
	req := httptest.NewRequest("POST", "/api/v1/alerts/"+alert.ID+"/resolve", strings.NewReader(body))
	req = withURLParam(req, "id", alert.ID)
	rec := httptest.NewRecorder()

	handler.Resolve(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	got := decodeAlert(t, rec)
	if got.Status != models.StatusResolved {
		t.Errorf("status = %s, want RESOLVED", got.Status)
	}
	if got.ResolutionNotes != "database failover completed" {
		t.Errorf("notes = %q, want the submitted notes", got.ResolutionNotes)
	}
}

func TestResolve_NotFound(t *testing.T) {
	handler, _ := newHandlerWithAlert(t)

	req := httptest.NewRequest("POST", "/api/v1/alerts/nope/resolve", strings.NewReader(`{"by":"sre"}`))
	req = withURLParam(req, "id", "nope")
	rec := httptest.NewRecorder()

	handler.Resolve(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	store := alerting.NewStore()
	alert, _ := store.Trigger("HIGH_ERROR_RATE", models.SeverityHigh, "system", "High Error Rate", "d")
	if _, err := store.Resolve(alert.ID, "first", "original fix"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	handler := NewHandler(store, nil)

	req := httptest.NewRequest("POST", "/api/v1/alerts/"+alert.ID+"/resolve", strings.NewReader(`{"by":"second","notes":"other"}`))
	req = withURLParam(req, "id", alert.ID)
	rec := httptest.NewRecorder()

	handler.Resolve(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	got := decodeAlert(t, rec)
	if got.ResolvedBy != "first" {
		t.Errorf("resolved by = %q, want the original resolver", got.ResolvedBy)
	}
	if got.ResolutionNotes != "original fix" {
		t.Errorf("notes = %q, want the original notes", got.ResolutionNotes)
	}
}

func TestSweep_Disabled(t *testing.T) {
	handler := NewHandler(alerting.NewStore(), nil)

	req := httptest.NewRequest("POST", "/api/v1/alerts/sweep", nil)
	rec := httptest.NewRecorder()

	handler.Sweep(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

// sweepStats feeds the evaluator fixed counts.
type sweepStats struct {
	total, errors, warnings, recentErrors int64
	sources                               []string
}

func (s sweepStats) Count(ctx context.Context) (int64, error) { return s.total, nil }

func (s sweepStats) CountByLevel(ctx context.Context, level models.Level) (int64, error) {
	switch level {
	case models.LevelError:
		return s.errors, nil
	case models.LevelWarn:
		return s.warnings, nil
	}
	return 0, nil
}

func (s sweepStats) CountSinceByLevel(ctx context.Context, since time.Time, level models.Level) (int64, error) {
	return s.recentErrors, nil
}

func (s sweepStats) DistinctSources(ctx context.Context) ([]string, error) {
	return s.sources, nil
}

func TestSweep(t *testing.T) {
	store := alerting.NewStore()

	// 10 errors out of 100 entries violates the error-rate threshold.
	evaluator := alerting.NewEvaluator(sweepStats{total: 100, errors: 10}, store, nil)
	handler := NewHandler(store, evaluator)

	req := httptest.NewRequest("POST", "/api/v1/alerts/sweep", nil)
	rec := httptest.NewRecorder()

	handler.Sweep(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Data *SweepResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Status != "completed" {
		t.Errorf("status = %q, want completed", resp.Data.Status)
	}
	if resp.Data.Counts["open"] == 0 {
		t.Errorf("open count = %d, want at least 1", resp.Data.Counts["open"])
	}
}
