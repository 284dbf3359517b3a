package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dailydigest/internal/middleware"
	"github.com/hitoshi/dailydigest/internal/model"
)

const testToken = "test-api-token"

// --- テスト用モック ---

type triggerBriefingCall struct {
	userID string
	date   time.Time
	force  bool
}

type fakePipeline struct {
	syncIDs       []string
	syncErr       error
	classifyCalls int
	classifyErr   error
	briefingCalls []triggerBriefingCall
	briefingErr   error
	briefings     map[string]*model.Briefing
	links         map[string][]model.BriefingContentLink
	delivered     []string
	deliverErr    error
}

func (f *fakePipeline) TriggerSync(ctx context.Context, sourceID string) error {
	f.syncIDs = append(f.syncIDs, sourceID)
	return f.syncErr
}

func (f *fakePipeline) TriggerClassificationBatch() error {
	f.classifyCalls++
	return f.classifyErr
}

func (f *fakePipeline) TriggerBriefing(ctx context.Context, userID string, date time.Time, force bool) error {
	f.briefingCalls = append(f.briefingCalls, triggerBriefingCall{userID: userID, date: date, force: force})
	return f.briefingErr
}

func (f *fakePipeline) GetBriefing(ctx context.Context, briefingID string) (*model.Briefing, error) {
	b, ok := f.briefings[briefingID]
	if !ok {
		return nil, model.NewBriefingNotFoundError(briefingID)
	}
	return b, nil
}

func (f *fakePipeline) GetBriefingLinks(ctx context.Context, briefingID string) ([]model.BriefingContentLink, error) {
	if _, ok := f.briefings[briefingID]; !ok {
		return nil, model.NewBriefingNotFoundError(briefingID)
	}
	return f.links[briefingID], nil
}

func (f *fakePipeline) MarkDelivered(ctx context.Context, briefingID string) (*model.Briefing, error) {
	if f.deliverErr != nil {
		return nil, f.deliverErr
	}
	b, ok := f.briefings[briefingID]
	if !ok {
		return nil, model.NewBriefingNotFoundError(briefingID)
	}
	f.delivered = append(f.delivered, briefingID)
	b.Status = model.BriefingStatusDelivered
	return b, nil
}

type fakeChecker struct {
	err error
}

func (f *fakeChecker) PingContext(ctx context.Context) error {
	return f.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newTestRouter(t *testing.T, p *fakePipeline, deps func(*RouterDeps)) http.Handler {
	t.Helper()
	logger := newTestLogger(&bytes.Buffer{})
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		TriggerRate:     100,
		TriggerBurst:    100,
		CleanupInterval: time.Minute,
	}, logger)
	t.Cleanup(rl.Stop)

	d := &RouterDeps{
		APIToken:      testToken,
		RateLimiter:   rl,
		Logger:        logger,
		HealthChecker: &fakeChecker{},
		Pipeline:      p,
	}
	if deps != nil {
		deps(d)
	}
	return NewRouter(d)
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func doRequest(h http.Handler, method, target string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- テスト ---

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "database reachable", wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "database unreachable", err: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantBody: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &fakePipeline{}, func(d *RouterDeps) {
				d.HealthChecker = &fakeChecker{err: tt.err}
			})

			rec := doRequest(h, http.MethodGet, "/health", false)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantBody)
			}
		})
	}
}

func TestSecurityHeadersOnPublicRoutes(t *testing.T) {
	h := newTestRouter(t, &fakePipeline{}, nil)

	rec := doRequest(h, http.MethodGet, "/health", false)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	p := &fakePipeline{}
	h := newTestRouter(t, p, nil)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/sources/s1/sync"},
		{http.MethodPost, "/api/classifications/run"},
		{http.MethodPost, "/api/users/u1/briefings"},
		{http.MethodGet, "/api/briefings/b1"},
		{http.MethodPost, "/api/briefings/b1/delivered"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := doRequest(h, rt.method, rt.path, false)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}

	if len(p.syncIDs) != 0 || p.classifyCalls != 0 || len(p.briefingCalls) != 0 {
		t.Error("pipeline should not be called without a token")
	}
}

func TestTriggerSync(t *testing.T) {
	p := &fakePipeline{}
	h := newTestRouter(t, p, nil)

	rec := doRequest(h, http.MethodPost, "/api/sources/src-42/sync", true)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(p.syncIDs) != 1 || p.syncIDs[0] != "src-42" {
		t.Errorf("syncIDs = %v, want [src-42]", p.syncIDs)
	}
	var body acceptedResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Task != "sync" || body.Target != "src-42" || body.Status != "accepted" {
		t.Errorf("body = %+v", body)
	}
}

func TestTriggerSync_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "unknown source", err: model.NewSourceNotFoundError("s1"), wantStatus: http.StatusNotFound, wantCode: model.ErrCodeSourceNotFound},
		{name: "queue full", err: model.NewQueueFullError(), wantStatus: http.StatusServiceUnavailable, wantCode: model.ErrCodeQueueFull},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &fakePipeline{syncErr: tt.err}, nil)

			rec := doRequest(h, http.MethodPost, "/api/sources/s1/sync", true)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if body := decodeError(t, rec); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestTriggerClassification(t *testing.T) {
	p := &fakePipeline{}
	h := newTestRouter(t, p, nil)

	rec := doRequest(h, http.MethodPost, "/api/classifications/run", true)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if p.classifyCalls != 1 {
		t.Errorf("classifyCalls = %d, want 1", p.classifyCalls)
	}
}

func TestTriggerBriefing(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantDate  string
		wantForce bool
	}{
		{name: "explicit date", query: "?date=2025-03-09", wantDate: "2025-03-09"},
		{name: "default date is today UTC", query: "", wantDate: "2025-03-10"},
		{name: "force", query: "?date=2025-03-09&force=true", wantDate: "2025-03-09", wantForce: true},
		{name: "unparseable force is false", query: "?force=maybe", wantDate: "2025-03-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{}
			th := NewTriggerHandler(p, newTestLogger(&bytes.Buffer{}))
			th.now = func() time.Time { return time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC) }

			req := httptest.NewRequest(http.MethodPost, "/api/users/u1/briefings"+tt.query, nil)
			req = withURLParam(req, "userID", "u1")
			rec := httptest.NewRecorder()
			th.TriggerBriefing(rec, req)

			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want 202", rec.Code)
			}
			if len(p.briefingCalls) != 1 {
				t.Fatalf("briefingCalls = %d, want 1", len(p.briefingCalls))
			}
			call := p.briefingCalls[0]
			if call.userID != "u1" {
				t.Errorf("userID = %q, want u1", call.userID)
			}
			if got := call.date.Format(model.DateLayout); got != tt.wantDate {
				t.Errorf("date = %s, want %s", got, tt.wantDate)
			}
			if call.force != tt.wantForce {
				t.Errorf("force = %v, want %v", call.force, tt.wantForce)
			}
		})
	}
}

func TestTriggerBriefing_ThroughRouter(t *testing.T) {
	p := &fakePipeline{}
	h := newTestRouter(t, p, nil)

	rec := doRequest(h, http.MethodPost, "/api/users/u7/briefings?date=2025-01-02", true)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(p.briefingCalls) != 1 || p.briefingCalls[0].userID != "u7" {
		t.Fatalf("briefingCalls = %+v", p.briefingCalls)
	}
	var body acceptedResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Date != "2025-01-02" {
		t.Errorf("date = %q, want 2025-01-02", body.Date)
	}
}

func TestTriggerBriefing_InvalidDate(t *testing.T) {
	p := &fakePipeline{}
	h := newTestRouter(t, p, nil)

	rec := doRequest(h, http.MethodPost, "/api/users/u1/briefings?date=10-03-2025", true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != model.ErrCodeInvalidDate {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidDate)
	}
	if len(p.briefingCalls) != 0 {
		t.Error("pipeline should not be called for an invalid date")
	}
}

func TestTriggerBriefing_UserNotFound(t *testing.T) {
	h := newTestRouter(t, &fakePipeline{briefingErr: model.NewUserNotFoundError("ghost")}, nil)

	rec := doRequest(h, http.MethodPost, "/api/users/ghost/briefings", true)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != model.ErrCodeUserNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUserNotFound)
	}
}

func TestGetBriefing(t *testing.T) {
	generated := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	p := &fakePipeline{briefings: map[string]*model.Briefing{
		"b1": {
			ID:                   "b1",
			UserID:               "u1",
			Date:                 time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			Status:               model.BriefingStatusReady,
			TextSummary:          "summary",
			AudioURL:             "/storage/b1.mp3",
			AudioDurationSeconds: 42,
			ContentItemsCount:    3,
			GeneratedAt:          &generated,
		},
	}, links: map[string][]model.BriefingContentLink{
		"b1": {
			{BriefingID: "b1", ContentID: "c2", Order: 1, IncludedReason: "Relevance: 0.90"},
			{BriefingID: "b1", ContentID: "c1", Order: 2, IncludedReason: "Relevance: 0.60"},
		},
	}}
	h := newTestRouter(t, p, nil)

	rec := doRequest(h, http.MethodGet, "/api/briefings/b1", true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body briefingResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != "b1" || body.Date != "2025-03-10" || body.Status != "ready" {
		t.Errorf("body = %+v", body)
	}
	if body.AudioURL != "/storage/b1.mp3" || body.AudioDurationSeconds != 42 || body.ContentItemsCount != 3 {
		t.Errorf("audio fields = %+v", body)
	}
	if body.GeneratedAt == nil || !body.GeneratedAt.Equal(generated) {
		t.Errorf("generated_at = %v, want %v", body.GeneratedAt, generated)
	}
	if len(body.Items) != 2 || body.Items[0].ContentID != "c2" || body.Items[1].Order != 2 {
		t.Errorf("items = %+v, want c2 then c1", body.Items)
	}
	if body.Items[0].IncludedReason != "Relevance: 0.90" {
		t.Errorf("included_reason = %q", body.Items[0].IncludedReason)
	}
}

func TestGetBriefing_NotFound(t *testing.T) {
	h := newTestRouter(t, &fakePipeline{}, nil)

	rec := doRequest(h, http.MethodGet, "/api/briefings/missing", true)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != model.ErrCodeBriefingNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeBriefingNotFound)
	}
}

func TestMarkDelivered(t *testing.T) {
	p := &fakePipeline{briefings: map[string]*model.Briefing{
		"b1": {ID: "b1", UserID: "u1", Status: model.BriefingStatusReady},
	}}
	h := newTestRouter(t, p, nil)

	rec := doRequest(h, http.MethodPost, "/api/briefings/b1/delivered", true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(p.delivered) != 1 || p.delivered[0] != "b1" {
		t.Errorf("delivered = %v, want [b1]", p.delivered)
	}
	var body briefingResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "delivered" {
		t.Errorf("status = %q, want delivered", body.Status)
	}
}

func TestMarkDelivered_NotReady(t *testing.T) {
	p := &fakePipeline{deliverErr: model.NewBriefingNotReadyError(model.BriefingStatusGenerating)}
	h := newTestRouter(t, p, nil)

	rec := doRequest(h, http.MethodPost, "/api/briefings/b1/delivered", true)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != model.ErrCodeBriefingNotReady {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeBriefingNotReady)
	}
}

func TestTriggerRateLimit(t *testing.T) {
	logger := newTestLogger(&bytes.Buffer{})
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		TriggerRate:     0.001,
		TriggerBurst:    1,
		CleanupInterval: time.Minute,
	}, logger)
	defer rl.Stop()

	p := &fakePipeline{briefings: map[string]*model.Briefing{"b1": {ID: "b1"}}}
	h := NewRouter(&RouterDeps{
		APIToken:    testToken,
		RateLimiter: rl,
		Logger:      logger,
		Pipeline:    p,
	})

	if rec := doRequest(h, http.MethodPost, "/api/classifications/run", true); rec.Code != http.StatusAccepted {
		t.Fatalf("first trigger status = %d, want 202", rec.Code)
	}
	if rec := doRequest(h, http.MethodPost, "/api/classifications/run", true); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second trigger status = %d, want 429", rec.Code)
	}
	// 参照系はトリガーの制限を受けない
	if rec := doRequest(h, http.MethodGet, "/api/briefings/b1", true); rec.Code != http.StatusOK {
		t.Errorf("read status = %d, want 200", rec.Code)
	}
	if p.classifyCalls != 1 {
		t.Errorf("classifyCalls = %d, want 1", p.classifyCalls)
	}
}

func TestMetricsRoute(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	h := newTestRouter(t, &fakePipeline{}, func(d *RouterDeps) {
		d.MetricsHandler = metricsHandler
	})

	rec := doRequest(h, http.MethodGet, "/metrics", false)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "# metrics") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestStorageRoute(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b1.mp3"), []byte("ID3audio"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	t.Run("serves stored audio", func(t *testing.T) {
		h := newTestRouter(t, &fakePipeline{}, func(d *RouterDeps) { d.StorageDir = dir })

		rec := doRequest(h, http.MethodGet, "/storage/b1.mp3", false)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Body.String() != "ID3audio" {
			t.Errorf("body = %q, want ID3audio", rec.Body.String())
		}
	})

	t.Run("not mounted without a directory", func(t *testing.T) {
		h := newTestRouter(t, &fakePipeline{}, nil)

		rec := doRequest(h, http.MethodGet, "/storage/b1.mp3", false)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
