package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/dailydigest/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// --- APIトークン認証 ---

func TestAPITokenMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "正しいトークン", header: "Bearer secret-token", want: http.StatusOK},
		{name: "スキームは大文字小文字を区別しない", header: "bearer secret-token", want: http.StatusOK},
		{name: "ヘッダーなし", header: "", want: http.StatusUnauthorized},
		{name: "トークン不一致", header: "Bearer wrong", want: http.StatusUnauthorized},
		{name: "Basic認証", header: "Basic c2VjcmV0LXRva2Vu", want: http.StatusUnauthorized},
		{name: "トークン空", header: "Bearer ", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAPITokenMiddleware("secret-token")(okHandler())

			req := httptest.NewRequest(http.MethodPost, "/api/classifications/run", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				if body := decodeError(t, w); body.Code != model.ErrCodeUnauthorized {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
				}
				if w.Header().Get("WWW-Authenticate") == "" {
					t.Error("WWW-Authenticate header should be set")
				}
			}
		})
	}
}

func TestAPITokenMiddleware_EmptyConfiguredTokenRejectsAll(t *testing.T) {
	handler := NewAPITokenMiddleware("")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/briefings/b1", nil)
	req.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAPITokenMiddleware_InjectsClientID(t *testing.T) {
	var got string
	handler := NewAPITokenMiddleware("t")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClientIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/briefings/b1", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Authorization", "Bearer t")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "203.0.113.7" {
		t.Errorf("client id = %q, want 203.0.113.7", got)
	}
}

// --- ロギング ---

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newTestLogger(&buf))(NewAPITokenMiddleware("t")(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/api/briefings/b1", nil)
	req.RemoteAddr = "198.51.100.1:4000"
	req.Header.Set("Authorization", "Bearer t")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "http_request" || entry["method"] != "GET" || entry["path"] != "/api/briefings/b1" {
		t.Errorf("entry = %v", entry)
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected 'duration_ms' field in log entry")
	}
	if entry["client_id"] != "198.51.100.1" {
		t.Errorf("client_id = %v, want 198.51.100.1", entry["client_id"])
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{status: http.StatusOK, level: "INFO"},
		{status: http.StatusNotFound, level: "WARN"},
		{status: http.StatusServiceUnavailable, level: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse JSON log: %v", err)
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if _, ok := entry["client_id"]; ok {
				t.Error("client_id should be omitted for unauthenticated requests")
			}
		})
	}
}

// --- リカバリ ---

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRecoveryMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/briefings/b1", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if body := decodeError(t, w); body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if !strings.Contains(buf.String(), "unexpected") {
		t.Errorf("panic should be logged: %s", buf.String())
	}
}

// --- エラーレスポンス ---

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusConflict, model.NewBriefingNotReadyError(model.BriefingStatusGenerating))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	body := decodeError(t, w)
	if body.Code != model.ErrCodeBriefingNotReady || body.Category != "briefing" || body.Message == "" || body.Action == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{name: "ソース未検出", err: model.NewSourceNotFoundError("s1"), want: http.StatusNotFound, code: model.ErrCodeSourceNotFound},
		{name: "ラップされたユーザー未検出", err: fmt.Errorf("wrap: %w", model.NewUserNotFoundError("u1")), want: http.StatusNotFound, code: model.ErrCodeUserNotFound},
		{name: "配信不可", err: model.NewBriefingNotReadyError(model.BriefingStatusFailed), want: http.StatusConflict, code: model.ErrCodeBriefingNotReady},
		{name: "日付不正", err: model.NewInvalidDateError("x"), want: http.StatusBadRequest, code: model.ErrCodeInvalidDate},
		{name: "キュー満杯", err: model.NewQueueFullError(), want: http.StatusServiceUnavailable, code: model.ErrCodeQueueFull},
		{name: "その他のエラー", err: errors.New("db down"), want: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := httptest.NewRecorder()
			WriteError(w, newTestLogger(&buf), tt.err)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if body := decodeError(t, w); body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}

// --- セキュリティヘッダー ---

func TestSecurityHeadersMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	NewSecurityHeadersMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("Content-Security-Policy should be set")
	}
}

// --- レート制限 ---

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	rl := NewRateLimiter(cfg, newTestLogger(&buf))
	t.Cleanup(rl.Stop)
	return rl, &buf
}

func serveFrom(handler http.Handler, clientID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/sources/s1/sync", nil)
	if clientID != "" {
		req = req.WithContext(ContextWithClientID(req.Context(), clientID))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_GeneralAllowsBurstThenRejects(t *testing.T) {
	rl, logs := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 2, TriggerRate: 1, TriggerBurst: 1})
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		if w := serveFrom(handler, "client-a"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := serveFrom(handler, "client-a")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra != "1" {
		t.Errorf("Retry-After = %q, want 1", ra)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
	if !strings.Contains(logs.String(), "レート制限を超過しました") {
		t.Error("rate limit should be logged")
	}

	if w := serveFrom(handler, "client-b"); w.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", w.Code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_TriggerIsIndependent(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 10, GeneralBurst: 10, TriggerRate: 0.5, TriggerBurst: 1})
	handler := rl.GeneralMiddleware()(rl.TriggerMiddleware()(okHandler()))

	if w := serveFrom(handler, "c"); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	w := serveFrom(handler, "c")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra != "2" {
		t.Errorf("Retry-After = %q, want 2", ra)
	}
	if rl.TriggerLimiterCount() != 1 {
		t.Errorf("TriggerLimiterCount() = %d, want 1", rl.TriggerLimiterCount())
	}
}

func TestRateLimiter_FallsBackToRemoteAddr(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1})
	handler := rl.GeneralMiddleware()(okHandler())

	if w := serveFrom(handler, ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w := serveFrom(handler, ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 for same remote address", w.Code)
	}
}

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, TriggerRate: 1, TriggerBurst: 1, CleanupInterval: time.Minute})
	serveFrom(rl.GeneralMiddleware()(okHandler()), "idle")
	serveFrom(rl.TriggerMiddleware()(okHandler()), "idle")

	rl.cleanup(time.Now().Add(time.Minute))
	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("recent entry should remain, count = %d", rl.GeneralLimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.TriggerLimiterCount() != 0 {
		t.Errorf("idle entries should be evicted: general=%d trigger=%d", rl.GeneralLimiterCount(), rl.TriggerLimiterCount())
	}
}
