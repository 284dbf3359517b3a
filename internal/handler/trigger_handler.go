package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dailydigest/internal/middleware"
	"github.com/hitoshi/dailydigest/internal/model"
)

// PipelineService はトリガーハンドラーが必要とするパイプラインのインターフェース。
type PipelineService interface {
	// TriggerSync はソースの同期タスクを投入する。
	TriggerSync(ctx context.Context, sourceID string) error
	// TriggerClassificationBatch は未分類コンテンツの一括分類タスクを投入する。
	TriggerClassificationBatch() error
	// TriggerBriefing はブリーフィング生成タスクを投入する。
	TriggerBriefing(ctx context.Context, userID string, date time.Time, force bool) error
	// GetBriefing はブリーフィングを取得する。
	GetBriefing(ctx context.Context, briefingID string) (*model.Briefing, error)
	// GetBriefingLinks はブリーフィングに含まれるコンテンツを順序通りに取得する。
	GetBriefingLinks(ctx context.Context, briefingID string) ([]model.BriefingContentLink, error)
	// MarkDelivered はブリーフィングを配信済みにする。
	MarkDelivered(ctx context.Context, briefingID string) (*model.Briefing, error)
}

// TriggerHandler は同期・分類・生成のトリガーとブリーフィング参照のHTTPハンドラー。
type TriggerHandler struct {
	pipeline PipelineService
	logger   *slog.Logger
	now      func() time.Time
}

// NewTriggerHandler はTriggerHandlerを生成する。
func NewTriggerHandler(pipeline PipelineService, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{
		pipeline: pipeline,
		logger:   logger,
		now:      time.Now,
	}
}

// acceptedResponse はタスク投入を受け付けたことを示すレスポンス。
type acceptedResponse struct {
	Status string `json:"status"`
	Task   string `json:"task"`
	Target string `json:"target,omitempty"`
	Date   string `json:"date,omitempty"`
}

// briefingResponse はブリーフィングのAPIレスポンス。
type briefingResponse struct {
	ID                   string                 `json:"id"`
	UserID               string                 `json:"user_id"`
	Date                 string                 `json:"date"`
	Status               string                 `json:"status"`
	TextSummary          string                 `json:"text_summary,omitempty"`
	AudioURL             string                 `json:"audio_url,omitempty"`
	AudioDurationSeconds int                    `json:"audio_duration_seconds"`
	ContentItemsCount    int                    `json:"content_items_count"`
	ErrorMessage         string                 `json:"error_message,omitempty"`
	GeneratedAt          *time.Time             `json:"generated_at,omitempty"`
	DeliveredAt          *time.Time             `json:"delivered_at,omitempty"`
	Items                []briefingItemResponse `json:"items,omitempty"`
}

// briefingItemResponse はブリーフィングに含まれるコンテンツ1件。
type briefingItemResponse struct {
	ContentID      string `json:"content_id"`
	Order          int    `json:"order"`
	IncludedReason string `json:"included_reason"`
}

func toBriefingResponse(b *model.Briefing) briefingResponse {
	return briefingResponse{
		ID:                   b.ID,
		UserID:               b.UserID,
		Date:                 b.Date.Format(model.DateLayout),
		Status:               string(b.Status),
		TextSummary:          b.TextSummary,
		AudioURL:             b.AudioURL,
		AudioDurationSeconds: b.AudioDurationSeconds,
		ContentItemsCount:    b.ContentItemsCount,
		ErrorMessage:         b.ErrorMessage,
		GeneratedAt:          b.GeneratedAt,
		DeliveredAt:          b.DeliveredAt,
	}
}

// TriggerSync はソースの同期を要求する。
// POST /api/sources/{sourceID}/sync
func (h *TriggerHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	if err := h.pipeline.TriggerSync(r.Context(), sourceID); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Task: "sync", Target: sourceID})
}

// TriggerClassification は未分類コンテンツの一括分類を要求する。
// POST /api/classifications/run
func (h *TriggerHandler) TriggerClassification(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.TriggerClassificationBatch(); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Task: "classify"})
}

// TriggerBriefing はユーザーのブリーフィング生成を要求する。
// dateを省略した場合はUTCの当日、force=trueの場合は生成済みのブリーフィングも再生成する。
// POST /api/users/{userID}/briefings?date=YYYY-MM-DD&force=true
func (h *TriggerHandler) TriggerBriefing(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	date := model.DateOf(h.now().UTC())
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(model.DateLayout, raw)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(raw))
			return
		}
		date = parsed
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := h.pipeline.TriggerBriefing(r.Context(), userID, date, force); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		Status: "accepted",
		Task:   "briefing",
		Target: userID,
		Date:   date.Format(model.DateLayout),
	})
}

// GetBriefing はブリーフィングを含まれるコンテンツの一覧と共に取得する。
// GET /api/briefings/{briefingID}
func (h *TriggerHandler) GetBriefing(w http.ResponseWriter, r *http.Request) {
	briefingID := chi.URLParam(r, "briefingID")

	b, err := h.pipeline.GetBriefing(r.Context(), briefingID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	links, err := h.pipeline.GetBriefingLinks(r.Context(), briefingID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	resp := toBriefingResponse(b)
	for _, l := range links {
		resp.Items = append(resp.Items, briefingItemResponse{
			ContentID:      l.ContentID,
			Order:          l.Order,
			IncludedReason: l.IncludedReason,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkDelivered はブリーフィングを配信済みにする。
// POST /api/briefings/{briefingID}/delivered
func (h *TriggerHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	b, err := h.pipeline.MarkDelivered(r.Context(), chi.URLParam(r, "briefingID"))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toBriefingResponse(b))
}
