package briefing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dailydigest/internal/llm"
	"github.com/hitoshi/dailydigest/internal/metrics"
	"github.com/hitoshi/dailydigest/internal/model"
	"github.com/hitoshi/dailydigest/internal/repository"
	"github.com/hitoshi/dailydigest/internal/storage"
	"github.com/hitoshi/dailydigest/internal/tts"
)

// errNoContent は選択されたコンテンツが無いことを示す。
var errNoContent = errors.New(model.NoContentMessage)

// Summarizer は選択済みコンテンツからブリーフィング本文を生成するインターフェース。
type Summarizer interface {
	Summarize(ctx context.Context, items []model.ContentItem, opts llm.SummaryOptions) (string, error)
}

// GeneratorConfig はGeneratorの設定。
type GeneratorConfig struct {
	// TargetSeconds はブリーフィングの読み上げ時間の目安（秒）。
	TargetSeconds int
	// DefaultLanguage はユーザー設定が無い場合の本文の言語。
	DefaultLanguage string
	// StaleAfter を超えて更新されていないgenerating状態は再生成の対象とする。
	StaleAfter time.Duration
}

// GenerateOptions はブリーフィング生成要求のオプション。
type GenerateOptions struct {
	// Force がtrueの場合はready状態のブリーフィングも再生成する。
	Force bool
}

// Generator はブリーフィングの生成と配信済みの記録を行う。
type Generator struct {
	userRepo     repository.UserRepository
	prefsRepo    repository.PreferencesRepository
	briefingRepo repository.BriefingRepository
	selector     *Selector
	summarizer   Summarizer
	renderer     tts.Renderer
	store        storage.BlobStore
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	cfg          GeneratorConfig
	now          func() time.Time
}

// NewGenerator はGeneratorの新しいインスタンスを生成する。
// summarizerがnilの場合は常に定型の本文を使い、rendererがnilの場合は音声を生成しない。
func NewGenerator(
	userRepo repository.UserRepository,
	prefsRepo repository.PreferencesRepository,
	briefingRepo repository.BriefingRepository,
	selector *Selector,
	summarizer Summarizer,
	renderer tts.Renderer,
	store storage.BlobStore,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg GeneratorConfig,
) *Generator {
	if cfg.TargetSeconds <= 0 {
		cfg.TargetSeconds = 120
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "ru"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Generator{
		userRepo:     userRepo,
		prefsRepo:    prefsRepo,
		briefingRepo: briefingRepo,
		selector:     selector,
		summarizer:   summarizer,
		renderer:     renderer,
		store:        store,
		metrics:      collector,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Generate はユーザーの指定日のブリーフィングを生成する。
// 生成を開始できない状態（配信済み、生成中、生成済み）の場合は既存のブリーフィングをそのまま返す。
// 生成開始後に失敗した場合はfailedを記録したブリーフィングと原因のエラーを返す。
// 候補コンテンツが無い場合はfailedを記録し、エラーは返さない。
func (g *Generator) Generate(ctx context.Context, userID string, date time.Time, opts GenerateOptions) (*model.Briefing, error) {
	user, err := g.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, model.NewUserNotFoundError(userID)
	}

	start := g.now().UTC()
	b, started, err := g.briefingRepo.BeginGeneration(ctx, userID, model.DateOf(date), repository.BeginOptions{
		Now:        start,
		StaleAfter: g.cfg.StaleAfter,
		Force:      opts.Force,
	})
	if err != nil {
		return nil, err
	}
	if !started {
		g.logger.Info("既存のブリーフィングを返します",
			slog.String("briefing_id", b.ID),
			slog.String("user_id", userID),
			slog.String("status", string(b.Status)),
		)
		return b, nil
	}

	err = g.produce(ctx, user, b, start)
	g.metrics.RecordBriefingLatency(g.now().Sub(start))
	if err == nil {
		g.metrics.RecordBriefing(string(model.BriefingStatusReady))
		g.logger.Info("ブリーフィングを生成しました",
			slog.String("briefing_id", b.ID),
			slog.String("user_id", userID),
			slog.Int("content_items", b.ContentItemsCount),
		)
		return b, nil
	}

	g.fail(ctx, b, err)
	if errors.Is(err, errNoContent) {
		return b, nil
	}
	return b, err
}

// produce は選択・要約・音声合成・保存を行い、ブリーフィングをreadyにする。
func (g *Generator) produce(ctx context.Context, user *model.User, b *model.Briefing, start time.Time) error {
	prefs, err := g.prefsRepo.FindByUserID(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("ユーザー設定の取得に失敗しました: %w", err)
	}

	selected, err := g.selector.Select(ctx, user.ID, prefs, start)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return errNoContent
	}

	items := make([]model.ContentItem, len(selected))
	for i, c := range selected {
		items[i] = c.Item
	}

	summary := g.summarize(ctx, b, items, prefs)
	speech := tts.SpeechText(summary)

	b.TextSummary = summary
	b.AudioDurationSeconds = tts.EstimateDuration(speech)
	if g.renderer != nil {
		audio, err := g.renderer.Render(ctx, speech, tts.Options{Voice: prefs.VoiceOr("")})
		if err != nil {
			return fmt.Errorf("音声の生成に失敗しました: %w", err)
		}
		url, err := g.store.Put(ctx, storage.AudioObjectName(b.ID), audio)
		if err != nil {
			return err
		}
		b.AudioURL = url
	}

	generatedAt := g.now().UTC()
	b.Status = model.BriefingStatusReady
	b.ContentItemsCount = len(selected)
	b.GeneratedAt = &generatedAt
	b.ErrorMessage = ""
	b.UpdatedAt = generatedAt

	links := make([]model.BriefingContentLink, len(selected))
	for i, c := range selected {
		links[i] = model.BriefingContentLink{
			ID:             uuid.New().String(),
			BriefingID:     b.ID,
			ContentID:      c.Item.ID,
			Order:          i + 1,
			IncludedReason: inclusionReason(c.Classification),
		}
	}

	if err := g.briefingRepo.CompleteReady(ctx, b, links); err != nil {
		return fmt.Errorf("ブリーフィングの保存に失敗しました: %w", err)
	}
	return nil
}

// summarize は本文を生成する。要約に失敗した場合は定型の本文を使う。
func (g *Generator) summarize(ctx context.Context, b *model.Briefing, items []model.ContentItem, prefs *model.Preferences) string {
	if g.summarizer == nil {
		return FallbackSummary(items)
	}
	summary, err := g.summarizer.Summarize(ctx, items, llm.SummaryOptions{
		Language:      prefs.LanguageOr(g.cfg.DefaultLanguage),
		TargetSeconds: g.cfg.TargetSeconds,
	})
	if err != nil || summary == "" {
		attrs := []any{slog.String("briefing_id", b.ID)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		g.logger.Warn("要約の生成に失敗したため定型の本文を使用します", attrs...)
		return FallbackSummary(items)
	}
	return summary
}

// fail はブリーフィングをfailedとして記録する。
// 呼び出し元のコンテキストがキャンセルされていても記録できるよう、キャンセルを引き継がない。
func (g *Generator) fail(ctx context.Context, b *model.Briefing, cause error) {
	message := cause.Error()
	if message == "" {
		message = "unknown error"
	}
	at := g.now().UTC()

	if err := g.briefingRepo.MarkFailed(context.WithoutCancel(ctx), b.ID, message, at); err != nil {
		g.logger.Error("ブリーフィングの失敗記録に失敗しました",
			slog.String("briefing_id", b.ID),
			slog.String("error", err.Error()),
		)
	}

	b.Status = model.BriefingStatusFailed
	b.ErrorMessage = message
	b.UpdatedAt = at
	g.metrics.RecordBriefing(string(model.BriefingStatusFailed))

	level := slog.LevelError
	if errors.Is(cause, errNoContent) {
		level = slog.LevelWarn
	}
	g.logger.Log(ctx, level, "ブリーフィングの生成に失敗しました",
		slog.String("briefing_id", b.ID),
		slog.String("user_id", b.UserID),
		slog.String("error", message),
	)
}

// Get は指定IDのブリーフィングを返す。
func (g *Generator) Get(ctx context.Context, briefingID string) (*model.Briefing, error) {
	b, err := g.briefingRepo.FindByID(ctx, briefingID)
	if err != nil {
		return nil, fmt.Errorf("ブリーフィングの取得に失敗しました: %w", err)
	}
	if b == nil {
		return nil, model.NewBriefingNotFoundError(briefingID)
	}
	return b, nil
}

// Links は指定IDのブリーフィングに含まれるコンテンツを順序通りに返す。
func (g *Generator) Links(ctx context.Context, briefingID string) ([]model.BriefingContentLink, error) {
	if _, err := g.Get(ctx, briefingID); err != nil {
		return nil, err
	}
	links, err := g.briefingRepo.ListLinks(ctx, briefingID)
	if err != nil {
		return nil, fmt.Errorf("ブリーフィングのコンテンツ取得に失敗しました: %w", err)
	}
	return links, nil
}

// MarkDelivered はready状態のブリーフィングを配信済みにする。
// 既に配信済みの場合は何もせずそのまま返す。ready以外の状態ではBRIEFING_NOT_READYを返す。
func (g *Generator) MarkDelivered(ctx context.Context, briefingID string) (*model.Briefing, error) {
	b, err := g.Get(ctx, briefingID)
	if err != nil {
		return nil, err
	}

	switch b.Status {
	case model.BriefingStatusDelivered:
		return b, nil
	case model.BriefingStatusReady:
	default:
		return nil, model.NewBriefingNotReadyError(b.Status)
	}

	at := g.now().UTC()
	ok, err := g.briefingRepo.MarkDelivered(ctx, briefingID, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 並行する更新で状態が変わったため再取得する
		current, err := g.Get(ctx, briefingID)
		if err != nil {
			return nil, err
		}
		if current.Status == model.BriefingStatusDelivered {
			return current, nil
		}
		return nil, model.NewBriefingNotReadyError(current.Status)
	}

	b.Status = model.BriefingStatusDelivered
	b.DeliveredAt = &at
	b.UpdatedAt = at
	g.metrics.RecordBriefing(string(model.BriefingStatusDelivered))
	g.logger.Info("ブリーフィングを配信済みにしました",
		slog.String("briefing_id", b.ID),
		slog.String("user_id", b.UserID),
	)
	return b, nil
}
