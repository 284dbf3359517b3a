package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/dailydigest/internal/llm"
	"github.com/hitoshi/dailydigest/internal/metrics"
	"github.com/hitoshi/dailydigest/internal/model"
)

// errNoCompleter は言語モデルが設定されていないことを示す。
var errNoCompleter = errors.New("言語モデルが設定されていません")

const (
	aiTextRunes    = 500
	aiTemperature  = 0.3
	aiMaxTokens    = 200
	aiSystemPrompt = "Ты помощник для классификации контента. Отвечай только валидным JSON."
)

// AIClassifier は外部の言語モデルで分類し、失敗時はルールベース分類にフォールバックする分類器。
type AIClassifier struct {
	completer llm.Completer
	fallback  *RuleBased
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

var _ Classifier = (*AIClassifier)(nil)

// NewAIClassifier はAIClassifierを生成する。
func NewAIClassifier(completer llm.Completer, fallback *RuleBased, collector metrics.MetricsCollector, logger *slog.Logger) *AIClassifier {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AIClassifier{
		completer: completer,
		fallback:  fallback,
		metrics:   collector,
		logger:    logger,
	}
}

// Classify はコンテンツを分類する。
// 言語モデルの呼び出しや応答の検証に失敗した場合は、そのコンテンツのみルールベースで分類する。
func (a *AIClassifier) Classify(ctx context.Context, item model.ContentItem, prefs *model.Preferences) (*model.Classification, error) {
	c, err := a.classifyWithModel(ctx, item)
	if err == nil {
		a.metrics.RecordClassification("ai")
		return c, nil
	}

	a.logger.Warn("AI分類に失敗したためルールベース分類を使用します",
		slog.String("content_id", item.ID),
		slog.String("error", err.Error()),
	)
	a.metrics.RecordClassification("rule_fallback")
	return a.fallback.classify(item, prefs), nil
}

type aiResult struct {
	Category        string   `json:"category"`
	RelevanceScore  *float64 `json:"relevance_score"`
	ImportanceScore *float64 `json:"importance_score"`
	SocialScore     *float64 `json:"social_score"`
	PersonalScore   *float64 `json:"personal_score"`
	Topics          []string `json:"topics"`
}

func (a *AIClassifier) classifyWithModel(ctx context.Context, item model.ContentItem) (*model.Classification, error) {
	if a.completer == nil {
		return nil, errNoCompleter
	}
	reply, err := a.completer.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			llm.SystemMessage(aiSystemPrompt),
			llm.UserMessage(buildClassificationPrompt(item)),
		},
		Temperature: aiTemperature,
		MaxTokens:   aiMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return parseAIResult(reply, item.ID, "ai:"+a.completer.Model())
}

// parseAIResult は言語モデルの応答を分類結果に変換する。
// 欠けたスコアは既定値で補い、範囲外のスコアは[0, 1]に丸める。
func parseAIResult(reply, contentID, version string) (*model.Classification, error) {
	var r aiResult
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &r); err != nil {
		return nil, fmt.Errorf("分類応答の解析に失敗しました: %w", err)
	}

	name := strings.ToLower(strings.TrimSpace(r.Category))
	if name == "" {
		name = string(model.CategoryOther)
	}
	cat, ok := model.ParseCategory(name)
	if !ok {
		return nil, fmt.Errorf("不正なカテゴリです: %q", r.Category)
	}

	topics := r.Topics
	if topics == nil {
		topics = []string{}
	}
	if len(topics) > topicCount {
		topics = topics[:topicCount]
	}

	c := &model.Classification{
		ContentID:       contentID,
		Category:        cat,
		RelevanceScore:  scoreOr(r.RelevanceScore, 0.5),
		ImportanceScore: scoreOr(r.ImportanceScore, 0.5),
		SocialScore:     scoreOr(r.SocialScore, 0.3),
		PersonalScore:   scoreOr(r.PersonalScore, 0.3),
		Topics:          topics,
		ModelVersion:    version,
	}
	c.Clamp()
	return c, nil
}

func scoreOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// stripCodeFence は ```json ... ``` で囲まれた応答から本文を取り出す。
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func buildClassificationPrompt(item model.ContentItem) string {
	text := []rune(item.Text)
	if len(text) > aiTextRunes {
		text = text[:aiTextRunes]
	}

	var b strings.Builder
	b.WriteString("Проанализируй следующий контент и определи его категорию, релевантность и важность.\n\n")
	fmt.Fprintf(&b, "Заголовок: %s\n", item.Title)
	fmt.Fprintf(&b, "Текст: %s\n\n", string(text))
	b.WriteString("Определи:\n")
	b.WriteString("1. Категорию: personal, work, hobby, news, important, other\n")
	b.WriteString("2. Релевантность (0.0-1.0): насколько контент релевантен пользователю\n")
	b.WriteString("3. Важность (0.0-1.0): насколько важен этот контент\n")
	b.WriteString("4. Социальная значимость (0.0-1.0): популярность, вирусность\n")
	b.WriteString("5. Личная значимость (0.0-1.0): упоминания друзей, личные связи\n\n")
	b.WriteString("Ответь в формате JSON:\n")
	b.WriteString(`{"category": "work", "relevance_score": 0.8, "importance_score": 0.6, "social_score": 0.4, "personal_score": 0.3, "topics": ["тема1", "тема2"]}`)
	return b.String()
}
