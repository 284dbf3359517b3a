package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/dailydigest/internal/model"
)

const (
	summaryMaxItems     = 20
	summaryItemRunes    = 200
	summaryTemperature  = 0.7
	summaryMaxTokens    = 800
	summarySystemPrompt = "Ты создаешь утренние дайджесты. Будь кратким и информативным."
)

var languageNames = map[string]string{
	"ru": "русский",
	"en": "английский",
	"de": "немецкий",
	"fr": "французский",
	"es": "испанский",
}

// SummaryOptions は要約生成のオプション。
type SummaryOptions struct {
	// Language は出力言語のコード（ru, enなど）。
	Language string
	// TargetSeconds は読み上げ時間の目安（秒）。
	TargetSeconds int
}

// Summarizer は選択済みコンテンツからブリーフィング本文を生成する。
type Summarizer struct {
	completer Completer
}

// NewSummarizer はSummarizerを生成する。
func NewSummarizer(completer Completer) *Summarizer {
	return &Summarizer{completer: completer}
}

// Summarize はitemsを要約したブリーフィング本文を返す。
// 本文を持つコンテンツが無い場合や補完に失敗した場合はエラーを返す。
func (s *Summarizer) Summarize(ctx context.Context, items []model.ContentItem, opts SummaryOptions) (string, error) {
	lines := summaryLines(items)
	if len(lines) == 0 {
		return "", fmt.Errorf("要約対象のテキストがありません")
	}

	text, err := s.completer.Complete(ctx, CompletionRequest{
		Messages: []Message{
			SystemMessage(summarySystemPrompt),
			UserMessage(buildSummaryPrompt(lines, opts)),
		},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("要約の生成に失敗しました: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func summaryLines(items []model.ContentItem) []string {
	lines := make([]string, 0, summaryMaxItems)
	for _, item := range items {
		text := item.Text
		if text == "" {
			text = item.Title
		}
		if text == "" {
			continue
		}
		lines = append(lines, "- "+truncateRunes(text, summaryItemRunes))
		if len(lines) == summaryMaxItems {
			break
		}
	}
	return lines
}

func buildSummaryPrompt(lines []string, opts SummaryOptions) string {
	lang, ok := languageNames[opts.Language]
	if !ok {
		lang = languageNames["ru"]
		if opts.Language != "" {
			lang = opts.Language
		}
	}

	var b strings.Builder
	b.WriteString("Создай краткий утренний дайджест на основе следующего контента.\n")
	fmt.Fprintf(&b, "Дайджест должен быть рассчитан на %d секунд чтения (примерно 300-400 слов).\n", opts.TargetSeconds)
	b.WriteString("Будь кратким, информативным и структурированным.\n\n")
	b.WriteString("Контент:\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nСтруктура дайджеста:\n")
	b.WriteString("1. Краткое введение (1-2 предложения)\n")
	b.WriteString("2. Основные новости и события (по категориям)\n")
	b.WriteString("3. Личные обновления (если есть)\n")
	b.WriteString("4. Заключение\n\n")
	fmt.Fprintf(&b, "Язык: %s\n", lang)
	b.WriteString("Стиль: дружелюбный, профессиональный")
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
