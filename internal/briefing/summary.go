package briefing

import (
	"fmt"
	"strings"

	"github.com/hitoshi/dailydigest/internal/model"
)

const (
	fallbackGreeting = "Доброе утро! Вот ваш дайджест на сегодня:"
	fallbackMaxItems = 10
	fallbackRunes    = 100
)

// FallbackSummary は要約生成が使えない場合の本文を組み立てる。
// 先頭10件の本文（無ければタイトル）を100文字ずつ番号付きで列挙する。
func FallbackSummary(items []model.ContentItem) string {
	parts := []string{fallbackGreeting + "\n"}
	for i, item := range items {
		if i == fallbackMaxItems {
			break
		}
		text := item.Text
		if text == "" {
			text = item.Title
		}
		r := []rune(text)
		if len(r) > fallbackRunes {
			r = r[:fallbackRunes]
		}
		parts = append(parts, fmt.Sprintf("%d. %s...", i+1, string(r)))
	}
	return strings.Join(parts, "\n")
}

// inclusionReason はコンテンツをブリーフィングに含めた理由を返す。
func inclusionReason(c *model.Classification) string {
	return fmt.Sprintf("Relevance: %.2f", c.RelevanceScore)
}
