// Package classify はコンテンツのカテゴリ・スコア・トピックを判定する分類器と、
// 未分類コンテンツを一括で分類するバッチ処理を提供する。
package classify

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"unicode"

	"github.com/hitoshi/dailydigest/internal/model"
)

const (
	// RuleBasedVersion はルールベース分類のモデルバージョン。
	RuleBasedVersion = "rule-based-v1"

	otherBaseline        = 0.1
	personalBaseline     = 0.3
	engagementNormalizer = 1000.0
	topicMinRunes        = 4
	topicCount           = 5
)

// Classifier はコンテンツ1件を分類するインターフェース。
type Classifier interface {
	Classify(ctx context.Context, item model.ContentItem, prefs *model.Preferences) (*model.Classification, error)
}

// RuleBased はキーワード集合への一致率でスコアを計算する分類器。
type RuleBased struct {
	sets        KeywordSets
	defaultLang string
}

var _ Classifier = (*RuleBased)(nil)

// NewRuleBased はRuleBasedを生成する。setsがnilの場合は組み込みのキーワード集合を使う。
func NewRuleBased(sets KeywordSets, defaultLang string) *RuleBased {
	if sets == nil {
		sets = DefaultKeywordSets()
	}
	if defaultLang == "" {
		defaultLang = "ru"
	}
	return &RuleBased{sets: sets, defaultLang: defaultLang}
}

// Classify はコンテンツを分類する。ルールベース分類は失敗しない。
func (r *RuleBased) Classify(_ context.Context, item model.ContentItem, prefs *model.Preferences) (*model.Classification, error) {
	return r.classify(item, prefs), nil
}

func (r *RuleBased) classify(item model.ContentItem, prefs *model.Preferences) *model.Classification {
	text := strings.ToLower(item.Title + " " + item.Text)
	keywords := r.keywordsFor(prefs.LanguageOr(r.defaultLang))

	scores := make(map[model.Category]float64, len(scoredCategories))
	category := model.CategoryOther
	best := otherBaseline
	for _, cat := range scoredCategories {
		s := keywordScore(text, keywords[cat])
		scores[cat] = s
		if s > best {
			best = s
			category = cat
		}
	}

	relevance := max(
		scores[model.CategoryWork],
		scores[model.CategoryPersonal],
		scores[model.CategoryHobby],
		scores[model.CategoryNews],
	)
	importance := 0.5*scores[model.CategoryImportant] + 0.5*relevance

	c := &model.Classification{
		ContentID:       item.ID,
		Category:        category,
		RelevanceScore:  relevance,
		ImportanceScore: importance,
		SocialScore:     socialScore(item.Metadata),
		PersonalScore:   personalBaseline,
		Topics:          extractTopics(text),
		ModelVersion:    RuleBasedVersion,
	}
	c.Clamp()
	return c
}

func (r *RuleBased) keywordsFor(lang string) CategoryKeywords {
	if k, ok := r.sets[lang]; ok {
		return k
	}
	return r.sets[r.defaultLang]
}

// keywordScore は min(一致したキーワード数 / キーワード数 × 2, 1) を返す。
func keywordScore(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matches++
		}
	}
	return min(float64(matches)/float64(len(keywords))*2.0, 1.0)
}

// socialScore はエンゲージメント (likes + 2×shares + replies) / 1000 を返す。
// 共通のengagementが無い場合はTwitterのpublic_metricsを参照する。
func socialScore(metadata map[string]any) float64 {
	var likes, shares, replies float64
	if eng, ok := metadata["engagement"].(map[string]any); ok {
		likes = numberOf(eng["likes"])
		shares = numberOf(eng["shares"])
		replies = numberOf(eng["replies"])
	} else if pm, ok := metadata["public_metrics"].(map[string]any); ok {
		likes = numberOf(pm["like_count"])
		shares = numberOf(pm["retweet_count"])
		replies = numberOf(pm["reply_count"])
	}
	return min((likes+2*shares+replies)/engagementNormalizer, 1.0)
}

func numberOf(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

// extractTopics は4文字以上の単語を出現回数の多い順に最大5件返す。
// 同数の場合は先に出現した単語を優先する。
func extractTopics(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })

	counts := make(map[string]int)
	var order []string
	for _, w := range words {
		if len([]rune(w)) < topicMinRunes {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > topicCount {
		order = order[:topicCount]
	}
	if order == nil {
		return []string{}
	}
	return order
}
