// Package briefing はブリーフィングのコンテンツ選択、生成状態の管理、
// 配信時刻に合わせた定期生成を提供する。
package briefing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/dailydigest/internal/model"
	"github.com/hitoshi/dailydigest/internal/repository"
)

const (
	// DefaultMinRelevance は最小関連度スコアのシステムデフォルト。
	DefaultMinRelevance = 0.3
	// DefaultMaxItems はブリーフィングの最大件数のシステムデフォルト。
	DefaultMaxItems = 10
	// DefaultCandidateWindow は候補とするコンテンツの公開期間。
	DefaultCandidateWindow = 24 * time.Hour
)

// SelectorConfig はSelectorの設定。
type SelectorConfig struct {
	MinRelevance float64
	MaxItems     int
	Window       time.Duration
}

// Selector はユーザーのブリーフィングに含めるコンテンツを選択する。
type Selector struct {
	contentRepo repository.ContentRepository
	cfg         SelectorConfig
}

// NewSelector はSelectorの新しいインスタンスを生成する。
func NewSelector(contentRepo repository.ContentRepository, cfg SelectorConfig) *Selector {
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = DefaultMinRelevance
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultCandidateWindow
	}
	return &Selector{contentRepo: contentRepo, cfg: cfg}
}

// Select はasOfから遡って候補期間内に公開され、分類済みかつ関連度が閾値以上のコンテンツを
// (関連度, 重要度) の降順で最大件数まで返す。
func (s *Selector) Select(ctx context.Context, userID string, prefs *model.Preferences, asOf time.Time) ([]model.ClassifiedContent, error) {
	minRelevance := prefs.MinRelevanceOr(s.cfg.MinRelevance)
	maxItems := prefs.MaxItemsOr(s.cfg.MaxItems)

	candidates, err := s.contentRepo.ListCandidates(ctx, userID, asOf.Add(-s.cfg.Window), maxItems*2)
	if err != nil {
		return nil, fmt.Errorf("ブリーフィング候補の取得に失敗しました: %w", err)
	}
	return rank(candidates, minRelevance, maxItems), nil
}

// rank は分類済みかつ関連度がminRelevance以上の候補を並べ替え、maxItems件に切り詰める。
func rank(candidates []model.ClassifiedContent, minRelevance float64, maxItems int) []model.ClassifiedContent {
	selected := make([]model.ClassifiedContent, 0, len(candidates))
	for _, c := range candidates {
		if !c.Classified() || c.Classification.RelevanceScore < minRelevance {
			continue
		}
		selected = append(selected, c)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		a, b := selected[i].Classification, selected[j].Classification
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		return a.ImportanceScore > b.ImportanceScore
	})

	if len(selected) > maxItems {
		selected = selected[:maxItems]
	}
	return selected
}
