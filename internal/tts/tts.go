// Package tts はブリーフィング本文の音声合成を提供する。
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/hitoshi/dailydigest/internal/metrics"
)

// wordsPerMinute は読み上げ時間の推定に使う発話速度。
const wordsPerMinute = 150

// Options は音声合成のオプション。
type Options struct {
	// Voice はプロバイダ固有の音声ID。空の場合はプロバイダ既定の音声を使う。
	Voice string
}

// Renderer はテキストを音声データ（MP3）に変換するインターフェース。
type Renderer interface {
	Name() string
	Render(ctx context.Context, text string, opts Options) ([]byte, error)
}

// Chain は複数のRendererを順に試し、最初に成功した結果を返す。
type Chain struct {
	renderers []Renderer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

var _ Renderer = (*Chain)(nil)

// NewChain はChainを生成する。renderersは優先順に渡す。
func NewChain(logger *slog.Logger, collector metrics.MetricsCollector, renderers ...Renderer) *Chain {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Chain{renderers: renderers, metrics: collector, logger: logger}
}

// Name はチェーンを構成するRenderer名を返す。
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.renderers))
	for _, r := range c.renderers {
		names = append(names, r.Name())
	}
	return strings.Join(names, ",")
}

// Render は優先順にRendererを試す。すべて失敗した場合は各エラーをまとめて返す。
func (c *Chain) Render(ctx context.Context, text string, opts Options) ([]byte, error) {
	if len(c.renderers) == 0 {
		return nil, errors.New("音声合成プロバイダが設定されていません")
	}

	var errs []error
	for i, r := range c.renderers {
		audio, err := r.Render(ctx, text, opts)
		if err == nil {
			if i > 0 {
				c.metrics.RecordJob("tts_fallback", r.Name())
			}
			return audio, nil
		}
		c.logger.Warn("音声合成に失敗しました",
			slog.String("provider", r.Name()),
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("すべての音声合成プロバイダが失敗しました: %w", errors.Join(errs...))
}

// EstimateDuration は読み上げ時間（秒）を単語数から推定する。
func EstimateDuration(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 60 / wordsPerMinute))
}
