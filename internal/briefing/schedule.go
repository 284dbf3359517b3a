package briefing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dailydigest/internal/model"
	"github.com/hitoshi/dailydigest/internal/repository"
)

const (
	// DefaultLead は配信時刻の何分前に生成を開始するか。
	DefaultLead = 10 * time.Minute
	// DefaultCatchUpWindow は生成開始時刻を過ぎてから生成対象とし続ける期間。
	DefaultCatchUpWindow = time.Hour
	// DefaultBriefingTime はユーザーの配信時刻が不正な場合に使う時刻。
	DefaultBriefingTime = "08:00"
)

// ScheduleConfig は定期生成の設定。
type ScheduleConfig struct {
	Lead   time.Duration
	Window time.Duration
}

func (c ScheduleConfig) withDefaults() ScheduleConfig {
	if c.Lead < 0 {
		c.Lead = DefaultLead
	}
	if c.Window <= 0 {
		c.Window = DefaultCatchUpWindow
	}
	return c
}

// Plan は生成対象となるユーザーと日付の組を表す。
type Plan struct {
	UserID string
	Date   time.Time
}

// PlanGeneration はnow時点で生成対象となるユーザーと日付を返す。
// ユーザーのタイムゾーンでの (配信時刻 - Lead) を生成開始時刻とし、
// 開始時刻からWindow以内であれば対象とする。
func PlanGeneration(now time.Time, users []*model.User, cfg ScheduleConfig) []Plan {
	cfg = cfg.withDefaults()

	var plans []Plan
	for _, u := range users {
		if !u.IsActive {
			continue
		}
		hour, minute := parseBriefingTime(u.BriefingTime)
		loc := u.Location()
		local := now.In(loc)

		// 配信時刻が0時直後の場合、生成開始時刻は前日になるため翌日分も確認する
		for _, offset := range []int{0, 1} {
			day := local.AddDate(0, 0, offset)
			target := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc).Add(-cfg.Lead)
			elapsed := now.Sub(target)
			if elapsed >= 0 && elapsed <= cfg.Window {
				plans = append(plans, Plan{UserID: u.ID, Date: model.DateOf(day)})
				break
			}
		}
	}
	return plans
}

// parseBriefingTime は "HH:MM" または "HH:MM:SS" 形式の時刻を解析する。
// 解析できない場合はDefaultBriefingTimeを使う。
func parseBriefingTime(s string) (int, int) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute()
		}
	}
	t, _ := time.Parse("15:04", DefaultBriefingTime)
	return t.Hour(), t.Minute()
}

// Enqueuer はブリーフィング生成タスクを投入するインターフェース。
type Enqueuer interface {
	EnqueueBriefing(userID string, date time.Time) error
}

// Sweeper は定期的に全ユーザーの生成開始時刻を確認し、生成タスクを投入する。
type Sweeper struct {
	userRepo     repository.UserRepository
	briefingRepo repository.BriefingRepository
	enqueuer     Enqueuer
	logger       *slog.Logger
	cfg          ScheduleConfig
	now          func() time.Time
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
func NewSweeper(
	userRepo repository.UserRepository,
	briefingRepo repository.BriefingRepository,
	enqueuer Enqueuer,
	logger *slog.Logger,
	cfg ScheduleConfig,
) *Sweeper {
	return &Sweeper{
		userRepo:     userRepo,
		briefingRepo: briefingRepo,
		enqueuer:     enqueuer,
		logger:       logger,
		cfg:          cfg.withDefaults(),
		now:          time.Now,
	}
}

// Start はinterval間隔でスイープを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ブリーフィングスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ブリーフィングスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Sweeper) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("ブリーフィングスイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は生成対象のユーザーを判定し、配信済みでないものを投入する。
// 投入した件数を返す。
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	users, err := s.userRepo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("アクティブユーザーの取得に失敗しました: %w", err)
	}

	enqueued := 0
	for _, plan := range PlanGeneration(s.now(), users, s.cfg) {
		existing, err := s.briefingRepo.FindByUserAndDate(ctx, plan.UserID, plan.Date)
		if err != nil {
			return enqueued, fmt.Errorf("ブリーフィングの取得に失敗しました: %w", err)
		}
		if existing != nil && existing.Status == model.BriefingStatusDelivered {
			continue
		}

		if err := s.enqueuer.EnqueueBriefing(plan.UserID, plan.Date); err != nil {
			s.logger.Error("ブリーフィング生成の投入に失敗しました",
				slog.String("user_id", plan.UserID),
				slog.String("date", plan.Date.Format(model.DateLayout)),
				slog.String("error", err.Error()),
			)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.Info("ブリーフィング生成を投入しました",
			slog.Int("count", enqueued),
		)
	}
	return enqueued, nil
}
