package model

import "time"

// BriefingStatus はブリーフィングの生成状態を表す。
type BriefingStatus string

const (
	BriefingStatusPending    BriefingStatus = "pending"
	BriefingStatusGenerating BriefingStatus = "generating"
	BriefingStatusReady      BriefingStatus = "ready"
	BriefingStatusFailed     BriefingStatus = "failed"
	BriefingStatusDelivered  BriefingStatus = "delivered"
)

// Briefing はユーザーごと・日付ごとに1件作成されるデイリーブリーフィングを表す。
type Briefing struct {
	ID                   string
	UserID               string
	Date                 time.Time
	Status               BriefingStatus
	TextSummary          string
	AudioURL             string
	AudioDurationSeconds int
	ContentItemsCount    int
	GeneratedAt          *time.Time
	DeliveredAt          *time.Time
	ErrorMessage         string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// BriefingContentLink はブリーフィング内のコンテンツの並び順を表す。
// Orderは1始まりで連続する。
type BriefingContentLink struct {
	ID             string
	BriefingID     string
	ContentID      string
	Order          int
	IncludedReason string
}

// DateOf は時刻をそのロケーションでの暦日（UTCの0時）に変換する。
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout はブリーフィング日付の文字列表現。
const DateLayout = "2006-01-02"
