package model

import "time"

// SourceType はデータソースの種別を表す。
type SourceType string

const (
	SourceTypeTwitter   SourceType = "twitter"
	SourceTypeFacebook  SourceType = "facebook"
	SourceTypeInstagram SourceType = "instagram"
	SourceTypeTelegram  SourceType = "telegram"
	SourceTypeRSS       SourceType = "rss"
)

// DefaultSyncFrequencyMinutes はソースの同期間隔のデフォルト値（分）。
const DefaultSyncFrequencyMinutes = 15

// DataSource はユーザーが接続したアカウントまたはフィードを表す。
// Credentialsは暗号化済みの値で、コアはCredentialCipher経由でのみ復号する。
type DataSource struct {
	ID                   string
	UserID               string
	Type                 SourceType
	Name                 string
	IsActive             bool
	Credentials          string
	Settings             map[string]any
	LastSyncAt           *time.Time
	SyncFrequencyMinutes int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DueForSync はnow時点でソースが同期対象かを返す。
// 一度も同期していないか、前回同期から同期間隔以上経過している場合にtrueとなる。
func (s *DataSource) DueForSync(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.LastSyncAt == nil {
		return true
	}
	freq := s.SyncFrequencyMinutes
	if freq <= 0 {
		freq = DefaultSyncFrequencyMinutes
	}
	return now.Sub(*s.LastSyncAt) >= time.Duration(freq)*time.Minute
}

// SettingString は設定マップから文字列値を取得する。
func (s *DataSource) SettingString(key string) string {
	if s.Settings == nil {
		return ""
	}
	if v, ok := s.Settings[key].(string); ok {
		return v
	}
	return ""
}

// SyncStatus は同期実行の結果を表す。
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncRun はソース1件に対する同期1回分の記録を表す。
// 完了後に変更されることはない。
type SyncRun struct {
	ID           string
	SourceID     string
	Status       SyncStatus
	ItemsFetched int
	ItemsNew     int
	ItemsUpdated int
	ErrorMessage string
	Duration     time.Duration
	StartedAt    time.Time
	CompletedAt  time.Time
}
