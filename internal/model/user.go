package model

import "time"

// User はブリーフィングを受け取るユーザーを表す。
type User struct {
	ID           string
	Email        string
	Name         string
	Timezone     string
	BriefingTime string // "HH:MM"
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Location はユーザーのタイムゾーンを返す。
// 未設定または不正な場合はUTCを返す。
func (u *User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Preferences はユーザーのブリーフィング設定を表す。
// 未設定の項目はnilまたは空文字で、システムデフォルトが使われる。
type Preferences struct {
	UserID              string
	MinRelevanceScore   *float64
	MaxItemsPerBriefing *int
	Language            string
	VoicePreference     string
	TopicsInterest      []string
}

// MinRelevanceOr は最小関連度スコアを返す。未設定ならdefを返す。
func (p *Preferences) MinRelevanceOr(def float64) float64 {
	if p == nil || p.MinRelevanceScore == nil {
		return def
	}
	return *p.MinRelevanceScore
}

// MaxItemsOr はブリーフィングの最大件数を返す。未設定または0以下ならdefを返す。
func (p *Preferences) MaxItemsOr(def int) int {
	if p == nil || p.MaxItemsPerBriefing == nil || *p.MaxItemsPerBriefing <= 0 {
		return def
	}
	return *p.MaxItemsPerBriefing
}

// LanguageOr は言語を返す。未設定ならdefを返す。
func (p *Preferences) LanguageOr(def string) string {
	if p == nil || p.Language == "" {
		return def
	}
	return p.Language
}

// VoiceOr は音声の指定を返す。未設定ならdefを返す。
func (p *Preferences) VoiceOr(def string) string {
	if p == nil || p.VoicePreference == "" {
		return def
	}
	return p.VoicePreference
}
