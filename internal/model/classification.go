package model

import "time"

// Category はコンテンツのカテゴリを表す。
type Category string

const (
	CategoryPersonal  Category = "personal"
	CategoryWork      Category = "work"
	CategoryHobby     Category = "hobby"
	CategoryNews      Category = "news"
	CategoryImportant Category = "important"
	CategoryOther     Category = "other"
)

// Categories は有効なカテゴリの一覧。
var Categories = []Category{
	CategoryPersonal,
	CategoryWork,
	CategoryHobby,
	CategoryNews,
	CategoryImportant,
	CategoryOther,
}

// ParseCategory は文字列をカテゴリに変換する。
// 有効なカテゴリでない場合はfalseを返す。
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Classification はコンテンツ1件に対する分類結果を表す。
// コンテンツと1対1で対応し、4つのスコアはすべて[0.0, 1.0]に収まる。
type Classification struct {
	ID              string
	ContentID       string
	Category        Category
	RelevanceScore  float64
	ImportanceScore float64
	SocialScore     float64
	PersonalScore   float64
	Topics          []string
	ModelVersion    string
	ClassifiedAt    time.Time
}

// Clamp はすべてのスコアを[0.0, 1.0]に丸める。
func (c *Classification) Clamp() {
	c.RelevanceScore = ClampScore(c.RelevanceScore)
	c.ImportanceScore = ClampScore(c.ImportanceScore)
	c.SocialScore = ClampScore(c.SocialScore)
	c.PersonalScore = ClampScore(c.PersonalScore)
}

// ClampScore はスコアを[0.0, 1.0]に丸める。NaNは0として扱う。
func ClampScore(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
