package classify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/dailydigest/internal/model"
)

// scoredCategories はキーワードでスコアを計算するカテゴリ。
// 同点の場合はこの順序で先にあるカテゴリが選ばれる。
var scoredCategories = []model.Category{
	model.CategoryWork,
	model.CategoryPersonal,
	model.CategoryHobby,
	model.CategoryNews,
	model.CategoryImportant,
}

// CategoryKeywords はカテゴリごとのキーワード集合。
type CategoryKeywords map[model.Category][]string

// KeywordSets は言語コードごとのキーワード集合。
type KeywordSets map[string]CategoryKeywords

// DefaultKeywordSets は組み込みのキーワード集合を返す。
func DefaultKeywordSets() KeywordSets {
	return KeywordSets{
		"ru": {
			model.CategoryWork: {
				"работа", "проект", "дедлайн", "встреча", "коллега", "офис",
				"задача", "клиент", "бизнес", "компания", "стартап",
			},
			model.CategoryPersonal: {
				"семья", "друзья", "день рождения", "отпуск", "праздник",
				"личное", "дом", "родные",
			},
			model.CategoryHobby: {
				"хобби", "спорт", "музыка", "кино", "книга", "игра",
				"путешествие", "фото", "рисование",
			},
			model.CategoryNews: {
				"новость", "событие", "происшествие", "политика", "экономика",
				"технологии", "наука", "культура",
			},
			model.CategoryImportant: {
				"важно", "срочно", "критично", "внимание", "обязательно",
				"необходимо", "требуется",
			},
		},
		"en": {
			model.CategoryWork: {
				"work", "project", "deadline", "meeting", "colleague", "office",
				"task", "client", "business", "company", "startup",
			},
			model.CategoryPersonal: {
				"family", "friends", "birthday", "vacation", "holiday",
				"personal", "home", "relatives",
			},
			model.CategoryHobby: {
				"hobby", "sport", "music", "movie", "book", "game",
				"travel", "photo", "drawing",
			},
			model.CategoryNews: {
				"news", "event", "incident", "politics", "economy",
				"technology", "science", "culture",
			},
			model.CategoryImportant: {
				"important", "urgent", "critical", "attention", "must",
				"required", "asap",
			},
		},
	}
}

// keywordFile はキーワード上書きファイルの形式。
//
//	languages:
//	  en:
//	    work: [deploy, release]
type keywordFile struct {
	Languages map[string]map[string][]string `yaml:"languages"`
}

// LoadKeywordSets はYAMLファイルを読み込み、組み込みのキーワード集合に上書きしたものを返す。
// ファイルに記載されたカテゴリのみが置き換わる。
func LoadKeywordSets(path string) (KeywordSets, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("キーワードファイルの読み込みに失敗しました: %w", err)
	}
	return ParseKeywordSets(raw)
}

// ParseKeywordSets はYAMLを解析し、組み込みのキーワード集合に上書きしたものを返す。
func ParseKeywordSets(raw []byte) (KeywordSets, error) {
	var file keywordFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("キーワードファイルの解析に失敗しました: %w", err)
	}

	sets := DefaultKeywordSets()
	for lang, cats := range file.Languages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if sets[lang] == nil {
			sets[lang] = CategoryKeywords{}
		}
		for name, words := range cats {
			cat, ok := model.ParseCategory(strings.ToLower(name))
			if !ok || cat == model.CategoryOther {
				return nil, fmt.Errorf("不正なカテゴリです: %s", name)
			}
			sets[lang][cat] = normalizeKeywords(words)
		}
	}
	return sets, nil
}

func normalizeKeywords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
