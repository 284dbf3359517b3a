// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextExtractor はRSS記事などのHTML本文からプレーンテキストを取り出す。
// bluemondayでscriptやstyleを内容ごと除去した後、x/net/htmlで
// テキストノードのみを読み出すため、保存されるテキストにマークアップは残らない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// TextExtractorService はHTMLからプレーンテキストを抽出する機能のインターフェース。
type TextExtractorService interface {
	// Extract はHTMLからタグを除去したプレーンテキストを返す。
	// 文字参照はデコードされ、空白は1つにまとめられる。
	Extract(rawHTML string) string
}

// textExtractor はTextExtractorServiceの実装。
type textExtractor struct {
	policy *bluemonday.Policy
}

// blockElements はテキスト抽出時に区切りとして扱う要素。
var blockElements = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "tr": true,
}

// NewTextExtractor はTextExtractorServiceの新しいインスタンスを生成する。
// 構造を保つためブロック要素のみ許可し、それ以外の要素はタグを除去する。
func NewTextExtractor() *textExtractor {
	p := bluemonday.NewPolicy()
	for el := range blockElements {
		p.AllowElements(el)
	}
	return &textExtractor{policy: p}
}

// Extract はHTMLからタグを除去したプレーンテキストを返す。
func (e *textExtractor) Extract(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}

	sanitized := e.policy.Sanitize(rawHTML)

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(sanitized))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseWhitespace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockElements[string(name)] {
				b.WriteByte(' ')
			}
		}
	}
}

// collapseWhitespace は連続する空白を1つにまとめ、前後の空白を除去する。
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
