package tts

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
)

// SpeechText はMarkdown形式の本文を読み上げ用のプレーンテキストに変換する。
// 見出し記号や強調記号などの書式を取り除き、空行を除いた行を改行で連結する。
func SpeechText(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return collapseLines(markdown)
	}

	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return collapseLines(markdown)
	}
	return collapseLines(doc.Text())
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
