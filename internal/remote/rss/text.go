package rss

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// wordsPerMinute は読了時間の見積もりに使う1分あたりの語数。
const wordsPerMinute = 200

// skipContentTags はテキストとして扱わない要素。
var skipContentTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
}

// PlainText はHTML断片からテキストのみを取り出し、連続する空白を1つにまとめる。
func PlainText(fragment string) string {
	if fragment == "" {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	var buf bytes.Buffer
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(buf.String()), " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skipContentTags[string(name)] {
				skipDepth++
			}
			buf.WriteByte(' ')
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skipContentTags[string(name)] && skipDepth > 0 {
				skipDepth--
			}
			buf.WriteByte(' ')
		case html.SelfClosingTagToken:
			buf.WriteByte(' ')
		case html.TextToken:
			if skipDepth == 0 {
				buf.Write(tokenizer.Text())
			}
		}
	}
}

// Truncate はテキストを最大maxRunes文字に切り詰める。切り詰めた場合は末尾に"…"を付ける。
func Truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}

// EstimateReadTime はテキストの語数から読了時間（分）を見積もる。最小1分。
func EstimateReadTime(text string) int {
	words := len(strings.Fields(text))
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}
