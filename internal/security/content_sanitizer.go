// Package security はリモートから受け取るデータの安全性を確保する機能を提供する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は記事HTMLのサニタイズ機能のインターフェース。
// リモートソースからキャッシュへ書き込む前に使用する。
type ContentSanitizerService interface {
	// Sanitize は記事本文のHTMLを許可リストに従ってサニタイズする。
	Sanitize(rawHTML string) string
	// SanitizeText はタグをすべて除去し、プレーンテキストにする。要約や著者名に使用する。
	SanitizeText(raw string) string
}

// ContentSanitizer はbluemondayのポリシーでサニタイズを行う。
// ポリシーは生成後に変更しないため、複数goroutineから同時に使用できる。
type ContentSanitizer struct {
	content *bluemonday.Policy
	text    *bluemonday.Policy
}

var _ ContentSanitizerService = (*ContentSanitizer)(nil)

// NewContentSanitizer はContentSanitizerを生成する。
//   - 本文の許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, h2-h4, img
//   - script, iframe, style とon*属性は除去
//   - imgのsrcはhttpsのみ、aにはtarget="_blank"とrel="noopener noreferrer"を付与
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "h2", "h3", "h4",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &ContentSanitizer{
		content: p,
		text:    bluemonday.StrictPolicy(),
	}
}

// Sanitize は記事本文のHTMLをサニタイズする。同一入力に対して常に同一出力を返す。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	return s.content.Sanitize(rawHTML)
}

// SanitizeText はタグを除去し、前後の空白を取り除いたテキストを返す。
// 結果はHTMLとしてではなくテキストとして表示するため、エンティティは元の文字に戻す。
func (s *ContentSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.text.Sanitize(raw)))
}

// IsSafeImageURL は画像URLとして表示してよいかを判定する。
// 絶対URLかつhttp/httpsスキームのみ許可する。
func IsSafeImageURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !isAllowedScheme(u.Scheme) {
		return false
	}
	return u.Host != ""
}
