package security

import (
	"strings"
	"testing"
)

func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{"段落", "<p>本文</p>", []string{"<p>本文</p>"}},
		{"リスト", "<ul><li>項目</li></ul>", []string{"<ul>", "<li>項目</li>"}},
		{"コード", "<pre><code>func main() {}</code></pre>", []string{"<pre><code>func main() {}</code></pre>"}},
		{"見出し", "<h2>見出し</h2>", []string{"<h2>見出し</h2>"}},
		{"強調", "<strong>a</strong><em>b</em>", []string{"<strong>a</strong>", "<em>b</em>"}},
		{"https画像", `<img src="https://example.com/a.png" alt="画像">`, []string{`src="https://example.com/a.png"`, `alt="画像"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

func TestSanitize_RemovesDangerousContent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
	}{
		{"script", `<p>a</p><script>alert(1)</script>`, []string{"<script", "alert(1)"}},
		{"iframe", `<iframe src="https://evil.example.com"></iframe>`, []string{"<iframe"}},
		{"style", `<style>body{}</style><p>a</p>`, []string{"<style"}},
		{"onイベント", `<p onclick="alert(1)">a</p>`, []string{"onclick"}},
		{"javascriptリンク", `<a href="javascript:alert(1)">x</a>`, []string{"javascript:"}},
		{"http画像", `<img src="http://example.com/a.png">`, []string{"http://example.com/a.png"}},
		{"data画像", `<img src="data:image/png;base64,AAAA">`, []string{"data:"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should not contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

func TestSanitize_LinksGetTargetAndRel(t *testing.T) {
	got := NewContentSanitizer().Sanitize(`<a href="https://example.com">link</a>`)

	for _, want := range []string{`target="_blank"`, "noopener", "noreferrer"} {
		if !strings.Contains(got, want) {
			t.Errorf("Sanitize() = %q, expected to contain %q", got, want)
		}
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()
	input := `<p>a <a href="https://example.com">b</a></p><script>x</script>`

	once := sanitizer.Sanitize(input)
	if twice := sanitizer.Sanitize(once); once != twice {
		t.Errorf("Sanitize is not idempotent: %q != %q", once, twice)
	}
	if sanitizer.Sanitize("") != "" {
		t.Error("空文字列の入力には空文字列を返すべき")
	}
}

func TestSanitizeText(t *testing.T) {
	got := NewContentSanitizer().SanitizeText("  <p>Hello <b>world</b></p><script>x()</script> ")
	if got != "Hello world" {
		t.Errorf("SanitizeText() = %q, want %q", got, "Hello world")
	}
}

func TestIsSafeImageURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://cdn.example.com/a.png", true},
		{"http://cdn.example.com/a.png", true},
		{"", false},
		{"/relative/a.png", false},
		{"javascript:alert(1)", false},
		{"data:image/png;base64,AAAA", false},
		{"https://", false},
	}
	for _, tt := range tests {
		if got := IsSafeImageURL(tt.in); got != tt.want {
			t.Errorf("IsSafeImageURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeText_UnescapesEntities(t *testing.T) {
	got := NewContentSanitizer().SanitizeText("AT&amp;T <i>earnings</i> &gt; forecast")
	if got != "AT&T earnings > forecast" {
		t.Errorf("SanitizeText() = %q", got)
	}
}
