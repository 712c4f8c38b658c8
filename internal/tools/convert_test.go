package tools

import (
	"strings"
	"testing"
)

func TestHTMLToText(t *testing.T) {
	html := `<!DOCTYPE html><html><head><style>p{color:red}</style>
<script>alert("x")</script></head><body>
<nav><a href="/">home</a></nav>
<h1>Release notes</h1>
<p>Version 2 is out &amp; it&#39;s fast.</p>
<ul><li>faster builds</li><li>smaller binaries</li></ul>
<footer>copyright</footer>
</body></html>`

	got := htmlToText(html)
	for _, want := range []string{"Release notes", "Version 2 is out & it's fast.", "- faster builds", "- smaller binaries"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	for _, banned := range []string{"alert", "color:red", "home", "copyright", "<p>"} {
		if strings.Contains(got, banned) {
			t.Errorf("output leaked %q:\n%s", banned, got)
		}
	}
}

func TestLooksLikeHTML(t *testing.T) {
	cases := []struct {
		contentType string
		body        string
		want        bool
	}{
		{"text/html; charset=utf-8", "anything", true},
		{"application/xhtml+xml", "anything", true},
		{"application/json", "<html>", false},
		{"application/rss+xml", "<html>", false},
		{"", "<!doctype html><html>", true},
		{"", `<div class="x">hi</div>`, true},
		{"text/plain", "plain words", false},
		{"", "plain words", false},
	}
	for _, tc := range cases {
		if got := looksLikeHTML(tc.contentType, []byte(tc.body)); got != tc.want {
			t.Errorf("looksLikeHTML(%q, %q) = %v, want %v", tc.contentType, tc.body, got, tc.want)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	if normalizeTitle("  Go   1.26  RELEASED ") != normalizeTitle("go 1.26 released") {
		t.Error("titles differing only in case/spacing should normalize equal")
	}
	if normalizeTitle("alpha") == normalizeTitle("beta") {
		t.Error("distinct titles collided")
	}
}
