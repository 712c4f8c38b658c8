package tools

import (
	"regexp"
	"strings"
)

var (
	reScript   = regexp.MustCompile(`(?is)<script[\s\S]*?</script>`)
	reStyle    = regexp.MustCompile(`(?is)<style[\s\S]*?</style>`)
	reComment  = regexp.MustCompile(`<!--[\s\S]*?-->`)
	reNav      = regexp.MustCompile(`(?is)<nav[\s\S]*?</nav>`)
	reFooter   = regexp.MustCompile(`(?is)<footer[\s\S]*?</footer>`)
	reHeaderEl = regexp.MustCompile(`(?is)<header[\s\S]*?</header>`)
	reHeading  = regexp.MustCompile(`(?i)<h[1-6][^>]*>([\s\S]*?)</h[1-6]>`)
	rePara     = regexp.MustCompile(`(?i)<p[^>]*>([\s\S]*?)</p>`)
	reBreak    = regexp.MustCompile(`(?i)<br\s*/?>`)
	reListItem = regexp.MustCompile(`(?i)<li[^>]*>([\s\S]*?)</li>`)
	reTag      = regexp.MustCompile(`<[^>]+>`)
	reMultiNL  = regexp.MustCompile(`\n{3,}`)
	reMultiSP  = regexp.MustCompile(`[ \t]{2,}`)
	reHTMLDoc  = regexp.MustCompile(`(?is)<!doctype\s+html|<html[\s>]|<body[\s>]|<div[\s>]|<p[\s>]`)
)

// looksLikeHTML detects HTML by content type or, when the server lies or
// omits it, by sniffing the body.
func looksLikeHTML(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return true
	}
	if strings.Contains(ct, "json") || strings.Contains(ct, "xml") {
		return false
	}
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	return reHTMLDoc.Match(head)
}

// htmlToText strips an HTML document down to readable text: boilerplate
// elements removed, block elements turned into line breaks, tags dropped,
// entities decoded.
func htmlToText(html string) string {
	s := reScript.ReplaceAllString(html, "")
	s = reStyle.ReplaceAllString(s, "")
	s = reComment.ReplaceAllString(s, "")
	s = reNav.ReplaceAllString(s, "")
	s = reFooter.ReplaceAllString(s, "")
	s = reHeaderEl.ReplaceAllString(s, "")

	s = reHeading.ReplaceAllString(s, "\n$1\n")
	s = rePara.ReplaceAllString(s, "\n$1\n")
	s = reBreak.ReplaceAllString(s, "\n")
	s = reListItem.ReplaceAllString(s, "\n- $1")

	s = reTag.ReplaceAllString(s, "")
	s = decodeEntities(s)
	s = reMultiSP.ReplaceAllString(s, " ")
	s = reMultiNL.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	clean := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			clean = append(clean, line)
		}
	}
	return strings.Join(clean, "\n")
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
	"&mdash;", "—",
	"&ndash;", "–",
	"&bull;", "•",
	"&hellip;", "...",
	"&copy;", "(c)",
)

func decodeEntities(s string) string { return entityReplacer.Replace(s) }
