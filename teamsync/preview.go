package teamsync

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PreviewLength is the rune limit of notification bodies.
const PreviewLength = 80

// Preview renders rich-text HTML content as a single line of plain text,
// truncated to limit runes with a trailing ellipsis.
func Preview(content string, limit int) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(content))
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break loop
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.P, atom.Div, atom.Br, atom.Li, atom.H1, atom.H2, atom.H3, atom.Blockquote, atom.Pre:
				b.WriteByte(' ')
			}
		}
	}
	text := strings.Join(strings.Fields(b.String()), " ")
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])) + "..."
}

const emptyParagraph = "<p><br></p>"

// NormaliseContent prepares editor HTML for sending: trailing empty
// paragraphs are stripped and inline 120px images are widened to 30%.
// ok is false when nothing but empty paragraphs remains.
func NormaliseContent(content string) (string, bool) {
	content = strings.TrimSpace(content)
	for strings.HasSuffix(content, emptyParagraph) {
		content = strings.TrimSpace(strings.TrimSuffix(content, emptyParagraph))
	}
	if content == "" || (Preview(content, 0) == "" && !strings.Contains(content, "<img")) {
		return "", false
	}
	return strings.ReplaceAll(content, "width: 120px", "width: 30%"), true
}
