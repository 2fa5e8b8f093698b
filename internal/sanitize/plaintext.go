// Package sanitize turns raw message bodies into clean plain text.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// Zero-width and other invisible code points mail clients like to inject
	invisible   = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{115F}\x{1160}\x{17B4}\x{17B5}\x{180E}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}\x{FFF0}-\x{FFF8}]+`)
	inlineSpace = regexp.MustCompile(`[^\S\n]+`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
	attribution = regexp.MustCompile(`(?m)^On [^\n]{1,200}(\n[^\n]{0,200})?wrote:[ \t]*$`)
	forwarded   = regexp.MustCompile(`(?m)^-{2,}\s*Original Message\s*-{2,}[ \t]*$`)
)

// PlainText cleans a text/plain body: quoted replies and invisible
// characters go, whitespace is normalized. Angle brackets are ordinary text.
// Running it on its own output changes nothing.
func PlainText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	text := strings.ReplaceAll(s, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = invisible.ReplaceAllString(text, "")
	text = stripQuoted(normalize(text))
	return normalize(text)
}

// HTMLText renders a text/html body as text and cleans it like PlainText.
// The result is plain text, so further cleanup goes through PlainText.
func HTMLText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	text, ok := htmlText(s)
	if !ok {
		text = s
	}
	return PlainText(text)
}

func htmlText(s string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return "", false
	}

	doc.Find("script, style, head, meta, link, title").Remove()
	// Gmail and Outlook wrap the quoted conversation in these
	doc.Find(".gmail_quote, .gmail_attr, blockquote[type=cite], #appendonsend, #divRplyFwdMsg").Remove()

	doc.Find("br").Each(func(i int, sel *goquery.Selection) {
		sel.ReplaceWithHtml("\n")
	})
	doc.Find("p, div, h1, h2, h3, h4, h5, h6, li, tr, blockquote, pre, table").Each(func(i int, sel *goquery.Selection) {
		sel.PrependHtml("\n")
		sel.AppendHtml("\n")
	})
	doc.Find("td, th").Each(func(i int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return doc.Text(), true
}

// stripQuoted drops quoted lines, then cuts at the reply or forward marker
func stripQuoted(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, ">") {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")

	if loc := attribution.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	if loc := forwarded.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	return text
}

func normalize(text string) string {
	text = inlineSpace.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
