package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser turns forum post bodies into plain text suitable for previews
type HTMLParser struct {
	spaceRegex     *regexp.Regexp
	invisibleRegex *regexp.Regexp
}

// NewHTMLParser creates a new HTML parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{
		spaceRegex: regexp.MustCompile(`[^\S\n]+`),
		// Zero-width and other invisible characters the editor leaves behind
		invisibleRegex: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}]+`),
	}
}

// Parse converts an HTML fragment to plain text
func (p *HTMLParser) Parse(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	return p.Text(doc.Selection), nil
}

// Text extracts the readable text of a post body. Quoted replies, scripts
// and signatures are dropped, images and embeds become short placeholders.
func (p *HTMLParser) Text(sel *goquery.Selection) string {
	body := sel.Clone()

	body.Find("script, style, blockquote, .Quote, .UserQuote, .Signature").Remove()
	body.Find("img").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml(" [image] ")
	})
	body.Find("iframe, .VideoWrap").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml(" [embed] ")
	})
	body.Find("p, div, br, li, pre, h1, h2, h3, h4, tr").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := body.Text()
	text = p.invisibleRegex.ReplaceAllString(text, "")
	text = p.spaceRegex.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	clean := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			clean = append(clean, line)
		}
	}
	return strings.Join(clean, "\n")
}
