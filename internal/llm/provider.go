package llm

import (
	"context"
	"regexp"
	"strings"
)

// Provider defines a generic LLM interface
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	preambleRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^here('s| is)[^\n]*:\s*\n+`),
		regexp.MustCompile(`(?i)^sure[,!.][^\n]*\n+`),
		regexp.MustCompile(`(?i)^(the )?(formatted|cleaned)[^\n]*:\s*\n+`),
	}
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	htmlTagRe       = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

// CleanOutput strips chatty preambles, images and stray markup from model output
func CleanOutput(s string) string {
	s = strings.TrimSpace(s)
	for _, re := range preambleRe {
		s = re.ReplaceAllString(s, "")
	}
	s = markdownImageRe.ReplaceAllString(s, "")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
