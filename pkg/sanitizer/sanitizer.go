package sanitizer

import (
	"regexp"
	"strings"
)

type Strategy func(string) string

type Pipeline []Strategy

func (p Pipeline) Apply(s string) string {
	for _, fn := range p {
		s = fn(s)
	}
	return s
}

var (
	reKeepCategoryChars = regexp.MustCompile(`[^0-9\p{L}]+`)
	reTrimUnderscores   = regexp.MustCompile(`_+`)
	reWhitespace        = regexp.MustCompile(`\s+`)
)

func trimAndLower(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return s
}

func collapseUnderscores(s string) string {
	s = reTrimUnderscores.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// SanitizeIdentifier trims an id and removes any embedded whitespace, so
// "  KA01 AB1234 " and "KA01AB1234" name the same request.
func SanitizeIdentifier(input string) string {
	p := Pipeline{
		strings.TrimSpace,
		func(s string) string { return reWhitespace.ReplaceAllString(s, "") },
	}
	return p.Apply(input)
}

// SanitizeCategory turns a free-form category into lower snake case.
func SanitizeCategory(input string) string {
	p := Pipeline{
		trimAndLower,
		func(s string) string { return reKeepCategoryChars.ReplaceAllString(s, "_") },
		collapseUnderscores,
	}
	return p.Apply(input)
}
