package markup

import (
	"regexp"
	"strings"
)

var (
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	whitespaceRun = regexp.MustCompile(`[\s\x{85}\x{2028}\x{2029}]+`)
	tagPattern    = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9_-]*)[^<>]*>`)
)

// maxPasses bounds re-balancing when dropping a tag glues fragments into a new one
const maxPasses = 3

// voidTags never take a closing tag
var voidTags = map[string]bool{
	"br":    true,
	"hr":    true,
	"img":   true,
	"wbr":   true,
	"input": true,
	"meta":  true,
}

// tagFrame is one open tag waiting for its closing tag
type tagFrame struct {
	tagName      string
	openPosition int
}

type tagMatch struct {
	name    string
	closing bool
	start   int
	end     int
}

// Normalize strips control and replacement characters, collapses every
// whitespace run (line breaks included) to one space and trims the result.
func Normalize(text string) string {
	s := controlChars.ReplaceAllString(text, "")
	s = strings.ReplaceAll(s, "\uFFFD", "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// scanTags tokenizes complete tags in one linear pass
func scanTags(s string) []tagMatch {
	locs := tagPattern.FindAllStringSubmatchIndex(s, -1)
	matches := make([]tagMatch, 0, len(locs))
	for _, m := range locs {
		name := strings.ToLower(s[m[4]:m[5]])
		closing := m[3] > m[2]
		if !closing && (voidTags[name] || strings.HasSuffix(s[m[0]:m[1]], "/>")) {
			continue
		}
		matches = append(matches, tagMatch{name: name, closing: closing, start: m[0], end: m[1]})
	}
	return matches
}

// Balance returns text in which every closing tag closes the most recent open
// tag of the same name and every open tag is eventually closed.
//
// Closing tags that close nothing, or close out of order, are dropped. Tags still
// open at the end are closed innermost first. Tag fragments never finished by a
// '>' (typically the tail of a truncated buffer) are removed. Closing tags of the
// section vocabulary are followed by a blank line so later passes can work line
// by line. Balance never fails; empty or tagless input comes back normalized.
func Balance(text string) string {
	s := Normalize(dropBrokenTags(text))
	for pass := 0; pass < maxPasses; pass++ {
		out := balancePass(s)
		if IsBalanced(out) {
			return sectionCloseSeparator.ReplaceAllString(out, "$0\n\n")
		}
		s = Normalize(dropBrokenTags(out))
	}
	for !IsBalanced(s) {
		s = StripTags(s)
	}
	return Normalize(s)
}

func balancePass(s string) string {
	var stack []tagFrame
	var extra []tagMatch
	for _, m := range scanTags(s) {
		if !m.closing {
			stack = append(stack, tagFrame{tagName: m.name, openPosition: m.start})
			continue
		}
		if n := len(stack); n > 0 && stack[n-1].tagName == m.name {
			stack = stack[:n-1]
			continue
		}
		extra = append(extra, m)
	}

	var b strings.Builder
	b.Grow(len(s) + len(stack)*12)
	last := 0
	for _, m := range extra {
		b.WriteString(s[last:m.start])
		last = m.end
	}
	b.WriteString(s[last:])
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString("</" + stack[i].tagName + ">")
	}
	return b.String()
}

// dropBrokenTags removes tag fragments that never reach a closing '>' and are
// recognizably tags (see brokenTag). Other fragments stay as text.
func dropBrokenTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '<' || !startsTag(s, i) {
			b.WriteByte(s[i])
			i++
			continue
		}
		j := tagEnd(s, i)
		if j < len(s) && s[j] == '>' {
			b.WriteString(s[i : j+1])
			i = j + 1
			continue
		}
		if !brokenTag(s, i, j) {
			b.WriteByte(s[i])
			i++
			continue
		}
		i = j
	}
	return b.String()
}

// IsBalanced reports whether every closing tag in text matches the nearest
// unconsumed opening tag and nothing is left open.
func IsBalanced(text string) bool {
	var stack []string
	for _, m := range scanTags(text) {
		if !m.closing {
			stack = append(stack, m.name)
			continue
		}
		n := len(stack)
		if n == 0 || stack[n-1] != m.name {
			return false
		}
		stack = stack[:n-1]
	}
	return len(stack) == 0
}
