package markup

import (
	"html"
	"net/url"
	"strings"
)

// StripTags removes complete tags and broken tag fragments (see brokenTag).
// A '<' that starts neither is kept as text. Each removed tag leaves a space so
// adjacent words do not run together.
func StripTags(s string) string {
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
			j++
		} else if !brokenTag(s, i, j) {
			b.WriteByte(s[i])
			i++
			continue
		}
		b.WriteByte(' ')
		i = j
	}
	return b.String()
}

// tagEnd returns the index of the first '>' or '<' after s[i], or len(s)
func tagEnd(s string, i int) int {
	j := i + 1
	for j < len(s) && s[j] != '>' && s[j] != '<' {
		j++
	}
	return j
}

// brokenTag reports whether the unterminated fragment s[i:j] is a tag cut short.
// A fragment naming a vocabulary tag is always broken. At the end of the text
// a prefix of a vocabulary tag also counts, since the buffer may stop mid-name.
// Anything else, like "x<y and z", is prose.
func brokenTag(s string, i, j int) bool {
	k := i + 1
	if k < j && s[k] == '/' {
		k++
	}
	n := k
	for n < j && (isLetter(s[n]) || (s[n] >= '0' && s[n] <= '9') || s[n] == '_' || s[n] == '-') {
		n++
	}
	name := strings.ToLower(s[k:n])
	if vocabulary[name] {
		return true
	}
	return j == len(s) && knownTagPrefix(name)
}

func startsTag(s string, i int) bool {
	if i+1 >= len(s) {
		return true
	}
	c := s[i+1]
	if c == '/' {
		return i+2 >= len(s) || isLetter(s[i+2])
	}
	return isLetter(c)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// cleanValue strips tags, decodes character references, collapses whitespace
// and trims. Render escapes values again on the way out.
func cleanValue(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(html.UnescapeString(StripTags(s)), " "))
}

// NormalizeLink tidies a link or image value without fetching anything.
// Bare hosts get https://, protocol-relative URLs become https and
// embedded whitespace is removed. Relative paths and anchors are left alone.
func NormalizeLink(raw string) string {
	s := strings.Join(strings.Fields(raw), "")
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "#") || strings.HasPrefix(s, "?") {
		return s
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "mailto", "tel", "data":
			return s
		}
	}
	host := s
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if strings.Contains(host, ".") && !strings.ContainsAny(host, "@ ") {
		return "https://" + s
	}
	return s
}
