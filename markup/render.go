package markup

import (
	"html"
	"sort"
	"strings"
)

// Render writes sections back out as canonical markup. Text and values are
// escaped, so extracting the balanced result yields the same sections again.
func Render(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, sec := range sections {
		if s := renderSection(sec); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func renderSection(sec Section) string {
	switch sec.Kind {
	case KindIntro:
		return wrap("intro", sec.Body)
	case KindTip:
		return wrap("tip", sec.Body)
	case KindItemList:
		return renderList(sec)
	default:
		return html.EscapeString(sec.Body)
	}
}

func wrap(tag, body string) string {
	return "<" + tag + ">" + html.EscapeString(body) + "</" + tag + ">"
}

func renderList(sec Section) string {
	family, ok := FamilyByItem(sec.Family)
	if !ok {
		return ""
	}

	var b strings.Builder
	b.WriteString("<" + family.Section + renderAttributes(sec) + ">")
	for _, item := range sec.Items {
		b.WriteString("<" + family.Item + ">")
		for _, p := range family.Properties {
			if v := item.Properties[p]; v != "" {
				b.WriteString(wrap(p, v))
			}
		}
		b.WriteString("</" + family.Item + ">")
	}
	b.WriteString("</" + family.Section + ">")
	return b.String()
}

func renderAttributes(sec Section) string {
	attrs := make(map[string]string, len(sec.Attributes)+1)
	for k, v := range sec.Attributes {
		attrs[k] = v
	}
	if sec.Title != "" {
		attrs["title"] = sec.Title
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if k != "title" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := attrs["title"]; ok {
		keys = append([]string{"title"}, keys...)
	}

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" " + k + `="` + html.EscapeString(attrs[k]) + `"`)
	}
	return b.String()
}
