package markup

import (
	"html"
	"sort"
	"strings"
)

// Section is one top-level grouping of an answer.
// List sections carry Items; free text, intro and tip sections carry Body.
type Section struct {
	Kind       Kind              `json:"kind"`
	Family     string            `json:"family,omitempty"`
	Title      string            `json:"title,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Items      []Item            `json:"items,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// Item is one entry of a list section. Keys come from the family's property set.
type Item struct {
	Properties map[string]string `json:"properties"`
}

// Name returns the mandatory name property
func (i Item) Name() string {
	return i.Properties["name"]
}

// span is a region of the buffer already claimed by a section
type span struct {
	start, end int
	name       string
	section    *Section
}

type itemBlock struct {
	inner string
	end   int
}

// Extract derives sections from text that is ideally the output of Balance but
// may still hold unclosed or truncated tags. Sections are returned in document
// order and rebuilt from scratch on every call.
//
// Each section or item is located by its full open+close pair when present and
// otherwise runs to the next sibling opening or the end of the buffer. Items with
// no recoverable name are dropped, as are sections left empty. When no list
// section tag exists, bare item tags are gathered into default-titled sections.
// Untagged text between sections is kept as free text, so input with no
// recognizable structure comes back as one free text section. Free text split
// only by omitted sections is joined. Values have character references decoded.
func Extract(text string) []Section {
	spans := scanSections(text)

	hasList := false
	for _, sp := range spans {
		if _, ok := familyBySection(sp.name); ok {
			hasList = true
			break
		}
	}
	if !hasList {
		spans = append(spans, scanBareItems(text, spans)...)
	}

	for _, g := range gaps(text, spans) {
		if body := cleanValue(text[g[0]:g[1]]); body != "" {
			spans = append(spans, span{start: g[0], end: g[1], section: &Section{Kind: KindFreeText, Body: body}})
		}
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	sections := make([]Section, 0, len(spans))
	for _, sp := range spans {
		if sp.section == nil {
			continue
		}
		// free text on both sides of an omitted section reads as one run
		n := len(sections)
		if n > 0 && sp.section.Kind == KindFreeText && sections[n-1].Kind == KindFreeText {
			sections[n-1].Body += " " + sp.section.Body
			continue
		}
		sections = append(sections, *sp.section)
	}
	return sections
}

// scanSections claims top-level sections left to right
func scanSections(text string) []span {
	opens := sectionOpenPattern.FindAllStringSubmatchIndex(text, -1)
	var spans []span
	cursor := 0
	for i, m := range opens {
		if m[0] < cursor {
			continue
		}
		name := strings.ToLower(text[m[2]:m[3]])
		bodyStart := m[1]

		limit := len(text)
		for _, next := range opens[i+1:] {
			if next[0] >= bodyStart {
				limit = next[0]
				break
			}
		}

		bodyEnd, end := limit, limit
		if c := closePatterns[name].FindStringIndex(text[bodyStart:limit]); c != nil {
			bodyEnd, end = bodyStart+c[0], bodyStart+c[1]
		}

		sp := span{start: m[0], end: end, name: name}
		if sec, ok := buildSection(name, text[m[4]:m[5]], text[bodyStart:bodyEnd]); ok {
			sp.section = &sec
		}
		spans = append(spans, sp)
		cursor = end
	}
	return spans
}

func buildSection(name, rawAttrs, body string) (Section, bool) {
	if kind, ok := freeSections[name]; ok {
		b := cleanValue(body)
		return Section{Kind: kind, Body: b}, b != ""
	}

	family, _ := familyBySection(name)
	attrs := parseAttributes(rawAttrs)
	items := extractItems(body, family)
	if len(items) == 0 {
		return Section{}, false
	}
	return Section{
		Kind:       KindItemList,
		Family:     family.Item,
		Title:      attrs["title"],
		Attributes: attrs,
		Items:      items,
	}, true
}

// scanBareItems gathers item blocks found outside any claimed span into
// default-titled list sections, one per family.
func scanBareItems(text string, claimed []span) []span {
	var found []span
	for _, family := range families {
		for _, g := range gaps(text, append(append([]span{}, claimed...), found...)) {
			region := text[g[0]:g[1]]
			blocks := splitItems(region, family.Item)
			if len(blocks) == 0 {
				continue
			}
			items := itemsFromBlocks(blocks, family)
			first := openPatterns[family.Item].FindStringIndex(region)
			sp := span{start: g[0] + first[0], end: g[0] + blocks[len(blocks)-1].end, name: family.Section}
			if len(items) > 0 {
				sp.section = &Section{
					Kind:       KindItemList,
					Family:     family.Item,
					Title:      family.DefaultTitle,
					Attributes: map[string]string{"title": family.DefaultTitle},
					Items:      items,
				}
			}
			found = append(found, sp)
		}
	}
	return found
}

// gaps returns the regions of text not covered by any span
func gaps(text string, spans []span) [][2]int {
	sorted := append([]span{}, spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var out [][2]int
	cursor := 0
	for _, sp := range sorted {
		if sp.start > cursor {
			out = append(out, [2]int{cursor, sp.start})
		}
		if sp.end > cursor {
			cursor = sp.end
		}
	}
	if cursor < len(text) {
		out = append(out, [2]int{cursor, len(text)})
	}
	return out
}

// splitItems finds every item opening in document order. A block ends at its
// own closing tag when that comes before the next opening, otherwise at the next
// opening or the end of the buffer.
func splitItems(body, item string) []itemBlock {
	opens := openPatterns[item].FindAllStringIndex(body, -1)
	blocks := make([]itemBlock, 0, len(opens))
	for i, o := range opens {
		limit := len(body)
		if i+1 < len(opens) {
			limit = opens[i+1][0]
		}
		innerEnd, end := limit, limit
		if c := closePatterns[item].FindStringIndex(body[o[1]:limit]); c != nil {
			innerEnd, end = o[1]+c[0], o[1]+c[1]
		}
		blocks = append(blocks, itemBlock{inner: body[o[1]:innerEnd], end: end})
	}
	return blocks
}

func extractItems(body string, family Family) []Item {
	return itemsFromBlocks(splitItems(body, family.Item), family)
}

func itemsFromBlocks(blocks []itemBlock, family Family) []Item {
	items := make([]Item, 0, len(blocks))
	for _, block := range blocks {
		if item, ok := extractItem(block.inner, family); ok {
			items = append(items, item)
		}
	}
	return items
}

func extractItem(block string, family Family) (Item, bool) {
	props := make(map[string]string)
	for _, p := range family.Properties {
		if v, ok := extractProperty(block, p, family); ok {
			props[p] = v
		}
	}

	if props["name"] == "" {
		for _, alias := range family.NameAliases {
			if v, ok := extractProperty(block, alias, family); ok {
				props["name"] = v
				break
			}
		}
	}
	if props["name"] == "" {
		if v := firstLine(block); v != "" {
			props["name"] = v
		}
	}
	if props["name"] == "" {
		return Item{}, false
	}

	for _, p := range []string{"link", "image"} {
		if v, ok := props[p]; ok {
			props[p] = NormalizeLink(v)
		}
	}
	return Item{Properties: props}, true
}

// extractProperty reads one property. A closing tag counts only if it comes
// before the next property opening; otherwise the value runs to the next tag.
func extractProperty(block, tag string, family Family) (string, bool) {
	loc := openPatterns[tag].FindStringIndex(block)
	if loc == nil {
		return "", false
	}
	rest := block[loc[1]:]

	limit := len(rest)
	if next := propertyOpenings[family.Item].FindStringIndex(rest); next != nil {
		limit = next[0]
	}

	var raw string
	if c := closePatterns[tag].FindStringIndex(rest[:limit]); c != nil {
		raw = rest[:c[0]]
	} else if i := strings.IndexByte(rest, '<'); i >= 0 {
		raw = rest[:i]
	} else {
		raw = rest
	}

	v := cleanValue(raw)
	return v, v != ""
}

// firstLine is the last-resort name: untagged text leading the block
func firstLine(block string) string {
	s := strings.TrimLeft(block, " \t\r\n")
	if i := strings.IndexAny(s, "<\n"); i >= 0 {
		s = s[:i]
	}
	return cleanValue(s)
}

func parseAttributes(raw string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attributePattern.FindAllStringSubmatch(raw, -1) {
		value := m[2]
		if value == "" {
			value = m[3]
		}
		if value == "" {
			value = m[4]
		}
		attrs[strings.ToLower(m[1])] = strings.TrimSpace(html.UnescapeString(value))
	}
	return attrs
}
