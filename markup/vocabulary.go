// Package markup repairs and interprets the tagged answer markup produced by the
// generation service. Balance makes a possibly truncated buffer structurally valid,
// Extract turns it into sections and items, and Render writes sections back out.
//
// The vocabulary is small and closed: free text sections (intro, tip) and list
// sections (shops, restaurants, events, services) holding repeated item blocks.
package markup

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies how a section is presented
type Kind int

const (
	KindFreeText Kind = iota
	KindIntro
	KindTip
	KindItemList
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindIntro:
		return "intro"
	case KindTip:
		return "tip"
	case KindItemList:
		return "itemList"
	default:
		return "freeText"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "freeText":
		*k = KindFreeText
	case "intro":
		*k = KindIntro
	case "tip":
		*k = KindTip
	case "itemList":
		*k = KindItemList
	default:
		return fmt.Errorf("unknown section kind %q", text)
	}
	return nil
}

// Family describes one list section and the item blocks it holds
type Family struct {
	Section      string
	Item         string
	DefaultTitle string
	Properties   []string
	NameAliases  []string
}

var families = []Family{
	{
		Section:      "shops",
		Item:         "shop",
		DefaultTitle: "Shops",
		Properties:   []string{"name", "category", "floor", "image", "description", "opening", "link"},
		NameAliases:  []string{"n"},
	},
	{
		Section:      "restaurants",
		Item:         "restaurant",
		DefaultTitle: "Restaurants",
		Properties:   []string{"name", "category", "floor", "image", "description", "opening", "link"},
		NameAliases:  []string{"n"},
	},
	{
		Section:      "events",
		Item:         "event",
		DefaultTitle: "Events",
		Properties:   []string{"name", "date", "time", "location", "image", "description", "link"},
		NameAliases:  []string{"n", "title"},
	},
	{
		Section:      "services",
		Item:         "service",
		DefaultTitle: "Services",
		Properties:   []string{"name", "category", "floor", "description", "opening", "link"},
		NameAliases:  []string{"n"},
	},
}

var freeSections = map[string]Kind{
	"intro": KindIntro,
	"tip":   KindTip,
}

// Families returns the list section families in their canonical order
func Families() []Family {
	out := make([]Family, len(families))
	copy(out, families)
	return out
}

// FamilyByItem looks up a family by its item tag
func FamilyByItem(item string) (Family, bool) {
	for _, f := range families {
		if f.Item == item {
			return f, true
		}
	}
	return Family{}, false
}

func familyBySection(section string) (Family, bool) {
	for _, f := range families {
		if f.Section == section {
			return f, true
		}
	}
	return Family{}, false
}

// sectionTags is every tag whose closing tag ends a block worth separating
func sectionTags() []string {
	tags := []string{"intro", "tip"}
	for _, f := range families {
		tags = append(tags, f.Section, f.Item)
	}
	return tags
}

func topLevelTags() []string {
	tags := []string{"intro", "tip"}
	for _, f := range families {
		tags = append(tags, f.Section)
	}
	return tags
}

var (
	sectionCloseSeparator = regexp.MustCompile(`(?i)</(?:` + strings.Join(sectionTags(), "|") + `)\s*>`)
	sectionOpenPattern    = regexp.MustCompile(`(?i)<(` + strings.Join(topLevelTags(), "|") + `)((?:\s[^<>]*)?)>`)
	attributePattern      = regexp.MustCompile(`([A-Za-z_][\w-]*)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'>]+))`)

	openPatterns  = map[string]*regexp.Regexp{}
	closePatterns = map[string]*regexp.Regexp{}
	// propertyOpenings matches the opening of any property tag of a family
	propertyOpenings = map[string]*regexp.Regexp{}

	// vocabulary holds every section, item and property tag name
	vocabulary = map[string]bool{}
)

// knownTagPrefix reports whether name starts some vocabulary tag
func knownTagPrefix(name string) bool {
	for tag := range vocabulary {
		if strings.HasPrefix(tag, name) {
			return true
		}
	}
	return false
}

func init() {
	register := func(tag string) {
		if _, ok := openPatterns[tag]; ok {
			return
		}
		vocabulary[tag] = true
		openPatterns[tag] = regexp.MustCompile(`(?i)<` + tag + `(?:\s[^<>]*)?>`)
		closePatterns[tag] = regexp.MustCompile(`(?i)</` + tag + `\s*>`)
	}
	for _, tag := range topLevelTags() {
		register(tag)
	}
	for _, f := range families {
		register(f.Item)
		tags := append(append([]string{}, f.Properties...), f.NameAliases...)
		for _, p := range tags {
			register(p)
		}
		propertyOpenings[f.Item] = regexp.MustCompile(`(?i)<(?:` + strings.Join(tags, "|") + `)(?:\s[^<>]*)?>`)
	}
}
