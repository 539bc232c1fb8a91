package render

import (
	"strings"

	"chat-relay/markup"

	"github.com/charmbracelet/lipgloss"
)

// Template draws one section of a given kind
type Template interface {
	Render(sec markup.Section) string
}

// TemplateFunc adapts a function to the Template interface
type TemplateFunc func(sec markup.Section) string

// Render calls f(sec)
func (f TemplateFunc) Render(sec markup.Section) string {
	return f(sec)
}

var (
	introStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	tipStyle   = lipgloss.NewStyle().Italic(true).MarginTop(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	nameStyle  = lipgloss.NewStyle().Bold(true)
	cardStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var propertyLabels = map[string]string{
	"category":    "Category",
	"floor":       "Floor",
	"image":       "Image",
	"description": "About",
	"opening":     "Open",
	"link":        "Link",
	"date":        "Date",
	"time":        "Time",
	"location":    "Where",
}

// DefaultTemplates returns the built-in template for every section kind
func DefaultTemplates() map[markup.Kind]Template {
	return map[markup.Kind]Template{
		markup.KindFreeText: TemplateFunc(freeText),
		markup.KindIntro:    TemplateFunc(intro),
		markup.KindTip:      TemplateFunc(tip),
		markup.KindItemList: TemplateFunc(itemList),
	}
}

func freeText(sec markup.Section) string {
	return sec.Body
}

func intro(sec markup.Section) string {
	return introStyle.Render(sec.Body)
}

func tip(sec markup.Section) string {
	return tipStyle.Render("Tip: " + sec.Body)
}

func itemList(sec markup.Section) string {
	family, _ := markup.FamilyByItem(sec.Family)

	blocks := make([]string, 0, len(sec.Items)+1)
	if sec.Title != "" {
		blocks = append(blocks, titleStyle.Render(sec.Title))
	}
	for _, item := range sec.Items {
		blocks = append(blocks, card(item, family))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func card(item markup.Item, family markup.Family) string {
	lines := []string{nameStyle.Render(item.Name())}
	for _, p := range family.Properties {
		v, ok := item.Properties[p]
		if p == "name" || !ok {
			continue
		}
		lines = append(lines, propertyLabels[p]+": "+v)
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}
