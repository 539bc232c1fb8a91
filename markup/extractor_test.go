package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCompleteList(t *testing.T) {
	in := `<shops title="Center"><shop><name>Shoe Store</name><floor>1</floor></shop></shops>`

	sections := Extract(Balance(in))

	require.Len(t, sections, 1)
	sec := sections[0]
	assert.Equal(t, KindItemList, sec.Kind)
	assert.Equal(t, "shop", sec.Family)
	assert.Equal(t, "Center", sec.Title)
	require.Len(t, sec.Items, 1)
	assert.Equal(t, map[string]string{"name": "Shoe Store", "floor": "1"}, sec.Items[0].Properties)
}

func TestExtractTruncatedSecondItem(t *testing.T) {
	in := `<shops title="Center"><shop><name>Shoe Store</name><floor>1</floor></shop><shop><name>Bakery`

	sections := Extract(Balance(in))

	require.Len(t, sections, 1)
	items := sections[0].Items
	require.Len(t, items, 2)
	assert.Equal(t, "Shoe Store", items[0].Name())
	assert.Equal(t, map[string]string{"name": "Bakery"}, items[1].Properties)
}

func TestExtractWithoutBalancing(t *testing.T) {
	// unclosed items and a truncated trailing tag, straight from the stream
	in := "<shops title=\"Mall\">\n<shop><name>A</name>\n<shop><name>B</name><floor>2\n<shop><na"

	sections := Extract(in)

	require.Len(t, sections, 1)
	items := sections[0].Items
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].Name())
	assert.Equal(t, "B", items[1].Name())
	assert.Equal(t, "2", items[1].Properties["floor"])
}

func TestExtractSectionsInOrder(t *testing.T) {
	in := `Welcome! <intro>Here are some places.</intro>` +
		`<restaurants title="Food"><restaurant><name>Pizza Place</name><category>Italian</category>` +
		`<opening>10-22</opening></restaurant></restaurants>` +
		`<events title="Soon"><event><title>Jazz Night</title><date>2026-05-01</date><location>Atrium</location></event></events>` +
		`<tip>Park on level 2.</tip>`

	sections := Extract(Balance(in))

	require.Len(t, sections, 5)
	assert.Equal(t, Section{Kind: KindFreeText, Body: "Welcome!"}, sections[0])
	assert.Equal(t, Section{Kind: KindIntro, Body: "Here are some places."}, sections[1])

	assert.Equal(t, KindItemList, sections[2].Kind)
	assert.Equal(t, "restaurant", sections[2].Family)
	assert.Equal(t, "Food", sections[2].Title)
	assert.Equal(t, map[string]string{"name": "Pizza Place", "category": "Italian", "opening": "10-22"}, sections[2].Items[0].Properties)

	assert.Equal(t, "event", sections[3].Family)
	assert.Equal(t, "Jazz Night", sections[3].Items[0].Name())
	assert.Equal(t, "Atrium", sections[3].Items[0].Properties["location"])

	assert.Equal(t, Section{Kind: KindTip, Body: "Park on level 2."}, sections[4])
}

func TestExtractNameAlias(t *testing.T) {
	sections := Extract(Balance(`<shops title="x"><shop><n>Quick Shop</n><floor>3</floor></shop></shops>`))

	require.Len(t, sections, 1)
	assert.Equal(t, "Quick Shop", sections[0].Items[0].Name())
	assert.NotContains(t, sections[0].Items[0].Properties, "n")
}

func TestExtractFirstLineNameFallback(t *testing.T) {
	sections := Extract("<shops title=\"x\"><shop>Corner Kiosk\n<floor>0</floor></shop></shops>")

	require.Len(t, sections, 1)
	assert.Equal(t, "Corner Kiosk", sections[0].Items[0].Name())
	assert.Equal(t, "0", sections[0].Items[0].Properties["floor"])
}

func TestExtractDropsNamelessItems(t *testing.T) {
	sections := Extract(Balance(`<shops title="x"><shop><floor>1</floor></shop><shop><name>Named</name></shop></shops>`))

	require.Len(t, sections, 1)
	require.Len(t, sections[0].Items, 1)
	assert.Equal(t, "Named", sections[0].Items[0].Name())
}

func TestExtractOmitsEmptyListSection(t *testing.T) {
	sections := Extract(Balance(`<intro>Nothing matched.</intro><shops title="x"><shop><floor>1</floor></shop></shops>`))

	require.Len(t, sections, 1)
	assert.Equal(t, KindIntro, sections[0].Kind)
}

func TestExtractBareItemsFallback(t *testing.T) {
	in := `<intro>Try these</intro><shop><name>One</name></shop><shop><name>Two</name></shop>`

	sections := Extract(Balance(in))

	require.Len(t, sections, 2)
	assert.Equal(t, KindIntro, sections[0].Kind)
	list := sections[1]
	assert.Equal(t, KindItemList, list.Kind)
	assert.Equal(t, "Shops", list.Title)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "Two", list.Items[1].Name())
}

func TestExtractUnstructuredDegradesToFreeText(t *testing.T) {
	sections := Extract(Balance("Sorry, <b>I</b> could not find anything.\n"))

	require.Len(t, sections, 1)
	assert.Equal(t, Section{Kind: KindFreeText, Body: "Sorry, I could not find anything."}, sections[0])
}

func TestExtractEmptyInput(t *testing.T) {
	assert.Empty(t, Extract(""))
	assert.Empty(t, Extract(Balance("   ")))
}

func TestExtractNormalizesLinks(t *testing.T) {
	in := `<shops title="x"><shop><name>Web</name><link>www.example.com/shop</link><image>//cdn.example.com/a.png</image></shop></shops>`

	sections := Extract(Balance(in))

	require.Len(t, sections, 1)
	props := sections[0].Items[0].Properties
	assert.Equal(t, "https://www.example.com/shop", props["link"])
	assert.Equal(t, "https://cdn.example.com/a.png", props["image"])
}

func TestExtractUnclosedPropertyStopsAtNextProperty(t *testing.T) {
	in := `<shops title="x"><shop><name>Bakery<floor>2</floor><description>Fresh <b>bread</b> daily</description></shop></shops>`

	sections := Extract(Balance(in))

	require.Len(t, sections, 1)
	props := sections[0].Items[0].Properties
	assert.Equal(t, "Bakery", props["name"])
	assert.Equal(t, "2", props["floor"])
	assert.Equal(t, "Fresh bread daily", props["description"])
}

func TestExtractAttributes(t *testing.T) {
	sections := Extract(Balance(`<events title='This &amp; That' layout=grid><event><name>X</name></event></events>`))

	require.Len(t, sections, 1)
	assert.Equal(t, "This & That", sections[0].Title)
	assert.Equal(t, map[string]string{"title": "This & That", "layout": "grid"}, sections[0].Attributes)
}

func TestExtractDecodesCharacterReferences(t *testing.T) {
	sections := Extract(Balance(`<shops><shop><name>A &amp; B</name><floor>1</floor></shop></shops><tip>Fish &amp; chips</tip>`))

	require.Len(t, sections, 2)
	assert.Equal(t, "A & B", sections[0].Items[0].Name())
	assert.Equal(t, "Fish & chips", sections[1].Body)
	assert.Contains(t, Render(sections), "<name>A &amp; B</name>")
}

func TestExtractJoinsFreeTextAroundOmittedSection(t *testing.T) {
	tests := []string{
		"Hello <intro></intro> world",
		"Hello <tip>  </tip> world",
		`Hello <shops title="X"><shop></shop></shops> world`,
	}
	for _, in := range tests {
		sections := Extract(Balance(in))
		require.Len(t, sections, 1, in)
		assert.Equal(t, KindFreeText, sections[0].Kind, in)
		assert.Equal(t, "Hello world", sections[0].Body, in)
	}
}

func TestExtractKeepsLessThanInProse(t *testing.T) {
	sections := Extract(Balance("If a<b holds then <intro>Welcome</intro> and more text"))

	require.Len(t, sections, 3)
	assert.Equal(t, "If a<b holds then", sections[0].Body)
	assert.Equal(t, "Welcome", sections[1].Body)
	assert.Equal(t, "and more text", sections[2].Body)
}

func TestExtractNeverPanics(t *testing.T) {
	inputs := []string{
		"<", "</", "<<>>", "<shops", "<shops>", "</shops>", "<shop>", "<intro>", "<tip></tip>",
		strings.Repeat("<shop>", 50), strings.Repeat("</shop>", 50), "<shops title=\"", "<n>",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			Extract(in)
			Extract(Balance(in))
		}, in)
	}
}
