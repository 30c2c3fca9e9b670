package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

const albumFixture = `<html><body>
<h1>Astroworld</h1>
<div class="metadata_unit">
  <span class="metadata_unit-label">Producers</span>
  <a href="/artists/Mike-dean">Mike Dean</a>, <a href="/artists/Wondagurl">WondaGurl</a>
</div>
<div class="metadata_unit">
  <span class="metadata_unit-label">Label</span>
  <a href="/artists/Cactus-jack">Cactus Jack</a>
</div>
<div class="chart_row">
  <h3 class="chart_row-content-title">STARGAZING <span class="subtitle">(feat. nobody)</span> Lyrics</h3>
  <div class="credit">
    <h4 class="credit-label">Produced by</h4>
    <a>Mike Dean</a>
    <a>Sonny Digital</a>
  </div>
</div>
<div class="chart_row">
  <h3 class="chart_row-content-title">CAROUSEL Lyrics</h3>
  <p>Produced by Hit-Boy, Tay Keith &amp; Frank Dukes and OZ.</p>
</div>
<div class="chart_row">
  <h3 class="chart_row-content-title">SICKO MODE Lyrics</h3>
  <p>Written by Travis Scott</p>
</div>
</body></html>`

func extract(t *testing.T, html string) []scraper.CreditRecord {
	t.Helper()
	return New(Config{}, nil).Extract(scraper.Document{SourceURL: "https://genius.com/albums/x/y", Content: []byte(html)})
}

func TestExtractAlbumAndTrackPasses(t *testing.T) {
	t.Parallel()

	got := extract(t, albumFixture)
	require.Equal(t, []scraper.CreditRecord{
		{Subject: "Astroworld", Contributor: "Mike Dean", Handle: "mikedean"},
		{Subject: "Astroworld", Contributor: "WondaGurl", Handle: "wondagurl"},
		{Subject: "STARGAZING", Contributor: "Mike Dean", Handle: "mikedean"},
		{Subject: "STARGAZING", Contributor: "Sonny Digital", Handle: "sonnydigital"},
		{Subject: "CAROUSEL", Contributor: "Hit-Boy", Handle: "hitboy"},
		{Subject: "CAROUSEL", Contributor: "Tay Keith", Handle: "taykeith"},
		{Subject: "CAROUSEL", Contributor: "Frank Dukes", Handle: "frankdukes"},
		{Subject: "CAROUSEL", Contributor: "OZ", Handle: UnknownHandle},
	}, got)
}

func TestExtractDeduplicatesExactTriples(t *testing.T) {
	t.Parallel()

	html := `<h1>Rodeo</h1>
<div class="metadata_unit"><span class="metadata_unit-label">Producer</span><a>Metro Boomin</a><a>Metro Boomin</a></div>
<div class="chart_row"><h3 class="chart_row-content-title">Oh My Dis Side</h3>
  <div class="credit"><h4 class="credit-label">Production</h4><a>Metro Boomin</a></div>
  <div class="credit"><h4 class="credit-label">Additional Production</h4><a>Metro Boomin</a></div>
</div>`
	got := extract(t, html)
	require.Equal(t, []scraper.CreditRecord{
		{Subject: "Rodeo", Contributor: "Metro Boomin", Handle: "metroboomin"},
		{Subject: "Oh My Dis Side", Contributor: "Metro Boomin", Handle: "metroboomin"},
	}, got)
}

func TestExtractDeduplicatesAcrossStructuredAndFallbackPasses(t *testing.T) {
	t.Parallel()

	html := `<h1>Rodeo</h1>
<div class="metadata_unit"><span class="metadata_unit-label">Producer</span><a>Metro Boomin</a></div>
<div class="chart_row"><h3 class="chart_row-content-title">Rodeo Lyrics</h3><p>Produced by Metro Boomin</p></div>`
	got := extract(t, html)
	require.Equal(t, []scraper.CreditRecord{
		{Subject: "Rodeo", Contributor: "Metro Boomin", Handle: "metroboomin"},
	}, got)
}

func TestExtractFallbackKeepsAbbreviatedNames(t *testing.T) {
	t.Parallel()

	html := `<div class="chart_row"><h3 class="chart_row-content-title">SWIMMING</h3>
<p>Produced by Dr. Dre and Scott Storch. Recorded in LA.</p></div>
<div class="chart_row"><h3 class="chart_row-content-title">4 Your Eyez Only</h3>
<p>Produced by J. Cole &amp; Ron Gilmore Jr.</p></div>`
	got := extract(t, html)
	require.Equal(t, []scraper.CreditRecord{
		{Subject: "SWIMMING", Contributor: "Dr. Dre", Handle: "drdre"},
		{Subject: "SWIMMING", Contributor: "Scott Storch", Handle: "scottstorch"},
		{Subject: "4 Your Eyez Only", Contributor: "J. Cole", Handle: "jcole"},
		{Subject: "4 Your Eyez Only", Contributor: "Ron Gilmore Jr.", Handle: "rongilmorejr"},
	}, got)
}

func TestExtractFallbackStopsAtElementBoundary(t *testing.T) {
	t.Parallel()

	html := `<div class="chart_row"><h3 class="chart_row-content-title">CAROUSEL</h3>` +
		`<p>Produced by Hit-Boy</p><span>1.2M views</span></div>` +
		`<div class="chart_row"><h3 class="chart_row-content-title">YOSEMITE</h3>` +
		`<p>Produced by Cubeatz<br>Mixed by Mike Dean</p></div>`
	got := extract(t, html)
	require.Equal(t, []scraper.CreditRecord{
		{Subject: "CAROUSEL", Contributor: "Hit-Boy", Handle: "hitboy"},
		{Subject: "YOSEMITE", Contributor: "Cubeatz", Handle: "cubeatz"},
	}, got)
}

func TestExtractSplitsNamesCaseInsensitively(t *testing.T) {
	t.Parallel()

	html := `<div class="chart_row"><h3 class="chart_row-content-title">Skyfall</h3><p>Produced by Metro Boomin AND Wheezy</p></div>`
	got := extract(t, html)
	require.Equal(t, []scraper.CreditRecord{
		{Subject: "Skyfall", Contributor: "Metro Boomin", Handle: "metroboomin"},
		{Subject: "Skyfall", Contributor: "Wheezy", Handle: "wheezy"},
	}, got)
}

func TestExtractTruncatesSubjects(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Ü", 50)
	html := `<div class="chart_row"><h3 class="chart_row-content-title">` + long + ` Lyrics</h3><p>Produced by Someone</p></div>`
	got := extract(t, html)
	require.Len(t, got, 1)
	require.Equal(t, strings.Repeat("Ü", DefaultSubjectMaxLen), got[0].Subject)
}

func TestExtractAlbumSubjectDefault(t *testing.T) {
	t.Parallel()

	html := `<div class="credit" data-credit-role="Executive Producer"><a>Kanye West</a></div>`
	got := extract(t, html)
	require.Equal(t, []scraper.CreditRecord{
		{Subject: AlbumSubject, Contributor: "Kanye West", Handle: "kanyewest"},
	}, got)
}

func TestExtractUnlinkedSectionValue(t *testing.T) {
	t.Parallel()

	html := `<h1>Birds</h1><dl class="credit"><dt>Producers</dt><dd>Mike Dean &amp; Allen Ritter</dd></dl>`
	got := extract(t, html)
	require.Equal(t, []scraper.CreditRecord{
		{Subject: "Birds", Contributor: "Mike Dean", Handle: "mikedean"},
		{Subject: "Birds", Contributor: "Allen Ritter", Handle: "allenritter"},
	}, got)
}

func TestExtractEmptyDocument(t *testing.T) {
	t.Parallel()

	require.Empty(t, extract(t, "<html><body><p>nothing to see</p></body></html>"))
	require.Empty(t, extract(t, ""))
}

func TestExtractCustomRoleKeywords(t *testing.T) {
	t.Parallel()

	ex := New(Config{RoleKeywords: []string{" Mixing "}}, nil)
	got := ex.Extract(scraper.Document{Content: []byte(
		`<h1>X</h1><div class="metadata_unit"><span class="metadata_unit-label">Mixing Engineer</span><a>Manny Marroquin</a></div>
<div class="metadata_unit"><span class="metadata_unit-label">Producers</span><a>Someone</a></div>`)})
	require.Equal(t, []scraper.CreditRecord{{Subject: "X", Contributor: "Manny Marroquin", Handle: "mannymarroquin"}}, got)
}

func TestDeriveHandle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{"Mike Dean", "mikedean"},
		{"!llmind", "llmind"},
		{"OZ", UnknownHandle},
		{"J.", UnknownHandle},
		{"", UnknownHandle},
		{"Beyoncé", "beyoncé"},
		{"Ólafur Arnalds", "ólafurarnalds"},
		{"88-Keys", "88keys"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, DeriveHandle(tt.name))
		})
	}
}
