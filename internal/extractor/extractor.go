// Package extractor parses album documents into ordered credit records.
//
// Parsing is heuristic. Two passes run over the document: an album-level pass
// over credit sections outside any track, then a per-track pass over the
// sections nested in each track row, with a "Produced by" text fallback when a
// track carries no structured credits. Results are concatenated album-level
// first and deduplicated on the full (subject, contributor, handle) triple.
package extractor

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// Defaults for Config fields left zero.
const (
	DefaultSubjectMaxLen = 40
	AlbumSubject         = "Album"
	UnknownHandle        = "unknown"
)

// DefaultRoleKeywords select producer credit sections.
var DefaultRoleKeywords = []string{"producer", "produced", "production"}

const (
	sectionSelector = ".metadata_unit, .credit, [data-credit-role]"
	labelSelector   = ".metadata_unit-label, .credit-label, dt, h4"
	subjectSelector = ".chart_row, .track, [data-track]"
	titleSelector   = ".chart_row-content-title, .track-title, h3"
)

var (
	producedBy    = regexp.MustCompile(`(?i)produced by[ \t\x{00A0}]+([^\n]+)`)
	nameSplitter  = regexp.MustCompile(`(?i)\s*(?:,|&|\band\b)\s*`)
	lyricsSuffix  = regexp.MustCompile(`(?i)\s*lyrics\s*$`)
	collapseSpace = regexp.MustCompile(`\s+`)
)

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true, "dl": true, "dt": true, "dd": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "table": true, "tr": true, "td": true, "th": true,
}

var abbreviations = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "jr": true, "sr": true,
	"st": true, "mt": true, "ft": true, "feat": true, "vs": true, "prod": true,
}

// Config tunes extraction.
type Config struct {
	SubjectMaxLen int
	RoleKeywords  []string
}

// Extractor implements scraper.Extractor.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

var _ scraper.Extractor = (*Extractor)(nil)

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.SubjectMaxLen <= 0 {
		cfg.SubjectMaxLen = DefaultSubjectMaxLen
	}
	if len(cfg.RoleKeywords) == 0 {
		cfg.RoleKeywords = DefaultRoleKeywords
	}
	cfg.RoleKeywords = lo.Map(cfg.RoleKeywords, func(k string, _ int) string {
		return strings.ToLower(strings.TrimSpace(k))
	})
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger.Named("extractor")}
}

// Extract never fails; an unparseable document yields no records.
func (e *Extractor) Extract(doc scraper.Document) []scraper.CreditRecord {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Content))
	if err != nil {
		e.logger.Warn("document unparseable", zap.String("url", doc.SourceURL), zap.Error(err))
		return nil
	}

	albumLevel := e.albumPass(root)
	perSubject := e.subjectPass(root)
	records := dedupe(append(albumLevel, perSubject...))

	e.logger.Debug("extracted credits",
		zap.String("url", doc.SourceURL),
		zap.Int("album_level", len(albumLevel)),
		zap.Int("per_subject", len(perSubject)),
		zap.Int("records", len(records)),
	)
	return records
}

func (e *Extractor) albumPass(root *goquery.Document) []scraper.CreditRecord {
	subject := AlbumSubject
	if title := cleanText(root.Find("h1").First().Text()); title != "" {
		subject = e.truncate(title)
	}

	var records []scraper.CreditRecord
	root.Find(sectionSelector).Each(func(_ int, section *goquery.Selection) {
		if section.ParentsFiltered(subjectSelector).Length() > 0 {
			return
		}
		records = append(records, e.sectionRecords(subject, section)...)
	})
	return records
}

func (e *Extractor) subjectPass(root *goquery.Document) []scraper.CreditRecord {
	var records []scraper.CreditRecord
	root.Find(subjectSelector).Each(func(_ int, entry *goquery.Selection) {
		subject := e.subjectTitle(entry)
		if subject == "" {
			return
		}

		var structured []scraper.CreditRecord
		entry.Find(sectionSelector).Each(func(_ int, section *goquery.Selection) {
			structured = append(structured, e.sectionRecords(subject, section)...)
		})
		if len(structured) == 0 {
			structured = fallbackRecords(subject, blockText(entry))
		}
		records = append(records, structured...)
	})
	return records
}

// sectionRecords returns one record per linked name in a section whose label
// matches a role keyword. Sections without links fall back to their value text.
func (e *Extractor) sectionRecords(subject string, section *goquery.Selection) []scraper.CreditRecord {
	label := section.Find(labelSelector).First()
	labelText := cleanText(label.Text())
	if labelText == "" {
		if role, ok := section.Attr("data-credit-role"); ok {
			labelText = role
		}
	}
	if !e.matchesRole(labelText) {
		return nil
	}

	var names []string
	section.Find("a").Each(func(_ int, a *goquery.Selection) {
		if name := cleanText(a.Text()); name != "" {
			names = append(names, name)
		}
	})
	if len(names) == 0 {
		value := cleanText(section.Text())
		if label.Length() > 0 {
			value = cleanText(strings.Replace(value, cleanText(label.Text()), "", 1))
		}
		names = splitNames(value)
	}

	return lo.Map(names, func(name string, _ int) scraper.CreditRecord {
		return NewRecord(subject, name)
	})
}

func (e *Extractor) subjectTitle(entry *goquery.Selection) string {
	title := entry.Find(titleSelector).First()
	if title.Length() == 0 {
		return ""
	}
	// Nested elements (feature lists, annotations) sit inside the title node on
	// some layouts; only the direct text nodes are the title proper.
	text := cleanText(title.Clone().Children().Remove().End().Text())
	if text == "" {
		text = cleanText(title.Text())
	}
	text = strings.TrimSpace(lyricsSuffix.ReplaceAllString(text, ""))
	if text == "" {
		return ""
	}
	return e.truncate(text)
}

func (e *Extractor) matchesRole(label string) bool {
	label = strings.ToLower(label)
	if label == "" {
		return false
	}
	return lo.SomeBy(e.cfg.RoleKeywords, func(k string) bool {
		return k != "" && strings.Contains(label, k)
	})
}

func (e *Extractor) truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= e.cfg.SubjectMaxLen {
		return s
	}
	return strings.TrimSpace(string(runes[:e.cfg.SubjectMaxLen]))
}

func fallbackRecords(subject, text string) []scraper.CreditRecord {
	var records []scraper.CreditRecord
	for _, m := range producedBy.FindAllStringSubmatch(text, -1) {
		for _, name := range splitNames(firstSentence(m[1])) {
			records = append(records, NewRecord(subject, name))
		}
	}
	return records
}

// blockText renders sel's text with a line break around every block-level
// element, so text from sibling blocks never runs together.
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, node *goquery.Selection) {
			name := goquery.NodeName(node)
			switch {
			case name == "#text":
				b.WriteString(node.Text())
			case name == "br":
				b.WriteByte('\n')
			case blockElements[name]:
				b.WriteByte('\n')
				walk(node)
				b.WriteByte('\n')
			default:
				walk(node)
			}
		})
	}
	walk(sel)
	return b.String()
}

// firstSentence cuts s at the first period that ends a sentence. Periods
// inside tokens ("1.2M") and after initials or common abbreviations
// ("Dr.", "J.") do not count.
func firstSentence(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] != '.' {
			continue
		}
		if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\t' {
			continue
		}
		word := s[strings.LastIndexAny(s[:i], " \t(")+1 : i]
		if utf8.RuneCountInString(word) <= 1 || abbreviations[strings.ToLower(word)] {
			continue
		}
		return s[:i]
	}
	return s
}

func splitNames(s string) []string {
	parts := nameSplitter.Split(s, -1)
	return lo.FilterMap(parts, func(p string, _ int) (string, bool) {
		p = cleanText(p)
		return p, p != ""
	})
}

// NewRecord builds a record with a derived handle.
func NewRecord(subject, contributor string) scraper.CreditRecord {
	return scraper.CreditRecord{
		Subject:     subject,
		Contributor: contributor,
		Handle:      DeriveHandle(contributor),
	}
}

// DeriveHandle guesses a lowercase alphanumeric handle from a display name.
// Letters and digits of any script are kept. The result is unverified; names
// shorter than three usable characters map to UnknownHandle.
func DeriveHandle(name string) string {
	handle := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, name)
	if utf8.RuneCountInString(handle) < 3 {
		return UnknownHandle
	}
	return handle
}

func dedupe(records []scraper.CreditRecord) []scraper.CreditRecord {
	return lo.Uniq(records)
}

func cleanText(s string) string {
	return strings.TrimSpace(collapseSpace.ReplaceAllString(s, " "))
}
