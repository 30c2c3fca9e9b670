package fetcher

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"
)

var (
	slugDisallowed = regexp.MustCompile(`[^A-Za-z0-9-]`)
	byPattern      = regexp.MustCompile(`(?i)^(.+?)\s+by\s+(.+)$`)
	separators     = []string{" - ", " – ", " | "}
)

type pair struct {
	artist string
	album  string
}

// Candidates derives the ordered, deduplicated list of album URLs for a query.
// template receives the artist slug then the album slug. limit <= 0 means no cap.
func Candidates(query, template string, limit int) []string {
	var urls []string
	for _, p := range splitQuery(query) {
		for _, variant := range caseVariants(p) {
			artist := slugify(variant.artist)
			album := slugify(variant.album)
			if artist == "" || album == "" {
				continue
			}
			urls = append(urls, fmt.Sprintf(template, artist, album))
		}
	}
	urls = lo.Uniq(urls)
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	return urls
}

// splitQuery returns artist/album pairs in priority order. Explicit separators
// win; otherwise every split point is tried album-first then artist-first.
func splitQuery(query string) []pair {
	query = strings.Join(strings.Fields(query), " ")
	for _, sep := range separators {
		if left, right, ok := strings.Cut(query, sep); ok {
			return []pair{{artist: strings.TrimSpace(left), album: strings.TrimSpace(right)}}
		}
	}
	if m := byPattern.FindStringSubmatch(query); m != nil {
		return []pair{{artist: m[2], album: m[1]}}
	}

	tokens := strings.Fields(query)
	pairs := make([]pair, 0, 2*len(tokens))
	for i := 1; i < len(tokens); i++ {
		head := strings.Join(tokens[:i], " ")
		tail := strings.Join(tokens[i:], " ")
		pairs = append(pairs,
			pair{artist: tail, album: head},
			pair{artist: head, album: tail},
		)
	}
	return pairs
}

// caseVariants yields sentence, title, as-typed and lower case renditions.
func caseVariants(p pair) []pair {
	return []pair{
		{artist: sentenceCase(p.artist), album: sentenceCase(p.album)},
		{artist: titleCase(p.artist), album: titleCase(p.album)},
		p,
		{artist: strings.ToLower(p.artist), album: strings.ToLower(p.album)},
	}
}

func slugify(s string) string {
	s = strings.Join(strings.Fields(s), "-")
	return slugDisallowed.ReplaceAllString(s, "")
}

func sentenceCase(s string) string {
	return upperFirst(strings.ToLower(s))
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = upperFirst(w)
	}
	return strings.Join(words, " ")
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
