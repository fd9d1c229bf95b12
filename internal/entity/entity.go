// Package entity turns a fact sentence into a set of comparable tokens.
//
// Tokens have the form "kind:value" where kind is one of loc, num, name or
// noun. Extraction is pure: the same text, location and alias table version
// always give the same sorted token set.
package entity

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/abelbrown/jtfnews/internal/model"
)

// Entity kinds.
const (
	KindLoc  = "loc"
	KindNum  = "num"
	KindName = "name"
	KindNoun = "noun"
)

// Kind returns the kind prefix of a token, or "" when it has none.
func Kind(token string) string {
	kind, _, ok := strings.Cut(token, ":")
	if !ok {
		return ""
	}
	return kind
}

var numberRegex = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// titles are dropped from the front of a name run.
var titles = map[string]bool{
	"president": true, "vice": true, "senator": true, "sen": true, "rep": true,
	"representative": true, "governor": true, "gov": true, "mayor": true,
	"prime": true, "minister": true, "secretary": true, "chancellor": true,
	"king": true, "queen": true, "prince": true, "pope": true, "general": true,
	"gen": true, "judge": true, "justice": true, "chief": true, "ceo": true,
	"mr": true, "mrs": true, "ms": true, "dr": true, "former": true,
}

var stopwords = map[string]bool{
	"about": true, "according": true, "after": true, "against": true, "also": true,
	"amid": true, "been": true, "before": true, "being": true, "between": true,
	"could": true, "during": true, "each": true, "from": true, "have": true,
	"into": true, "more": true, "most": true, "near": true, "officials": true,
	"other": true, "over": true, "reported": true, "reports": true, "said": true,
	"says": true, "some": true, "such": true, "than": true, "that": true,
	"their": true, "them": true, "then": true, "there": true, "these": true,
	"they": true, "this": true, "those": true, "through": true, "under": true,
	"until": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "while": true, "will": true, "with": true, "would": true,
	"year": true, "years": true, "today": true, "yesterday": true,
}

// Extractor produces entity sets using a fixed alias table.
type Extractor struct {
	aliases *AliasTable
}

// NewExtractor creates an extractor. A nil table uses DefaultAliases.
func NewExtractor(aliases *AliasTable) *Extractor {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	return &Extractor{aliases: aliases}
}

// AliasVersion reports the alias table version in use.
func (x *Extractor) AliasVersion() string {
	return x.aliases.Version
}

// Extract returns the sorted, de-duplicated entity set for a fact sentence.
// Location fields and adapter-supplied entities are folded into the same set.
func (x *Extractor) Extract(text string, loc model.Location, supplied []string) []string {
	set := make(map[string]bool)
	add := func(tok string) {
		if tok != "" {
			set[tok] = true
		}
	}

	lower := strings.ToLower(text)
	for _, tok := range extractPlaces(lower) {
		add(tok)
	}
	for _, f := range []string{loc.City, loc.State, loc.Country} {
		add(placeToken(f))
	}

	for _, n := range numberRegex.FindAllString(text, -1) {
		add(KindNum + ":" + strings.ReplaceAll(n, ",", ""))
	}

	names, rest := x.splitNames(text)
	for _, n := range names {
		add(n)
	}
	for _, w := range rest {
		if len(w) >= 4 && !stopwords[w] && !titles[w] && !placeWords[w] && !isNumeric(w) {
			add(KindNoun + ":" + w)
		}
	}

	for _, s := range supplied {
		add(x.Normalize(s))
	}

	out := make([]string, 0, len(set))
	for tok := range set {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// ExtractFact is Extract applied to a fact's own fields.
func (x *Extractor) ExtractFact(f model.HeadlineFact) []string {
	return x.Extract(f.FactText, f.Location, f.Entities)
}

// Normalize maps a single adapter-supplied entity onto a token. Values that
// already carry a known kind prefix are lower-cased and alias-resolved.
func (x *Extractor) Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if kind, val, ok := strings.Cut(raw, ":"); ok {
		val = strings.Join(strings.Fields(strings.ToLower(val)), " ")
		if val == "" {
			return ""
		}
		switch kind {
		case KindLoc:
			return placeToken(val)
		case KindNum:
			return KindNum + ":" + strings.ReplaceAll(val, ",", "")
		case KindName:
			return KindName + ":" + underscore(x.aliases.Resolve(stripTitles(val)))
		case KindNoun:
			return KindNoun + ":" + underscore(val)
		}
	}

	lower := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	if id, ok := places[lower]; ok {
		return KindLoc + ":" + id
	}
	if n := strings.ReplaceAll(lower, ",", ""); isNumeric(n) {
		return KindNum + ":" + n
	}
	return KindName + ":" + underscore(x.aliases.Resolve(stripTitles(lower)))
}

// splitNames walks the sentence and separates capitalized, non-initial word
// runs (names) from the remaining lower-cased words.
func (x *Extractor) splitNames(text string) (names []string, rest []string) {
	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		phrase := strings.Join(run, " ")
		run = run[:0]
		if _, isPlace := places[phrase]; isPlace {
			return
		}
		if resolved, ok := x.aliases.lookup(phrase); ok {
			names = append(names, KindName+":"+underscore(resolved))
			return
		}
		stripped := stripTitles(phrase)
		if stripped == "" {
			return
		}
		if _, isPlace := places[stripped]; isPlace {
			return
		}
		names = append(names, KindName+":"+underscore(x.aliases.Resolve(stripped)))
	}

	sentenceStart := true
	for _, raw := range strings.Fields(text) {
		word := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-'
		})
		word = strings.TrimRight(word, ".")
		word = strings.TrimSuffix(strings.TrimSuffix(word, "'s"), "\u2019s")
		tail := strings.TrimRight(raw, "\"')\u201d\u2019")
		endsSentence := tail != "" && strings.ContainsAny(tail[len(tail)-1:], ".!?")

		if word == "" {
			flush()
			sentenceStart = endsSentence || sentenceStart
			continue
		}

		lw := strings.ToLower(word)
		if titles[lw] || len(lw) == 1 {
			endsSentence = false // "Dr." or an initial
		}
		capital := unicode.IsUpper([]rune(word)[0])
		known := x.aliases.Known(lw)

		if capital && (!sentenceStart || known) {
			run = append(run, lw)
		} else {
			flush()
			rest = append(rest, lw)
		}
		if endsSentence || strings.HasSuffix(raw, ",") || strings.HasSuffix(raw, ";") {
			flush()
		}
		sentenceStart = endsSentence
	}
	flush()
	return names, rest
}

func stripTitles(phrase string) string {
	words := strings.Fields(phrase)
	for len(words) > 0 && titles[strings.TrimRight(words[0], ".")] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func underscore(s string) string {
	return strings.ReplaceAll(s, " ", "_")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}
