package entity

import "strings"

// AliasTable canonicalizes alternative spellings of the same person or body.
// Extraction output is only comparable between facts processed with the same
// Version.
type AliasTable struct {
	Version string
	aliases map[string]string
	known   map[string]bool
}

// NewAliasTable builds a table from alias -> canonical pairs. Keys and values
// are lower-cased and whitespace-collapsed.
func NewAliasTable(version string, pairs map[string]string) *AliasTable {
	t := &AliasTable{
		Version: version,
		aliases: make(map[string]string, len(pairs)),
		known:   make(map[string]bool),
	}
	for k, v := range pairs {
		t.Add(k, v)
	}
	return t
}

// Add registers one alias. Intended for startup use only.
func (t *AliasTable) Add(alias, canonical string) {
	a := collapse(alias)
	c := collapse(canonical)
	if a == "" || c == "" {
		return
	}
	t.aliases[a] = c
	for _, w := range strings.Fields(a + " " + c) {
		if !titles[w] && !stopwords[w] {
			t.known[w] = true
		}
	}
}

// Extend returns a copy with extra pairs added and a new version.
func (t *AliasTable) Extend(version string, pairs map[string]string) *AliasTable {
	merged := make(map[string]string, len(t.aliases)+len(pairs))
	for k, v := range t.aliases {
		merged[k] = v
	}
	for k, v := range pairs {
		merged[k] = v
	}
	return NewAliasTable(version, merged)
}

// Resolve returns the canonical form of name, or name itself.
func (t *AliasTable) Resolve(name string) string {
	if c, ok := t.lookup(name); ok {
		return c
	}
	return collapse(name)
}

// Known reports whether word is part of any alias or canonical name. Known
// words are treated as names even at the start of a sentence.
func (t *AliasTable) Known(word string) bool {
	return t.known[word]
}

func (t *AliasTable) lookup(name string) (string, bool) {
	c, ok := t.aliases[collapse(name)]
	return c, ok
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// DefaultAliases is the built-in table.
func DefaultAliases() *AliasTable {
	return NewAliasTable("2026.1", map[string]string{
		"president biden": "biden",
		"joe biden":       "biden",
		"joseph biden":    "biden",
		"president trump": "trump",
		"donald trump":    "trump",
		"donald j trump":  "trump",
		"president putin": "putin",
		"vladimir putin":  "putin",
		"president xi":    "xi",
		"xi jinping":      "xi",

		"president zelensky": "zelensky",
		"volodymyr zelensky": "zelensky",
		"zelenskyy":          "zelensky",

		"federal reserve":           "fed",
		"world health organization": "who",
	})
}
