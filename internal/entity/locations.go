package entity

import "strings"

// places maps country, capital and demonym spellings to a region id.
// "us" is left out; it collides with the pronoun.
var places = map[string]string{
	// Major powers
	"united states": "united_states", "usa": "united_states", "u.s.": "united_states", "america": "united_states", "american": "united_states", "washington": "united_states",
	"china": "china", "chinese": "china", "beijing": "china",
	"russia": "russia", "russian": "russia", "moscow": "russia", "kremlin": "russia",
	"united kingdom": "united_kingdom", "uk": "united_kingdom", "britain": "united_kingdom", "british": "united_kingdom", "england": "united_kingdom", "london": "united_kingdom",
	"germany": "germany", "german": "germany", "berlin": "germany",
	"france": "france", "french": "france", "paris": "france",
	"japan": "japan", "japanese": "japan", "tokyo": "japan",
	"india": "india", "indian": "india", "new delhi": "india",

	// Conflict zones
	"ukraine": "ukraine", "ukrainian": "ukraine", "kyiv": "ukraine", "kiev": "ukraine",
	"israel": "israel", "israeli": "israel", "tel aviv": "israel", "jerusalem": "israel",
	"gaza": "palestine", "west bank": "palestine", "palestinian": "palestine",
	"iran": "iran", "iranian": "iran", "tehran": "iran",
	"north korea": "north_korea", "pyongyang": "north_korea",
	"south korea": "south_korea", "seoul": "south_korea",
	"taiwan": "taiwan", "taipei": "taiwan",
	"syria": "syria", "syrian": "syria", "damascus": "syria",
	"afghanistan": "afghanistan", "kabul": "afghanistan",
	"iraq": "iraq", "iraqi": "iraq", "baghdad": "iraq",
	"sudan": "sudan", "khartoum": "sudan",
	"yemen":   "yemen",
	"lebanon": "lebanon", "beirut": "lebanon",

	// Other frequent datelines
	"canada": "canada", "canadian": "canada", "ottawa": "canada",
	"australia": "australia", "australian": "australia", "sydney": "australia",
	"brazil": "brazil", "brazilian": "brazil",
	"mexico": "mexico", "mexican": "mexico", "mexico city": "mexico",
	"italy": "italy", "italian": "italy", "rome": "italy",
	"spain": "spain", "spanish": "spain", "madrid": "spain",
	"turkey": "turkey", "turkish": "turkey", "ankara": "turkey", "istanbul": "turkey",
	"saudi arabia": "saudi_arabia", "riyadh": "saudi_arabia",
	"egypt": "egypt", "egyptian": "egypt", "cairo": "egypt",
	"south africa": "south_africa",
	"nigeria":      "nigeria", "nigerian": "nigeria",
	"indonesia": "indonesia", "jakarta": "indonesia",
	"philippines": "philippines", "manila": "philippines",
	"pakistan": "pakistan", "pakistani": "pakistan", "islamabad": "pakistan",
	"argentina": "argentina", "buenos aires": "argentina",
	"chile": "chile", "chilean": "chile", "santiago": "chile",
	"peru": "peru", "lima": "peru",
	"colombia": "colombia", "colombian": "colombia", "bogota": "colombia",
	"venezuela": "venezuela", "caracas": "venezuela",
	"haiti":       "haiti",
	"new zealand": "new_zealand",

	// Blocs
	"european union": "european_union", "eu": "european_union", "brussels": "european_union",
	"nato":           "nato",
	"united nations": "united_nations", "u.n.": "united_nations",
}

// placeWords holds every single-word key so the noun pass can skip them.
var placeWords = func() map[string]bool {
	m := make(map[string]bool)
	for k := range places {
		for _, w := range strings.Fields(k) {
			m[w] = true
		}
	}
	return m
}()

// extractPlaces finds place mentions in lower-cased text.
func extractPlaces(lower string) []string {
	var out []string
	for name, id := range places {
		if containsWord(lower, name) {
			out = append(out, KindLoc+":"+id)
		}
	}
	return out
}

// placeToken maps a location field to a loc token, falling back to the
// field itself when it is not in the table.
func placeToken(field string) string {
	key := strings.Join(strings.Fields(strings.ToLower(field)), " ")
	if key == "" {
		return ""
	}
	if id, ok := places[key]; ok {
		return KindLoc + ":" + id
	}
	return KindLoc + ":" + strings.ReplaceAll(key, " ", "_")
}

// containsWord checks if text contains word as a whole word (not substring)
func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	if idx < 0 {
		return false
	}

	if idx > 0 && isAlphaNum(text[idx-1]) {
		return containsWord(text[idx+len(word):], word)
	}

	end := idx + len(word)
	if end < len(text) && isAlphaNum(text[end]) {
		return containsWord(text[end:], word)
	}

	return true
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
