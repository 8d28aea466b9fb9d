package delta

import "strings"

// specKey identifies a (source, card_type) pair, lowercased, mirroring
// card_specs.py's _STREAM_SPECS key.
type specKey struct {
	source   string
	cardType string
}

// specs is the registry of streaming card specs: only user-facing
// markdown/text fields stream. Cards returning structured JSON are
// intentionally absent — streaming partial JSON makes for poor UX, so those
// cards complete non-streamed, exactly as in the source this mirrors.
var specs = map[specKey]Spec{
	{"scholar", "criticalreview"}: {Field: "evaluation", Format: "markdown", Sections: []string{"main"}, Route: "fixed", FlushChars: 60},
	{"github", "roast"}:           {Field: "roast", Format: "markdown", Sections: []string{"main"}, Route: "fixed"},
	{"linkedin", "roast"}:         {Field: "roast", Format: "markdown", Sections: []string{"main"}, Route: "fixed"},
	{"linkedin", "summary"}:       {Field: "about", Format: "markdown", Sections: []string{"main"}, Route: "fixed"},
}

// GetSpec returns the registered streaming Spec for (source, cardType), and
// false if the card does not stream (the executor should call the card's
// derivation rule directly and emit a single card.completed instead).
func GetSpec(source, cardType string) (Spec, bool) {
	key := specKey{strings.ToLower(strings.TrimSpace(source)), strings.ToLower(strings.TrimSpace(cardType))}
	spec, ok := specs[key]
	return spec, ok
}
