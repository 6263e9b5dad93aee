// Package voice holds the synthesis voice model and the rules used to pick
// one voice for a language.
package voice

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// FallbackLang is used when neither the configured language nor its base
// language has a voice.
const FallbackLang = "en-US"

// Voice is one entry of a synthesizer's catalog.
type Voice struct {
	Name         string `json:"name" yaml:"name"`
	Lang         string `json:"lang" yaml:"lang"`
	LocalService bool   `json:"local_service" yaml:"local_service"`
}

// Info is the public projection of a voice.
type Info struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Preferences drive Select.
type Preferences struct {
	Lang         string
	LocalService bool
	Voice        string
}

// SortCatalog returns a copy of voices ordered with plain names (no
// parenthetical qualifier) first, each group in locale collation order.
// Qualified names are usually the synthetic sounding variants.
func SortCatalog(voices []Voice) []Voice {
	sorted := append([]Voice(nil), voices...)
	c := collate.New(language.Und)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := plainName(sorted[i].Name), plainName(sorted[j].Name)
		if pi != pj {
			return pi
		}
		return c.CompareString(sorted[i].Name, sorted[j].Name) < 0
	})
	return sorted
}

func plainName(name string) bool {
	return name != "" && !strings.Contains(name, "(")
}

// OrderByLocalService returns a copy of voices where entries whose
// LocalService flag equals preferLocal come first. Relative order is kept.
func OrderByLocalService(voices []Voice, preferLocal bool) []Voice {
	ordered := append([]Voice(nil), voices...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LocalService == preferLocal && ordered[j].LocalService != preferLocal
	})
	return ordered
}

// Select picks a voice for the preferences. The candidate set is, in order
// of preference: voices of the exact language, voices sharing the base
// language (only when the language carries a region), FallbackLang voices.
// A candidate named p.Voice wins over the first candidate.
func Select(catalog []Voice, p Preferences) (Voice, bool) {
	ordered := OrderByLocalService(catalog, p.LocalService)

	candidates := filter(ordered, func(v Voice) bool { return v.Lang == p.Lang })
	if len(candidates) == 0 && strings.Contains(p.Lang, "-") {
		base := BaseLanguage(p.Lang)
		candidates = filter(ordered, func(v Voice) bool { return BaseLanguage(v.Lang) == base })
	}
	if len(candidates) == 0 {
		candidates = filter(ordered, func(v Voice) bool { return v.Lang == FallbackLang })
	}
	if len(candidates) == 0 {
		return Voice{}, false
	}
	for _, v := range candidates {
		if v.Name == p.Voice {
			return v, true
		}
	}
	return candidates[0], true
}

func filter(voices []Voice, keep func(Voice) bool) []Voice {
	var out []Voice
	for _, v := range voices {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// Infos projects voices to name/lang pairs.
func Infos(voices []Voice) []Info {
	out := make([]Info, 0, len(voices))
	for _, v := range voices {
		out = append(out, Info{Name: v.Name, Lang: v.Lang})
	}
	return out
}

// GroupByLang maps each language to the names of its voices in catalog order.
func GroupByLang(voices []Voice) map[string][]string {
	out := make(map[string][]string)
	for _, v := range voices {
		out[v.Lang] = append(out[v.Lang], v.Name)
	}
	return out
}
