package voice

import (
	"reflect"
	"testing"
)

func catalog() []Voice {
	return []Voice{
		{Name: "Amelie", Lang: "fr-CA", LocalService: true},
		{Name: "Google US English", Lang: "en-US", LocalService: false},
		{Name: "Samantha", Lang: "en-US", LocalService: true},
		{Name: "Anna", Lang: "de-DE", LocalService: true},
		{Name: "Google Deutsch", Lang: "de-DE", LocalService: false},
	}
}

func TestSortCatalogPrefersPlainNames(t *testing.T) {
	in := []Voice{
		{Name: "Microsoft Zira (en-US)"},
		{Name: "Samantha"},
		{Name: "Google UK English Female (Natural)"},
		{Name: "Alex"},
	}
	got := SortCatalog(in)
	want := []string{"Alex", "Samantha", "Google UK English Female (Natural)", "Microsoft Zira (en-US)"}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("position %d: expected %q, got %q (%v)", i, name, got[i].Name, got)
		}
	}
	if in[0].Name != "Microsoft Zira (en-US)" {
		t.Fatalf("input slice was reordered")
	}
}

func TestSelectExactLanguage(t *testing.T) {
	v, ok := Select(catalog(), Preferences{Lang: "de-DE", LocalService: true})
	if !ok || v.Name != "Anna" {
		t.Fatalf("expected Anna, got %+v ok=%v", v, ok)
	}
}

func TestSelectLocalServicePreference(t *testing.T) {
	v, ok := Select(catalog(), Preferences{Lang: "de-DE", LocalService: false})
	if !ok || v.Name != "Google Deutsch" {
		t.Fatalf("expected remote voice first, got %+v", v)
	}
}

func TestSelectBaseLanguageFallback(t *testing.T) {
	v, ok := Select(catalog(), Preferences{Lang: "fr-FR", LocalService: true})
	if !ok || v.Name != "Amelie" {
		t.Fatalf("expected fr-CA voice, got %+v ok=%v", v, ok)
	}
}

func TestSelectBaseFallbackNeedsRegion(t *testing.T) {
	v, ok := Select(catalog(), Preferences{Lang: "fr", LocalService: true})
	if !ok || v.Lang != FallbackLang {
		t.Fatalf("expected en-US fallback for bare language, got %+v", v)
	}
}

func TestSelectEnglishFallback(t *testing.T) {
	voices := []Voice{
		{Name: "Anna", Lang: "de-DE", LocalService: true},
		{Name: "Samantha", Lang: "en-US", LocalService: true},
	}
	v, ok := Select(voices, Preferences{Lang: "ja-JP", LocalService: true})
	if !ok || v.Name != "Samantha" {
		t.Fatalf("expected Samantha, got %+v ok=%v", v, ok)
	}
}

func TestSelectNamedVoiceWins(t *testing.T) {
	v, ok := Select(catalog(), Preferences{Lang: "en-US", LocalService: true, Voice: "Google US English"})
	if !ok || v.Name != "Google US English" {
		t.Fatalf("expected named voice, got %+v", v)
	}
}

func TestSelectNamedVoiceOutsideLanguageIgnored(t *testing.T) {
	v, ok := Select(catalog(), Preferences{Lang: "en-US", LocalService: true, Voice: "Anna"})
	if !ok || v.Name != "Samantha" {
		t.Fatalf("expected first en-US voice, got %+v", v)
	}
}

func TestSelectNothingAvailable(t *testing.T) {
	if _, ok := Select([]Voice{{Name: "Anna", Lang: "de-DE"}}, Preferences{Lang: "ja-JP"}); ok {
		t.Fatal("expected no selection")
	}
	if _, ok := Select(nil, Preferences{Lang: "en-US"}); ok {
		t.Fatal("expected no selection from empty catalog")
	}
}

func TestSelectDeterministic(t *testing.T) {
	p := Preferences{Lang: "en-GB", LocalService: false}
	first, _ := Select(catalog(), p)
	for i := 0; i < 10; i++ {
		again, _ := Select(catalog(), p)
		if again != first {
			t.Fatalf("selection changed: %+v vs %+v", first, again)
		}
	}
}

func TestGroupByLang(t *testing.T) {
	got := GroupByLang(catalog())
	want := map[string][]string{
		"fr-CA": {"Amelie"},
		"en-US": {"Google US English", "Samantha"},
		"de-DE": {"Anna", "Google Deutsch"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected grouping: %v", got)
	}
}

func TestNormalizeTag(t *testing.T) {
	cases := map[string]string{
		"fr_CA.UTF-8": "fr-CA",
		"de_DE@euro":  "de-DE",
		"iw_IL":       "iw-IL",
		"in-ID":       "in-ID",
		"":            "",
	}
	for in, want := range cases {
		if got := NormalizeTag(in); got != want {
			t.Fatalf("NormalizeTag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSelectLegacyLanguageCodes(t *testing.T) {
	catalog := []Voice{
		{Name: "Samantha", Lang: "en-US", LocalService: true},
		{Name: "Carmit", Lang: "iw-IL", LocalService: true},
		{Name: "Damayanti", Lang: "in-ID", LocalService: true},
	}
	for lang, want := range map[string]string{"iw_IL": "Carmit", "in-ID": "Damayanti", "iw": "Samantha"} {
		got, ok := Select(catalog, Preferences{Lang: NormalizeTag(lang), LocalService: true})
		if !ok || got.Name != want {
			t.Fatalf("Select(%q) = %+v, want %s", lang, got, want)
		}
	}
}

func TestSystemLang(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "pt_BR.UTF-8")
	if got := SystemLang(); got != "pt-BR" {
		t.Fatalf("expected pt-BR, got %q", got)
	}
	t.Setenv("LANG", "C.UTF-8")
	if got := SystemLang(); got != FallbackLang {
		t.Fatalf("expected fallback, got %q", got)
	}
}
