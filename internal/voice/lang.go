package voice

import (
	"os"
	"strings"
)

// BaseLanguage returns the part of tag before the first hyphen.
func BaseLanguage(tag string) string {
	base, _, _ := strings.Cut(tag, "-")
	return base
}

// NormalizeTag turns POSIX locale identifiers such as "fr_CA.UTF-8" into
// hyphenated tags. Subtags are kept as given: catalogs compare languages by
// string, so legacy codes like "iw" or "in" must not be rewritten.
func NormalizeTag(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "_", "-")
}

// SystemLang reports the process locale as a BCP-47 tag, or FallbackLang.
func SystemLang() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		value := os.Getenv(key)
		if value == "" || value == "C" || value == "POSIX" || strings.HasPrefix(value, "C.") {
			continue
		}
		if tag := NormalizeTag(value); tag != "" {
			return tag
		}
	}
	return FallbackLang
}
