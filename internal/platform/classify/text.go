package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold brings a description or name into matching form: diacritics removed,
// case folded, whitespace collapsed. "  Café  UBER " and "cafe uber" fold equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}

// leafName is the last segment of a fully qualified "Parent:Child" name
func leafName(name string) string {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return strings.TrimSpace(name[i+1:])
	}
	return name
}
