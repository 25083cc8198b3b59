// Package translit maps Cyrillic names to the Latin spelling used for
// directory login names.
package translit

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// table holds the lower-case mapping; upper-case input is handled by
// capitalising the first output letter.
var table = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
	// Ukrainian and Belarusian letters
	'і': "i", 'ї': "yi", 'є': "ye", 'ґ': "g", 'ў': "u",
}

// Transliterate converts every Cyrillic letter of s through a fixed table and
// passes all other characters through unchanged. Input is NFC-normalised
// first so that decomposed "й" and "ё" map like their precomposed forms.
func Transliterate(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		lower := unicode.ToLower(r)
		latin, ok := table[lower]
		if !ok {
			b.WriteRune(r)
			continue
		}
		if lower != r && latin != "" {
			latin = strings.ToUpper(latin[:1]) + latin[1:]
		}
		b.WriteString(latin)
	}
	return b.String()
}

// Username derives the login name "<given>.<surname>" from a person's
// given name and surname, transliterated and lower-cased.
func Username(givenName, surname string) string {
	return strings.ToLower(Transliterate(givenName)) + "." + strings.ToLower(Transliterate(surname))
}
