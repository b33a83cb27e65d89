package utils

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Bounds for a scraped price. Anything outside is treated as scrape noise
// (lot ids, percentages, partial numbers) rather than a price.
const (
	MinPrice = 10000
	MaxPrice = 1000000000
)

var spaceReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"\u00a0", " ", // no-break space
	"\u202f", " ", // narrow no-break space
	"\u2009", " ", // thin space
	"\u2007", " ", // figure space
	"\u2060", " ", // word joiner
	"\u200a", " ", // hair space
	"\u200b", "",  // zero width space
	"\ufeff", "",  // BOM
)

var (
	currencyNoise = regexp.MustCompile(`(?i)[~≈₽рrubруб]`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	leadingDashes = regexp.MustCompile(`^[\s\-–—]+`)
	nonDigit      = regexp.MustCompile(`[^0-9]`)
)

// multiWordBrands maps the upper-cased prefix to the canonical brand name.
var multiWordBrands = map[string]string{
	"MERCEDES-BENZ": "Mercedes-Benz",
	"LAND ROVER":    "Land Rover",
	"ALFA ROMEO":    "Alfa Romeo",
	"ASTON MARTIN":  "Aston Martin",
}

var singleWordBrands = []string{
	"TOYOTA", "NISSAN", "HONDA", "MAZDA", "SUBARU", "MITSUBISHI", "SUZUKI",
	"DAIHATSU", "ISUZU", "LEXUS", "INFINITI", "ACURA", "BMW", "AUDI",
	"VOLKSWAGEN", "VOLVO", "FORD", "CHEVROLET", "HYUNDAI", "KIA", "PEUGEOT",
	"RENAULT", "FIAT", "JEEP", "CHRYSLER", "DODGE", "CADILLAC", "BUICK",
}

// multiWordOrder is multiWordBrands' keys, longest first.
var multiWordOrder = func() []string {
	keys := make([]string, 0, len(multiWordBrands))
	for k := range multiWordBrands {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// ReplaceSpaceVariants maps every non-breaking and typographic space to an
// ordinary space and drops zero-width characters.
func ReplaceSpaceVariants(s string) string {
	return spaceReplacer.Replace(s)
}

// CollapseSpaces normalizes space variants, squeezes whitespace runs to a
// single space and trims the result.
func CollapseSpaces(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(ReplaceSpaceVariants(s), " "))
}

// DigitsOnly strips every character that is not an ASCII digit.
func DigitsOnly(s string) string {
	return nonDigit.ReplaceAllString(s, "")
}

// ParseBoundedInt parses an all-digit string and checks it against [min, max].
func ParseBoundedInt(s string, min, max int) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if n < min || n > max {
		return 0, false
	}
	return n, true
}

// NormalizePriceText turns a scraped price fragment such as "1 500 000 ₽"
// into an integer. It reports false when the text is not a plain number after
// cleanup or when the value falls outside [MinPrice, MaxPrice].
func NormalizePriceText(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	clean := ReplaceSpaceVariants(strings.TrimSpace(raw))
	clean = currencyNoise.ReplaceAllString(clean, "")
	clean = strings.ReplaceAll(clean, " ", "")
	return ParseBoundedInt(clean, MinPrice, MaxPrice)
}

// SplitBrandModel splits a "BRAND MODEL" title into its brand and model parts.
// Known brands are matched case-insensitively by prefix and returned in
// canonical title case, with an all-caps model title-cased word by word
// (purely alphabetic words only, so "GT-R" or "X5" stay as scraped).
// Anything else falls back to first-token-is-brand.
func SplitBrandModel(raw string) (brand, model string) {
	text := CollapseSpaces(raw)
	if text == "" {
		return "", ""
	}
	for _, prefix := range multiWordOrder {
		if hasPrefixFold(text, prefix) {
			return multiWordBrands[prefix], modelCase(strings.TrimSpace(text[len(prefix):]))
		}
	}

	for _, prefix := range singleWordBrands {
		if hasPrefixFold(text, prefix) {
			return titleWord(prefix), modelCase(strings.TrimSpace(text[len(prefix):]))
		}
	}

	words := strings.Fields(text)
	if len(words) == 1 {
		return words[0], ""
	}
	model = strings.Join(words[1:], " ")
	model = strings.TrimSpace(leadingDashes.ReplaceAllString(model, ""))
	return words[0], model
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	r, size := utf8.DecodeRuneInString(w)
	return string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
}

func modelCase(model string) string {
	if model == "" || model != strings.ToUpper(model) {
		return model
	}
	words := strings.Split(model, " ")
	for i, w := range words {
		if isLetters(w) {
			words[i] = titleWord(w)
		}
	}
	return strings.Join(words, " ")
}

func isLetters(w string) bool {
	if w == "" {
		return false
	}
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
