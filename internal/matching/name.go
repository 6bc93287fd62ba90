package matching

import (
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var umlauts = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
	"ß", "ss",
)

// Normalize lowercases s, folds umlauts and diacritics, and collapses every
// run of non-alphanumeric characters to a single space.
//
// "Müller, Hans" and "MUELLER HANS" normalize to "mueller hans" and
// "hans mueller"; "Renée" becomes "renee".
func Normalize(s string) string {
	s = umlauts.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPhrase reports whether needle appears in haystack on token
// boundaries. Both must already be normalized.
func containsPhrase(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

// NameSimilarity compares a payer name against a tenant name and returns a
// score in [0, 1].
//
// Equal names or one contained in the other score 1. Otherwise the score is
// the share of the tenant's name tokens found in the payer name, discounted
// to at most 0.8 unless every token is present. With drift > 0 a token also
// counts when its edit distance is within drift percent of the longer token.
func NameSimilarity(payer, tenant string, drift float64) float64 {
	p, t := Normalize(payer), Normalize(tenant)
	if p == "" || t == "" {
		return 0
	}
	if p == t || containsPhrase(p, t) || containsPhrase(t, p) {
		return 1
	}

	payerTokens := strings.Fields(p)
	var tenantTokens []string
	for _, tok := range strings.Fields(t) {
		if len(tok) >= 2 {
			tenantTokens = append(tenantTokens, tok)
		}
	}
	if len(tenantTokens) == 0 {
		return 0
	}

	found := 0
	for _, want := range tenantTokens {
		for _, got := range payerTokens {
			if tokenMatches(got, want, drift) {
				found++
				break
			}
		}
	}
	if found == len(tenantTokens) {
		return 1
	}
	return 0.8 * float64(found) / float64(len(tenantTokens))
}

func tokenMatches(got, want string, drift float64) bool {
	if got == want {
		return true
	}
	if drift <= 0 {
		return false
	}
	a, b := []rune(got), []rune(want)
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	allowed := float64(longer) * drift / 100
	dist := levenshtein.DistanceForStrings(a, b, levenshtein.DefaultOptions)
	return float64(dist) <= allowed
}
