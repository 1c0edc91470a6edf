package companion

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// CrisisMarker prefixes model replies that ask for crisis handling.
const CrisisMarker = "[CRISIS]"

// CrisisReply is sent instead of a model reply when a message shows signs of
// self-harm.
const CrisisReply = "Perasaanmu sangat berat saat ini. Aku ingin kamu tahu bahwa ada bantuan profesional yang siap mendengarmu. Silakan hubungi Hotline Halo Kemenkes 1500-567 atau tekan tombol Bantuan Darurat di aplikasi."

// crisisThreshold is the Jaro-Winkler score at which a phrase counts as a
// misspelt crisis keyword.
const crisisThreshold = 0.92

var crisisKeywords = []string{
	"bunuh diri",
	"menyerah",
	"ingin mati",
	"menyakiti diri",
	"pengen mati",
	"mau mati",
	"akhiri hidup",
	"kill myself",
	"suicide",
	"want to die",
	"hurt myself",
	"self harm",
	"give up on life",
}

// CrisisDetector flags messages that contain a crisis keyword, either
// verbatim or as a close misspelling.
type CrisisDetector struct {
	keywords  [][]string
	threshold float64
}

// NewCrisisDetector returns a detector for the built-in keyword list plus
// extra.
func NewCrisisDetector(extra ...string) *CrisisDetector {
	d := &CrisisDetector{threshold: crisisThreshold}
	for _, k := range append(append([]string(nil), crisisKeywords...), extra...) {
		if toks := tokenize(k); len(toks) > 0 {
			d.keywords = append(d.keywords, toks)
		}
	}
	return d
}

// Detect reports whether text contains a crisis keyword.
func (d *CrisisDetector) Detect(text string) bool {
	_, ok := d.Match(text)
	return ok
}

// Match returns the first keyword found in text.
func (d *CrisisDetector) Match(text string) (string, bool) {
	words := tokenize(text)
	for _, kw := range d.keywords {
		n := len(kw)
		phrase := strings.Join(kw, " ")
		for i := 0; i+n <= len(words); i++ {
			window := strings.Join(words[i:i+n], " ")
			if window == phrase {
				return phrase, true
			}
			// Short words produce too many near misses, and a longer single
			// word is usually a different word sharing the stem
			// ("menyerang", "menyerahkan").
			if len([]rune(phrase)) < 6 || (n == 1 && len([]rune(window)) > len([]rune(phrase))) {
				continue
			}
			if matchr.JaroWinkler(window, phrase, false) >= d.threshold {
				return phrase, true
			}
		}
	}
	return "", false
}

// tokenize lower-cases s and splits it into letter/digit words.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
