package voice

import "strings"

// DefaultTranscriptLimit is the transcript length, in runes, used when the
// configured limit is not positive.
const DefaultTranscriptLimit = 100

const ellipsis = "..."

// Transcript is a bounded rolling buffer of the words spoken during the
// current turn. Fragments are joined with a single space. When an append
// would exceed the limit, only the newest tail is kept, prefixed with "...".
//
// Transcript is not safe for concurrent use; [Session] guards it.
type Transcript struct {
	limit int
	text  []rune
}

// NewTranscript returns an empty transcript bounded to limit runes.
func NewTranscript(limit int) *Transcript {
	if limit <= 0 {
		limit = DefaultTranscriptLimit
	}
	return &Transcript{limit: limit}
}

// Append adds a fragment. Empty fragments are ignored.
func (t *Transcript) Append(fragment string) {
	if strings.TrimSpace(fragment) == "" {
		return
	}
	if len(t.text) > 0 {
		t.text = append(t.text, ' ')
	}
	t.text = append(t.text, []rune(fragment)...)
	if len(t.text) <= t.limit {
		return
	}

	keep := t.limit - len(ellipsis)
	if keep <= 0 {
		t.text = append([]rune(nil), t.text[len(t.text)-t.limit:]...)
		return
	}
	tail := t.text[len(t.text)-keep:]
	t.text = append([]rune(ellipsis), tail...)
}

// Reset empties the transcript.
func (t *Transcript) Reset() { t.text = t.text[:0] }

// Len returns the transcript length in runes.
func (t *Transcript) Len() int { return len(t.text) }

// Limit returns the maximum length in runes.
func (t *Transcript) Limit() int { return t.limit }

// String returns the current text.
func (t *Transcript) String() string { return string(t.text) }
