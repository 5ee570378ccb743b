package extract

import (
	"strings"
	"unicode"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

// enum maps loosely written labels onto one controlled vocabulary.
type enum map[string]string

var (
	interventionTypes = newEnum(ingest.InterventionTypes)
	evidenceTypes     = newEnum(ingest.EvidenceTypes)
	outcomeTypes      = newEnum(ingest.OutcomeTypes)
	contextTypes      = newEnum(ingest.ContextTypes)
)

func newEnum(values []string) enum {
	e := make(enum, len(values)*2)
	for _, v := range values {
		e[foldLabel(v)] = v
		// "RCT (Randomized Control Trial)" also answers to "RCT".
		if i := strings.Index(v, " ("); i > 0 {
			if _, taken := e[foldLabel(v[:i])]; !taken {
				e[foldLabel(v[:i])] = v
			}
		}
	}
	return e
}

// canonical returns the vocabulary entry matching value, ignoring case,
// spacing and punctuation.
func (e enum) canonical(value string) (string, bool) {
	v, ok := e[foldLabel(value)]
	return v, ok
}

func foldLabel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
