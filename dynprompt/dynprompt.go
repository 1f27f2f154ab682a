// Package dynprompt resolves {a|b|c} alternation templates in prompt text.
//
// Groups may be nested; the innermost group is always resolved first, so
// "{dog|dead {fish|whale}}" first becomes "{dog|dead fish}" (or whale) and then
// one of the two remaining options. Empty options are allowed and mean "omit".
package dynprompt

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

// leafGroup matches a brace group that contains no other braces.
var leafGroup = regexp.MustCompile(`\{([^{}]*)\}`)

// Rand is the source of choices. *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Expander expands templates using its Rand. The zero value uses the
// math/rand/v2 global source and is safe for concurrent use.
type Expander struct {
	Rand Rand
}

// New returns an Expander drawing from r. A nil r selects the global source.
func New(r Rand) *Expander {
	return &Expander{Rand: r}
}

// Expand resolves every well-formed group in text and then normalizes the
// comma separated segments: each segment is trimmed, empty segments are
// dropped and the rest are joined with ", ". Unbalanced braces are left as
// literal text.
func (e *Expander) Expand(text string) string {
	r := e.rand()
	for {
		loc := leafGroup.FindStringSubmatchIndex(text)
		if loc == nil {
			break
		}
		options := strings.Split(text[loc[2]:loc[3]], "|")
		choice := options[r.IntN(len(options))]
		text = text[:loc[0]] + choice + text[loc[1]:]
	}
	return Normalize(text)
}

func (e *Expander) rand() Rand {
	if e == nil || e.Rand == nil {
		return globalRand{}
	}
	return e.Rand
}

// Normalize trims the comma separated segments of text, drops the empty
// ones and joins the remainder with ", ".
func Normalize(text string) string {
	parts := strings.Split(text, ",")
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

// Expand resolves text with the global random source.
func Expand(text string) string {
	return (&Expander{}).Expand(text)
}
