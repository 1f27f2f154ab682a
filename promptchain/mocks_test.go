package promptchain

import (
	"errors"
)

// fakeEncoder encodes a prompt as a [1][1][2] tensor holding its length and
// call index, and records every text it was asked to encode.
type fakeEncoder struct {
	texts []string
	fail  error
}

func (e *fakeEncoder) Encode(text string) (Unit, error) {
	if e.fail != nil {
		return Unit{}, e.fail
	}
	e.texts = append(e.texts, text)
	t := NewDense(1, 1, 2)
	t.Set(0, 0, 0, float32(len(text)))
	t.Set(0, 0, 1, float32(len(e.texts)))
	return Unit{Cond: t, Extra: map[string]any{"pooled_output": len(e.texts)}}, nil
}

var errEncoder = errors.New("encoder exploded")

// firstRand always picks the first option.
type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }
