// Package promptchain accumulates prompt conditioning across chained prompt
// nodes. Each link encodes its expanded prompt and concatenates the result onto
// every entry of the previous conditioning along the sequence axis, so a chain
// of k prompts attends over k prompt windows instead of being truncated to one.
package promptchain

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/richinsley/sqnodes/dynprompt"
)

var (
	ErrNoEncoder  = errors.New("no encoder: pass one or chain from a state that has one")
	ErrEmptyChain = errors.New("no prompts to chain")
)

// Tensor is an opaque handle to the host framework's tensor.
type Tensor any

// Unit is one conditioning entry: the sequence tensor plus auxiliary encoder
// outputs such as the pooled embedding.
type Unit struct {
	Cond  Tensor
	Extra map[string]any
}

// Conditioning is the list of units handed to a sampler.
type Conditioning []Unit

// Encoder turns prompt text into a conditioning unit.
type Encoder interface {
	Encode(text string) (Unit, error)
}

// Concatenator joins two sequence tensors along the token axis.
type Concatenator interface {
	ConcatSequence(a, b Tensor) (Tensor, error)
}

// State is the output of one chain link. States are never modified after
// they are returned, so several links may chain from the same parent.
type State struct {
	Prompts      []string
	Conditioning Conditioning
	Encoder      Encoder
}

// Chainer builds chain states with an expander and a concatenation capability.
type Chainer struct {
	Expander *dynprompt.Expander
	Concat   Concatenator
}

// New returns a Chainer. A nil expander uses the global random source.
func New(expander *dynprompt.Expander, concat Concatenator) *Chainer {
	if expander == nil {
		expander = &dynprompt.Expander{}
	}
	return &Chainer{Expander: expander, Concat: concat}
}

// Chain expands raw, encodes it and appends it to prior, which may be nil to
// start a new chain. When enc is nil the encoder of prior is used.
func (c *Chainer) Chain(prior *State, raw string, enc Encoder) (*State, error) {
	if enc == nil && prior != nil {
		enc = prior.Encoder
	}
	if enc == nil {
		return nil, ErrNoEncoder
	}

	text := c.Expander.Expand(raw)
	slog.Info("prompt expanded", "text", text)

	unit, err := enc.Encode(text)
	if err != nil {
		return nil, err
	}

	if prior == nil {
		return &State{
			Prompts:      []string{text},
			Conditioning: Conditioning{unit},
			Encoder:      enc,
		}, nil
	}

	cond, err := c.extend(prior.Conditioning, unit)
	if err != nil {
		return nil, err
	}
	prompts := make([]string, len(prior.Prompts), len(prior.Prompts)+1)
	copy(prompts, prior.Prompts)
	return &State{
		Prompts:      append(prompts, text),
		Conditioning: cond,
		Encoder:      enc,
	}, nil
}

// ChainAll encodes prompts as they are, without template expansion, folding
// each encoding onto the running conditioning. It replays a stored prompt list.
func (c *Chainer) ChainAll(prompts []string, enc Encoder) (Conditioning, error) {
	if enc == nil {
		return nil, ErrNoEncoder
	}
	if len(prompts) == 0 {
		return nil, ErrEmptyChain
	}
	first, err := enc.Encode(prompts[0])
	if err != nil {
		return nil, err
	}
	cond := Conditioning{first}
	for _, p := range prompts[1:] {
		unit, err := enc.Encode(p)
		if err != nil {
			return nil, err
		}
		if cond, err = c.extend(cond, unit); err != nil {
			return nil, err
		}
	}
	return cond, nil
}

// extend returns a new conditioning with unit's tensor appended to every entry.
func (c *Chainer) extend(to Conditioning, unit Unit) (Conditioning, error) {
	out := make(Conditioning, len(to))
	for i, entry := range to {
		joined, err := c.Concat.ConcatSequence(entry.Cond, unit.Cond)
		if err != nil {
			return nil, fmt.Errorf("concatenating conditioning %d: %w", i, err)
		}
		out[i] = Unit{Cond: joined, Extra: maps.Clone(entry.Extra)}
	}
	return out, nil
}
