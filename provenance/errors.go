package provenance

import (
	"errors"
	"fmt"

	"github.com/richinsley/sqnodes/artifacts"
)

var (
	// ErrNotFound reports an artifact that could not be located.
	ErrNotFound = artifacts.ErrNotFound
	// ErrNoMetadata reports an image without a readable provenance record.
	ErrNoMetadata = errors.New("no compatible metadata found")
	// ErrMissingField reports incomplete inputs for a fresh record.
	ErrMissingField = errors.New("missing metadata field")
)

// Pipeline stages that feed a fresh record.
const (
	StageGenerator = "parameter generator"
	StageLoras     = "lora chain"
	StageSampler   = "sampler settings"
	StageLatent    = "latent size"
	StagePrompts   = "prompt chain"
)

// MissingFieldError names the absent input and the stage expected to provide it.
type MissingFieldError struct {
	Stage string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %q not provided by %s", ErrMissingField, e.Field, e.Stage)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}
