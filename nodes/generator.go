package nodes

import "github.com/richinsley/sqnodes/provenance"

// ParameterGenerator bundles the model selection and sampler settings that
// flow forward to the writer.
func ParameterGenerator(ckpt, vae, sampler, scheduler string) provenance.GeneratorParams {
	return provenance.GeneratorParams{
		ModelName: ckpt,
		VAEName:   vae,
		Sampler:   sampler,
		Scheduler: scheduler,
	}
}
