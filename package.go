// Sqnodes records the provenance of images produced by a ComfyUI generation graph
// (checkpoint, VAE, LoRA stack, sampler settings and prompts) and recovers it again
// from the saved PNG or WEBP file.
//
// The pipeline is split into small packages: dynprompt expands {a|b} prompt templates,
// promptchain accumulates conditioning across chained prompts, hashcache computes short
// content hashes of model artifacts, provenance assembles the record, and metacodec
// embeds it into (and extracts it from) image containers.
package sqnodes
