// Package nodes exposes the operations of the SQNodes node pack to a host:
// the parameter generator, LoRA chain bookkeeping, and the image writer and
// reader that carry the provenance record.
package nodes
