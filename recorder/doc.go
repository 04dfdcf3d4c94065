// Package recorder records invocations made against recorder objects
// during a build phase and emits a self-contained startup program that
// replays them, with their original argument values, against freshly
// constructed recorder instances.
//
// Build-step code asks a Recorder for a recording proxy, calls methods
// on it, and finally writes the program out. Each intercepted call
// becomes a stored-call instruction; each argument is lowered into a
// deferred-parameter node describing how to rebuild it at startup.
// Nodes form a DAG through identity-keyed deduplication, so shared and
// cyclic subgraphs materialize exactly once. The emitter partitions the
// resulting instruction stream into bounded-size procedures that share
// one flat object array.
package recorder
