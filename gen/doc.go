// Package gen models the emitted startup program: a named unit of
// procedures built from structured instructions, together with the
// registries that resolve type and function references at deploy time.
//
// A Program plays the role of the generated class. Deploying it runs a
// dedicated factory procedure that allocates the shared object array,
// then the entry procedure, which invokes each continuation procedure in
// order; the continuations carry the actual recorded work. Programs are directly
// executable (Program implements startup.Task through a small
// interpreter) and deterministically renderable (Disassemble), which is
// what the recorder's double-emission guarantee is checked against.
package gen
