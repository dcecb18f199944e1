// Package tooling defines the catalog of callable protocol operations exposed
// to the language model, and the invoker that safely executes a single tool
// call: resolution, argument parsing, session context injection and outcome
// classification.
package tooling
