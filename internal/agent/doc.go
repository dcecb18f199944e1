// Package agent contains the core orchestrator responsible for translating a
// natural-language question into executable DeFi operations. It drives a
// bounded multi-turn conversation with the language model, dispatches the
// tool calls the model requests and assembles the final answer.
package agent
