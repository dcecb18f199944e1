// Package llm contains adapters for invoking large language models with
// tool-calling support. It abstracts away provider-specific APIs and
// normalizes the chat request/response lifecycle for the agent runtime.
package llm
