// Package llm provides the model-backend collaborators that produce raw
// token streams: an OpenAI-compatible streaming provider and a scripted
// provider for tests and local development.
package llm
