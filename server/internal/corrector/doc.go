// Package corrector asks a local LLM (an Ollama-compatible /api/generate
// endpoint) to fix a recognised Malayalam word given its surrounding text.
//
// Correct never loses the caller's input: on any failure it returns the
// original word alongside the error.
package corrector
