// Package llm defines the transcript value types exchanged with chat-completion
// providers and the Transport interface the orchestrator drives. Provider
// adapters live in sub-packages (openai, anthropic).
package llm
