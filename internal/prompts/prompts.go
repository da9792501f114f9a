// Package prompts holds the instructions given to the models answering calls.
package prompts

import "strings"

// DefaultSystem is used when LLM_SYSTEM_PROMPT is unset.
const DefaultSystem = "You are a helpful call center agent on a phone line. " +
	"Callers hear your replies as speech, so answer in one or two short spoken sentences without markdown or lists."

// retrieverHint is appended to realtime instructions when the knowledge base
// tool is available.
const retrieverHint = "When the caller asks about products, policies or account procedures, " +
	"call the context_retriever tool before answering and rely on what it returns."

// ForSession resolves the system prompt for a call.
func ForSession(systemPrompt string) string {
	if strings.TrimSpace(systemPrompt) == "" {
		return DefaultSystem
	}
	return systemPrompt
}

// RAGContext wraps retrieved knowledge base text for the system prompt.
func RAGContext(context string) string {
	return "Answer from this knowledge base context when it is relevant:\n" + context
}

// RealtimeInstructions builds the session instructions for the speech-to-speech
// model. withRetriever adds guidance for the context_retriever tool.
func RealtimeInstructions(systemPrompt string, withRetriever bool) string {
	base := ForSession(systemPrompt)
	if !withRetriever {
		return base
	}
	return base + "\n\n" + retrieverHint
}
