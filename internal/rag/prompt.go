package rag

import "fmt"

// FallbackAnswer is the canned response when retrieval finds nothing.
const FallbackAnswer = "I don't have any relevant information to answer this question."

// SystemMessage is the instruction preamble for chat-style requests.
const SystemMessage = `You are a helpful AI assistant that answers questions based on provided context.

RULES:
1. Use ONLY the information from the provided context to answer questions.
2. Cite your sources using the format [Source X] where X is the source number from the context.
3. If the context doesn't contain enough information, say "I don't have enough information in the provided context to answer that question."
4. Be concise and factual. Do not add information not present in the context.
5. When making claims, always cite the specific source(s) that support them.
6. If multiple sources support a claim, cite all relevant sources.`

// promptTemplate carries the formatted context and the user's question.
// The instruction preamble is prepended by BuildPrompt.
const promptTemplate = `CONTEXT:
%s

QUESTION:
%s

ANSWER:`

// BuildPrompt renders the augmented generation prompt for a query and its
// formatted context block, with SystemMessage as the preamble.
func BuildPrompt(query, context string) string {
	return SystemMessage + "\n\n" + fmt.Sprintf(promptTemplate, context, query)
}
