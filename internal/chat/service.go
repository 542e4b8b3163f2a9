// Package chat implements the conversational services behind a session:
// a roleplay variant that augments prompts with retrieved passages, and
// a plain variant with a static system prompt. Services are built by
// per-mode factories and cached by the session registry.
package chat

import (
	"context"

	"rolechat/internal/llm"
)

// Service produces replies for one session. Implementations own their
// prompt construction and persist every completed exchange to the
// history store. A service instance is driven by one caller at a time;
// SwapModel may race with Reply and must be internally synchronized.
type Service interface {
	// Reply generates the assistant response to text. History is
	// updated only after the model call succeeds.
	Reply(ctx context.Context, text string) (string, error)

	// SwapModel replaces the language-model binding without touching
	// accumulated history.
	SwapModel(client llm.Client)

	// ModelName reports the identifier of the current binding.
	ModelName() string
}
