package upstream

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"
)

// Prompt is the message pair sent to the chat completion API.
type Prompt struct {
	System string
	User   string
}

var systemTemplate = prompts.NewPromptTemplate(
	`You are {{.assistant}}, a calm and friendly assistant.
Answer in this style: {{.style}}.
Keep the tone gentle and encouraging. Never produce explicit or graphic content.
When you use a technical term, add a short plain explanation of it.
Keep the reply short and end with one concrete step the user can take next.`,
	[]string{"assistant", "style"},
)

// BuildPrompt composes the system instruction for the given persona and
// style and pairs it with the user's prompt. It has no side effects and the
// same inputs always give the same Prompt.
func BuildPrompt(userPrompt, style, assistantName string) (Prompt, error) {
	system, err := systemTemplate.Format(map[string]any{
		"assistant": assistantName,
		"style":     style,
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("rendering system prompt: %w", err)
	}
	return Prompt{System: system, User: userPrompt}, nil
}
