package llm

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"google.golang.org/genai"
)

// validateMessages requires a non-empty conversation with at least one user turn
func validateMessages(messages []interfaces.Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("messages cannot be empty")
	}
	for _, msg := range messages {
		if msg.Role == "user" {
			return nil
		}
	}
	return fmt.Errorf("at least one message must have role 'user'")
}

// convertMessagesToGemini converts messages to Gemini content, pulling the
// first system message out for use as SystemInstruction.
func convertMessagesToGemini(messages []interfaces.Message) ([]*genai.Content, string, error) {
	if err := validateMessages(messages); err != nil {
		return nil, "", err
	}

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}

		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}

		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}

	return contents, systemText, nil
}

// convertMessagesToClaude converts messages to Claude message params, pulling
// the first system message out for use as the System parameter.
func convertMessagesToClaude(messages []interfaces.Message) ([]anthropic.MessageParam, string, error) {
	if err := validateMessages(messages); err != nil {
		return nil, "", err
	}

	claudeMessages := make([]anthropic.MessageParam, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if systemText == "" {
				systemText = msg.Content
			}
		case "assistant":
			claudeMessages = append(claudeMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		default:
			claudeMessages = append(claudeMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	return claudeMessages, systemText, nil
}
