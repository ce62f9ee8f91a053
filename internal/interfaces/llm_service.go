package interfaces

import (
	"context"

	"github.com/ternarybob/courseforge/internal/models"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// TextGenerator returns raw model text for a conversation. The text may
// contain loosely formatted JSON that callers repair before use.
type TextGenerator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// ImageGenerator generates an image for prompt, stores it and returns its URL
type ImageGenerator interface {
	GenerateImage(ctx context.Context, courseID, prompt string, size models.ImageSize) (string, error)
}
