package inference

import "context"

//go:generate mockgen -source=client.go -destination=../mocks/inference/mock_client.go -package=mock_inference

// Client sends a chat exchange to an external model and returns the raw assistant reply.
type Client interface {
	Complete(ctx context.Context, request ChatRequest) (string, error)
	Model() string
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the transport-neutral request handed to a Client.
type ChatRequest struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// JSONOnly asks the model for a bare JSON object reply where the transport supports it.
	JSONOnly bool
}
