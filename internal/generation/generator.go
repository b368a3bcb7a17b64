package generation

import (
	"context"
	"encoding/json"

	"github.com/zcanic/zcanic-server/internal/domain"
)

// Request is one unit of generation work, taken verbatim from a claimed task.
type Request struct {
	// Type selects how Payload is interpreted.
	Type domain.TaskType

	// Payload is the task payload, e.g. a domain.ChatCompletionPayload.
	Payload json.RawMessage

	// ExtraData is the task's extra_data as stored. Its generation keys
	// decode into domain.GenerationParams; it may be empty.
	ExtraData json.RawMessage
}

// Generator defines the interface for producing text for a task.
// This interface serves as a boundary between the application core and
// external AI/LLM services, following the hexagonal architecture pattern.
type Generator interface {
	// Generate returns the text for req. Implementations must honor ctx
	// cancellation and must not retain req after returning.
	//
	// Errors wrap one of the sentinels in errors.go.
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
