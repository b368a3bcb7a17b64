package generation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/generation"
)

func TestGeneratorFunc(t *testing.T) {
	t.Parallel()

	var got generation.Request
	var g generation.Generator = generation.GeneratorFunc(
		func(ctx context.Context, req generation.Request) (string, error) {
			got = req
			return "Hello!", nil
		})

	out, err := g.Generate(context.Background(), generation.Request{
		Type:    domain.TaskTypeChatCompletion,
		Payload: []byte(`{}`),
	})
	assert.NoError(t, err)
	assert.Equal(t, "Hello!", out)
	assert.Equal(t, domain.TaskTypeChatCompletion, got.Type)
}

func TestSentinelsAreDistinct(t *testing.T) {
	t.Parallel()

	sentinels := []error{
		generation.ErrGenerationFailed,
		generation.ErrInvalidResponse,
		generation.ErrEmptyResponse,
		generation.ErrContentBlocked,
		generation.ErrTransientFailure,
		generation.ErrInvalidConfig,
		generation.ErrInvalidRequest,
		generation.ErrUnavailable,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
			}
		}
	}
}
