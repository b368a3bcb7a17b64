package mocks_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/generation"
	"github.com/zcanic/zcanic-server/internal/mocks"
)

func TestMockGenerator(t *testing.T) {
	t.Parallel()

	t.Run("default text", func(t *testing.T) {
		t.Parallel()
		gen := mocks.NewMockGeneratorWithText("Hello!")

		text, err := gen.Generate(context.Background(), generation.Request{Type: domain.TaskTypeChatCompletion})
		assert.NoError(t, err)
		assert.Equal(t, "Hello!", text)
		assert.Equal(t, 1, gen.CallCount())
		assert.Equal(t, domain.TaskTypeChatCompletion, gen.Requests()[0].Type)

		gen.Reset()
		assert.Zero(t, gen.CallCount())
	})

	t.Run("preset failures", func(t *testing.T) {
		t.Parallel()
		_, err := mocks.MockGeneratorThatFails().Generate(context.Background(), generation.Request{})
		assert.ErrorIs(t, err, generation.ErrGenerationFailed)

		_, err = mocks.MockGeneratorWithContentBlocked().Generate(context.Background(), generation.Request{})
		assert.ErrorIs(t, err, generation.ErrContentBlocked)
	})

	t.Run("custom function wins", func(t *testing.T) {
		t.Parallel()
		custom := errors.New("custom")
		gen := &mocks.MockGenerator{
			Text: "ignored",
			GenerateFn: func(context.Context, generation.Request) (string, error) {
				return "", custom
			},
		}
		_, err := gen.Generate(context.Background(), generation.Request{})
		assert.ErrorIs(t, err, custom)
	})

	t.Run("concurrent calls are recorded", func(t *testing.T) {
		t.Parallel()
		gen := mocks.NewMockGeneratorWithText("x")
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = gen.Generate(context.Background(), generation.Request{})
			}()
		}
		wg.Wait()
		assert.Equal(t, 20, gen.CallCount())
	})
}
