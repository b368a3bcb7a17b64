package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationParamsValidate(t *testing.T) {
	t.Parallel()

	f := func(v float64) *float64 { return &v }
	n := func(v int) *int { return &v }

	tests := []struct {
		name    string
		params  GenerationParams
		wantErr error
	}{
		{name: "empty", params: GenerationParams{}},
		{name: "bounds", params: GenerationParams{Temperature: f(2), MaxTokens: n(8192)}},
		{name: "zero temperature", params: GenerationParams{Temperature: f(0)}},
		{name: "negative temperature", params: GenerationParams{Temperature: f(-0.1)}, wantErr: ErrInvalidTemperature},
		{name: "hot temperature", params: GenerationParams{Temperature: f(2.5)}, wantErr: ErrInvalidTemperature},
		{name: "zero tokens", params: GenerationParams{MaxTokens: n(0)}, wantErr: ErrInvalidMaxTokens},
		{name: "too many tokens", params: GenerationParams{MaxTokens: n(8193)}, wantErr: ErrInvalidMaxTokens},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.params.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestGenerationParamsWithDefaults(t *testing.T) {
	t.Parallel()

	p := GenerationParams{}.WithDefaults("gemini-test")
	assert.Equal(t, "gemini-test", p.Model)
	require.NotNil(t, p.Temperature)
	assert.InDelta(t, DefaultTemperature, *p.Temperature, 1e-9)
	require.NotNil(t, p.MaxTokens)
	assert.Equal(t, DefaultMaxTokens, *p.MaxTokens)

	temp := 0.1
	kept := GenerationParams{Model: "custom", Temperature: &temp}.WithDefaults("gemini-test")
	assert.Equal(t, "custom", kept.Model)
	assert.InDelta(t, 0.1, *kept.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxTokens, *kept.MaxTokens)
}

func TestParseGenerationParams(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "null"} {
		p, err := ParseGenerationParams(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Equal(t, GenerationParams{}, p)
	}

	p, err := ParseGenerationParams(json.RawMessage(`{"model":"m","temperature":1.2,"max_tokens":64}`))
	require.NoError(t, err)
	assert.Equal(t, "m", p.Model)
	assert.InDelta(t, 1.2, *p.Temperature, 1e-9)
	assert.Equal(t, 64, *p.MaxTokens)

	_, err = ParseGenerationParams(json.RawMessage(`{"temperature":"hot"}`))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMergeExtraData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{
			name: "empty gets defaults",
			raw:  "",
			want: `{"model":"gemini-test","temperature":0.7,"max_tokens":2000}`,
		},
		{
			name: "null gets defaults",
			raw:  "null",
			want: `{"model":"gemini-test","temperature":0.7,"max_tokens":2000}`,
		},
		{
			name: "unknown keys survive",
			raw:  `{"model":"m","temperature":0.3,"max_tokens":10,"top_p":0.9,"system_prompt":"be a cat"}`,
			want: `{"model":"m","temperature":0.3,"max_tokens":10,"top_p":0.9,"system_prompt":"be a cat"}`,
		},
		{
			name: "nested values kept verbatim",
			raw:  `{"max_tokens":64,"stop":["\n\n"],"meta":{"source":"web","n":1}}`,
			want: `{"model":"gemini-test","temperature":0.7,"max_tokens":64,"stop":["\n\n"],"meta":{"source":"web","n":1}}`,
		},
		{
			name: "null known key is defaulted",
			raw:  `{"temperature":null}`,
			want: `{"model":"gemini-test","temperature":0.7,"max_tokens":2000}`,
		},
		{name: "array", raw: `[1]`, wantErr: ErrValidation},
		{name: "bad known key type", raw: `{"max_tokens":"many"}`, wantErr: ErrValidation},
		{name: "out of range", raw: `{"temperature":3,"top_p":0.9}`, wantErr: ErrInvalidTemperature},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := MergeExtraData(json.RawMessage(tc.raw), "gemini-test")
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestMergeExtraData_NoDefaultModel(t *testing.T) {
	t.Parallel()

	got, err := MergeExtraData(json.RawMessage(`{"top_k":40}`), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"temperature":0.7,"max_tokens":2000,"top_k":40}`, string(got))
}
