package domain

import (
	"encoding/json"
	"fmt"
)

// Default generation parameters applied when a submission leaves them unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// Validation errors for GenerationParams
var (
	ErrInvalidTemperature = fmt.Errorf("%w: temperature must be between 0 and 2", ErrValidation)
	ErrInvalidMaxTokens   = fmt.Errorf("%w: max_tokens must be between 1 and 8192", ErrValidation)
)

// GenerationParams is the typed view of the generation keys in a task's
// extra_data. Other keys in extra_data are not part of it and are kept as
// submitted; see MergeExtraData.
type GenerationParams struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Validate checks parameter ranges. Unset fields are valid.
func (p GenerationParams) Validate() error {
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return ErrInvalidTemperature
	}
	if p.MaxTokens != nil && (*p.MaxTokens < 1 || *p.MaxTokens > 8192) {
		return ErrInvalidMaxTokens
	}
	return nil
}

// WithDefaults fills unset fields. model may be empty, in which case the
// generator's configured model is used at execution time.
func (p GenerationParams) WithDefaults(model string) GenerationParams {
	if p.Model == "" {
		p.Model = model
	}
	if p.Temperature == nil {
		t := DefaultTemperature
		p.Temperature = &t
	}
	if p.MaxTokens == nil {
		n := DefaultMaxTokens
		p.MaxTokens = &n
	}
	return p
}

// ParseGenerationParams decodes extra_data. Empty input yields zero params.
func ParseGenerationParams(raw json.RawMessage) (GenerationParams, error) {
	var p GenerationParams
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: extra_data: %v", ErrValidation, err)
	}
	return p, nil
}

// MergeExtraData validates the known generation keys of raw and fills the
// unset ones from defaults built with model. Every other key is kept along
// with its value. raw must be empty, null or a JSON object.
func MergeExtraData(raw json.RawMessage, model string) (json.RawMessage, error) {
	params, err := ParseGenerationParams(raw)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: extra_data must be a JSON object: %v", ErrValidation, err)
		}
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}

	defaults := params.WithDefaults(model)
	if params.Model == "" && defaults.Model != "" {
		if fields["model"], err = json.Marshal(defaults.Model); err != nil {
			return nil, err
		}
	}
	if params.Temperature == nil {
		if fields["temperature"], err = json.Marshal(*defaults.Temperature); err != nil {
			return nil, err
		}
	}
	if params.MaxTokens == nil {
		if fields["max_tokens"], err = json.Marshal(*defaults.MaxTokens); err != nil {
			return nil, err
		}
	}

	return json.Marshal(fields)
}
