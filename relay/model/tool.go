package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"
)

// Tool is a function tool definition in a request, or a tool call in a
// response. Index is only present on streaming deltas, where chunks of
// one call are correlated by position.
type Tool struct {
	Id       string    `json:"id,omitempty"`
	Type     string    `json:"type,omitempty"`
	Function *Function `json:"function,omitempty"`
	Index    *int      `json:"index,omitempty"`
}

type Function struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	// Arguments is a JSON-encoded string in responses but may arrive as a
	// structured object from some upstreams.
	Arguments any   `json:"arguments,omitempty"`
	Strict    *bool `json:"strict,omitempty"`
}

// Validate checks a tool definition before it is forwarded upstream.
func (t *Tool) Validate() error {
	switch t.Type {
	case "function", "":
		if t.Function == nil {
			return errors.New("function tool requires function definition")
		}
		if t.Function.Name == "" {
			return errors.New("function name is required")
		}
		return nil
	default:
		return errors.Errorf("unsupported tool type: %s", t.Type)
	}
}

// UnmarshalJSON accepts both the nested chat completion form
// {"type":"function","function":{...}} and the flattened Response API form
// {"type":"function","name":...,"parameters":...}. Marshalling always
// produces the nested form.
func (t *Tool) UnmarshalJSON(data []byte) error {
	var raw struct {
		Id       string    `json:"id"`
		Type     string    `json:"type"`
		Function *Function `json:"function"`
		Index    *int      `json:"index"`

		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
		Arguments   any            `json:"arguments"`
		Strict      *bool          `json:"strict"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.Id = raw.Id
	t.Type = raw.Type
	t.Index = raw.Index
	t.Function = raw.Function

	if t.Function == nil && (raw.Name != "" || raw.Parameters != nil || raw.Arguments != nil) {
		t.Function = &Function{
			Name:        raw.Name,
			Description: raw.Description,
			Parameters:  raw.Parameters,
			Arguments:   raw.Arguments,
			Strict:      raw.Strict,
		}
	}
	return nil
}
