// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package prompts

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/conductor/pkg/types"
)

// InputParam describes one named prompt input with optional validation bounds.
type InputParam struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"` // string, number, integer, boolean, object, array
	Required    bool     `yaml:"required"`
	Description string   `yaml:"description"`
	Enum        []string `yaml:"enum"`
	Minimum     *float64 `yaml:"min"`
	Maximum     *float64 `yaml:"max"`
}

// OutputField describes one field the prompt is contracted to produce.
type OutputField struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// Dependencies lists prompt ids this prompt depends on.
type Dependencies struct {
	Required []string `yaml:"required"`
	Optional []string `yaml:"optional"`
}

// ModelRequirements constrains which models may run this prompt.
type ModelRequirements struct {
	MinContext  int      `yaml:"min_context"`
	Recommended []string `yaml:"recommended"`
}

// TokenBudget holds the prompt author's token usage estimates.
type TokenBudget struct {
	Min int `yaml:"min"`
	Avg int `yaml:"avg"`
	Max int `yaml:"max"`
}

// Descriptor is an immutable, fully-typed prompt definition built once at
// load time. Callers must not mutate returned descriptors.
type Descriptor struct {
	ID                string
	Version           string
	Category          string
	Agents            []string
	Dependencies      Dependencies
	Inputs            []InputParam
	Outputs           []OutputField
	ModelRequirements ModelRequirements
	Tokens            TokenBudget

	// Body is the free-form prompt text following the header block.
	Body string

	// AvailableOptional records which optional dependencies actually
	// resolved at load time.
	AvailableOptional []string

	inputSchema *gojsonschema.Schema
}

// ValidateInputs checks an assembled input map against the declared input
// parameters using the compiled JSON schema.
func (d *Descriptor) ValidateInputs(inputs map[string]interface{}) error {
	if d.inputSchema == nil {
		return nil
	}
	result, err := d.inputSchema.Validate(gojsonschema.NewGoLoader(inputs))
	if err != nil {
		return types.WrapError(types.ErrStageInputInvalid, err, "input validation failed for prompt %s", d.ID)
	}
	if !result.Valid() {
		var details string
		for _, desc := range result.Errors() {
			if details != "" {
				details += "; "
			}
			details += desc.String()
		}
		return types.NewError(types.ErrStageInputInvalid, "prompt %s inputs invalid: %s", d.ID, details)
	}
	return nil
}

// ParseOutputs validates a raw LLM response against the declared output
// contract. The response must be a JSON object containing every required
// output field.
func (d *Descriptor) ParseOutputs(raw string) (map[string]interface{}, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, types.WrapError(types.ErrResponseInvalid, err, "prompt %s response is not a JSON object", d.ID)
	}
	for _, field := range d.Outputs {
		if !field.Required {
			continue
		}
		if _, ok := parsed[field.Name]; !ok {
			return nil, types.NewError(types.ErrResponseInvalid,
				"prompt %s response missing required output %q", d.ID, field.Name)
		}
	}
	return parsed, nil
}

// compileInputSchema builds the JSON schema for the declared inputs.
func (d *Descriptor) compileInputSchema() error {
	if len(d.Inputs) == 0 {
		return nil
	}

	properties := make(map[string]interface{}, len(d.Inputs))
	var required []string
	for _, in := range d.Inputs {
		prop := map[string]interface{}{}
		if in.Type != "" {
			prop["type"] = in.Type
		}
		if len(in.Enum) > 0 {
			enum := make([]interface{}, len(in.Enum))
			for i, v := range in.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		if in.Minimum != nil {
			prop["minimum"] = *in.Minimum
		}
		if in.Maximum != nil {
			prop["maximum"] = *in.Maximum
		}
		properties[in.Name] = prop
		if in.Required {
			required = append(required, in.Name)
		}
	}

	doc := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("compile input schema: %w", err)
	}
	d.inputSchema = schema
	return nil
}
