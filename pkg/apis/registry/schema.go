/*
Copyright 2025 The KServe Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package registry

import (
	"github.com/pkg/errors"
)

// Feature describes one column or tensor of a model input or output.
type Feature struct {
	Name        string `json:"name,omitempty"`
	Type        string `json:"type"`
	Shape       []int  `json:"shape,omitempty"`
	Description string `json:"description,omitempty"`
}

// Schema is either columnar or tensor based.
type Schema struct {
	ColumnarSchema []Feature `json:"columnarSchema,omitempty"`
	TensorSchema   []Feature `json:"tensorSchema,omitempty"`
}

// Features returns the entries of whichever layout is set.
func (s *Schema) Features() []Feature {
	if s == nil {
		return nil
	}
	if len(s.ColumnarSchema) > 0 {
		return s.ColumnarSchema
	}
	return s.TensorSchema
}

func (s *Schema) Validate() error {
	if s == nil {
		return nil
	}
	if len(s.ColumnarSchema) > 0 && len(s.TensorSchema) > 0 {
		return errors.New("a schema is either columnar or tensor based, not both")
	}
	for i, f := range s.Features() {
		if f.Type == "" {
			return errors.Errorf("feature %d of the schema has no type", i)
		}
	}
	return nil
}

// ModelSchema describes the inputs and outputs of a model.
type ModelSchema struct {
	InputSchema  *Schema `json:"input_schema,omitempty"`
	OutputSchema *Schema `json:"output_schema,omitempty"`
}

func (m *ModelSchema) Validate() error {
	if err := m.InputSchema.Validate(); err != nil {
		return errors.Wrap(err, "invalid input schema")
	}
	if err := m.OutputSchema.Validate(); err != nil {
		return errors.Wrap(err, "invalid output schema")
	}
	return nil
}
