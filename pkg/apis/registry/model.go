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
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"gopkg.in/go-playground/validator.v9"

	"github.com/logicalclocks/hsml/pkg/constants"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Model is a versioned model in the model registry.
type Model struct {
	ID                        string                   `json:"id,omitempty"`
	Name                      string                   `json:"name" validate:"required"`
	Version                   *int                     `json:"version,omitempty"`
	Framework                 constants.ModelFramework `json:"framework"`
	Description               string                   `json:"description,omitempty"`
	Created                   int64                    `json:"created,omitempty"`
	Creator                   string                   `json:"creator,omitempty"`
	UserFullName              string                   `json:"userFullName,omitempty"`
	Environment               []string                 `json:"environment,omitempty"`
	ExperimentID              string                   `json:"experimentId,omitempty"`
	ExperimentProjectName     string                   `json:"experimentProjectName,omitempty"`
	ProjectName               string                   `json:"projectName,omitempty"`
	Program                   string                   `json:"program,omitempty"`
	Metrics                   map[string]float64       `json:"metrics,omitempty"`
	InputExample              jsoniter.RawMessage      `json:"inputExample,omitempty"`
	ModelSchema               *ModelSchema             `json:"modelSchema,omitempty"`
	TrainingDataset           string                   `json:"trainingDataset,omitempty"`
	ModelRegistryID           int                      `json:"modelRegistryId,omitempty"`
	SharedRegistryProjectName string                   `json:"sharedRegistryProjectName,omitempty"`
	// Payload carries framework specific fields the registry does not interpret.
	Payload map[string]interface{} `json:"-"`
}

// ModelOption customizes a model built by NewModel.
type ModelOption func(*Model)

func WithVersion(version int) ModelOption {
	return func(m *Model) { m.Version = &version }
}

func WithDescription(description string) ModelOption {
	return func(m *Model) { m.Description = description }
}

func WithMetrics(metrics map[string]float64) ModelOption {
	return func(m *Model) { m.Metrics = metrics }
}

func WithInputExample(example interface{}) ModelOption {
	return func(m *Model) {
		if b, err := json.Marshal(example); err == nil {
			m.InputExample = b
		}
	}
}

func WithModelSchema(schema *ModelSchema) ModelOption {
	return func(m *Model) { m.ModelSchema = schema }
}

// modelBuilder sets the framework specific defaults of a new model.
type modelBuilder func(m *Model)

var modelBuilders = map[constants.ModelFramework]modelBuilder{
	constants.FrameworkTensorflow: func(m *Model) {
		m.Payload = map[string]interface{}{"modelServer": constants.ModelServerTFServing}
	},
	constants.FrameworkTorch: func(m *Model) {
		m.Payload = map[string]interface{}{"modelServer": constants.ModelServerPython}
	},
	constants.FrameworkSklearn: func(m *Model) {
		m.Payload = map[string]interface{}{"modelServer": constants.ModelServerPython}
	},
	constants.FrameworkPython: func(m *Model) {
		m.Payload = map[string]interface{}{"modelServer": constants.ModelServerPython, "requiresScript": true}
	},
}

// NewModel builds a model of the given framework.
func NewModel(framework constants.ModelFramework, name string, opts ...ModelOption) (*Model, error) {
	build, ok := modelBuilders[framework]
	if !ok {
		return nil, errors.Errorf("model framework '%s' is not supported", framework)
	}
	m := &Model{Name: name, Framework: framework}
	build(m)
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ModelFromJSON decodes a backend model, dispatching on its framework field.
func ModelFromJSON(data []byte) (*Model, error) {
	framework := constants.ModelFramework(strings.ToUpper(gjson.GetBytes(data, "framework").String()))
	if framework == "" {
		framework = constants.FrameworkPython
	}
	build, ok := modelBuilders[framework]
	if !ok {
		return nil, errors.Errorf("model framework '%s' is not supported", framework)
	}
	m := &Model{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(err, "failed to decode model")
	}
	m.Framework = framework
	build(m)
	return m, nil
}

// ModelsFromJSON decodes the items of a model collection response.
func ModelsFromJSON(data []byte) ([]*Model, error) {
	var models []*Model
	var err error
	gjson.GetBytes(data, "items").ForEach(func(_, value gjson.Result) bool {
		var m *Model
		m, err = ModelFromJSON([]byte(value.Raw))
		if err != nil {
			return false
		}
		models = append(models, m)
		return true
	})
	return models, err
}

var validate = validator.New()

// Validate checks the fields required to register the model.
func (m *Model) Validate() error {
	if err := validate.Struct(m); err != nil {
		return errors.Wrap(err, "invalid model")
	}
	if m.Version != nil && *m.Version < 1 {
		return errors.Errorf("model version must be greater than 0, got %d", *m.Version)
	}
	if m.ModelSchema != nil {
		return m.ModelSchema.Validate()
	}
	return nil
}

// ModelServer returns the server the framework is served with.
func (m *Model) ModelServer() constants.ModelServer {
	if s, ok := m.Payload["modelServer"].(constants.ModelServer); ok {
		return s
	}
	return constants.ModelServerPython
}

// VersionNumber returns the version, or 0 when unset.
func (m *Model) VersionNumber() int {
	if m.Version == nil {
		return 0
	}
	return *m.Version
}

// ModelPath is the registry directory of the model, shared by every version.
func (m *Model) ModelPath(projectName string) string {
	return constants.ModelsPath(projectName) + "/" + m.Name
}

// VersionPath is the registry directory of this version.
func (m *Model) VersionPath(projectName string) string {
	return m.ModelPath(projectName) + "/" + strconv.Itoa(m.VersionNumber())
}

// SetID derives the registry id from name and version.
func (m *Model) SetID() {
	m.ID = m.Name + "_" + strconv.Itoa(m.VersionNumber())
}

// Tag is a named JSON value attached to a model.
type Tag struct {
	Name  string              `json:"name"`
	Value jsoniter.RawMessage `json:"value"`
}

// SortDirection orders the models compared by GetBestModel.
type SortDirection string

const (
	SortMax SortDirection = "max"
	SortMin SortDirection = "min"
)

// QueryValue is the backend sort keyword for d.
func (d SortDirection) QueryValue() (string, error) {
	switch d {
	case SortMax:
		return "desc", nil
	case SortMin:
		return "asc", nil
	}
	return "", errors.Errorf("direction '%s' is not valid, use '%s' or '%s'", d, SortMax, SortMin)
}
