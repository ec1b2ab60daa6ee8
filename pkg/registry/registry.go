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
	"context"

	jsoniter "github.com/json-iterator/go"

	registryapis "github.com/logicalclocks/hsml/pkg/apis/registry"
	"github.com/logicalclocks/hsml/pkg/constants"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ModelRegistry is the entry point to the models of a project registry.
type ModelRegistry struct {
	models ModelAPI
	engine *Engine
}

func NewModelRegistry(models ModelAPI, engine *Engine) *ModelRegistry {
	return &ModelRegistry{models: models, engine: engine}
}

// GetModel returns nil when the version does not exist.
func (r *ModelRegistry) GetModel(ctx context.Context, name string, version int) (*registryapis.Model, error) {
	return r.models.Get(ctx, name, version)
}

func (r *ModelRegistry) GetModels(ctx context.Context, name string) ([]*registryapis.Model, error) {
	return r.models.GetModels(ctx, name)
}

// GetBestModel returns the version of name with the highest or lowest metric value.
func (r *ModelRegistry) GetBestModel(ctx context.Context, name, metric string, direction registryapis.SortDirection) (*registryapis.Model, error) {
	return r.models.GetBestModel(ctx, name, metric, direction)
}

// CreateModel builds an unsaved model. Save registers it.
func (r *ModelRegistry) CreateModel(framework constants.ModelFramework, name string, opts ...registryapis.ModelOption) (*registryapis.Model, error) {
	return registryapis.NewModel(framework, name, opts...)
}

func (r *ModelRegistry) Engine() *Engine {
	return r.engine
}
