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

package serving

import (
	"context"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	registryapis "github.com/logicalclocks/hsml/pkg/apis/registry"
	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/constants"
	"github.com/logicalclocks/hsml/pkg/platform"
)

// ModelServing is the entry point to the deployments of a project.
type ModelServing struct {
	api         ServingAPI
	engine      *Engine
	caps        platform.Capabilities
	projectName string
	log         logr.Logger
}

func NewModelServing(api ServingAPI, caps platform.Capabilities, projectName string, opts ...Option) *ModelServing {
	engine := NewEngine(api, opts...)
	return &ModelServing{
		api:         api,
		engine:      engine,
		caps:        caps,
		projectName: projectName,
		log:         engine.log,
	}
}

// GetDeploymentByID returns nil when no deployment has the id.
func (s *ModelServing) GetDeploymentByID(ctx context.Context, id int) (*Deployment, error) {
	p, err := s.api.GetByID(ctx, id)
	if err != nil {
		if isServingNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return newDeployment(p, s.engine), nil
}

// GetDeployment returns nil when no deployment has the name.
func (s *ModelServing) GetDeployment(ctx context.Context, name string) (*Deployment, error) {
	p, err := s.api.GetByName(ctx, name)
	if err != nil || p == nil {
		return nil, err
	}
	return newDeployment(p, s.engine), nil
}

// GetDeployments lists the deployments, optionally filtered by model name and status.
func (s *ModelServing) GetDeployments(ctx context.Context, modelName string, status string) ([]*Deployment, error) {
	var st constants.PredictorStatus
	if status != "" {
		st = constants.ParsePredictorStatus(status)
		if !st.Known() {
			names := make([]string, 0, len(constants.PredictorStatuses))
			for _, known := range constants.PredictorStatuses {
				names = append(names, string(known))
			}
			return nil, newError(ReasonInvalidRequest, "Deployment status '%s' is not valid. Possible values are '%s'",
				status, strings.Join(names, ", "))
		}
	}
	predictors, err := s.api.GetAll(ctx, modelName, st)
	if err != nil {
		return nil, err
	}
	deployments := make([]*Deployment, 0, len(predictors))
	for _, p := range predictors {
		deployments = append(deployments, newDeployment(p, s.engine))
	}
	return deployments, nil
}

func (s *ModelServing) GetInferenceEndpoints(ctx context.Context) ([]servingapis.InferenceEndpoint, error) {
	return s.api.GetInferenceEndpoints(ctx)
}

// CreatePredictor defaults and validates spec against the capabilities of the cluster.
func (s *ModelServing) CreatePredictor(spec servingapis.PredictorSpec) (*servingapis.Predictor, error) {
	return servingapis.NewPredictor(spec, s.caps)
}

// CreateTransformer returns a transformer running scriptFile. Nil resources are defaulted
// when the transformer is attached to a predictor.
func (s *ModelServing) CreateTransformer(scriptFile string, resources *servingapis.ComponentResources) (*servingapis.Transformer, error) {
	if scriptFile == "" {
		return nil, errors.New("transformer script file is required")
	}
	if resources != nil {
		resources.Kind = constants.Transformer
	}
	return &servingapis.Transformer{ScriptFile: scriptFile, Resources: resources}, nil
}

// CreateDeployment wraps a predictor in an unsaved deployment. A non-empty name
// overrides the predictor name.
func (s *ModelServing) CreateDeployment(p *servingapis.Predictor, name string) *Deployment {
	if name != "" {
		p.Name = name
	}
	return newDeployment(p, s.engine)
}

// PredictorForModel builds a predictor serving the given registry model. The deployment
// name defaults to the model name.
func (s *ModelServing) PredictorForModel(model *registryapis.Model, spec servingapis.PredictorSpec) (*servingapis.Predictor, error) {
	if model == nil || model.Version == nil {
		return nil, errors.New("model must be registered before it can be deployed")
	}
	spec.ModelName = model.Name
	spec.ModelPath = model.ModelPath(s.projectName)
	spec.ModelVersion = *model.Version
	spec.ModelFramework = model.Framework
	if spec.Name == "" {
		spec.Name = model.Name
	}
	if spec.ModelServer == "" {
		spec.ModelServer = model.ModelServer()
	}
	return s.CreatePredictor(spec)
}

func isServingNotFound(err error) bool {
	return client.HasErrorCode(err, constants.ErrorCodeServingNotFound) || client.IsNotFound(err)
}
