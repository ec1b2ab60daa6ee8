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

package restapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/constants"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServingAPI builds the serving requests of a project.
type ServingAPI struct {
	c *client.Context

	mu          sync.Mutex
	grpcClients map[string]*GRPCInferenceClient
}

func NewServingAPI(c *client.Context) *ServingAPI {
	return &ServingAPI{c: c, grpcClients: map[string]*GRPCInferenceClient{}}
}

func (a *ServingAPI) servingPath(extra ...string) []string {
	return append([]string{"project", a.c.ProjectIDString(), "serving"}, extra...)
}

func predictorID(p *serving.Predictor) (string, error) {
	if p.ID == nil {
		return "", errors.Errorf("deployment %s has not been saved yet", p.Name)
	}
	return strconv.Itoa(*p.ID), nil
}

func decodePredictor(body []byte) (*serving.Predictor, error) {
	p := &serving.Predictor{}
	if err := json.Unmarshal(body, p); err != nil {
		return nil, errors.Wrap(err, "failed to decode deployment")
	}
	return p, nil
}

func decodePredictors(body []byte) ([]*serving.Predictor, error) {
	var predictors []*serving.Predictor
	for _, item := range gjson.ParseBytes(body).Array() {
		p, err := decodePredictor([]byte(item.Raw))
		if err != nil {
			return nil, err
		}
		predictors = append(predictors, p)
	}
	return predictors, nil
}

// GetByID returns the deployment with the given id.
func (a *ServingAPI) GetByID(ctx context.Context, id int) (*serving.Predictor, error) {
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.servingPath(strconv.Itoa(id)),
	})
	if err != nil {
		return nil, err
	}
	return decodePredictor(body)
}

// GetByName returns the deployment called name, or nil if there is none.
func (a *ServingAPI) GetByName(ctx context.Context, name string) (*serving.Predictor, error) {
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.servingPath(),
		Query:  url.Values{"name": []string{name}},
	})
	if err != nil {
		return nil, err
	}
	predictors, err := decodePredictors(body)
	if err != nil || len(predictors) == 0 {
		return nil, err
	}
	return predictors[0], nil
}

// GetAll lists the deployments of the project, optionally filtered by model name and status.
func (a *ServingAPI) GetAll(ctx context.Context, modelName string, status constants.PredictorStatus) ([]*serving.Predictor, error) {
	query := url.Values{}
	if modelName != "" {
		query.Set("model", modelName)
	}
	if status != "" {
		query.Set("status", string(status))
	}
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.servingPath(),
		Query:  query,
	})
	if err != nil {
		return nil, err
	}
	return decodePredictors(body)
}

// Put creates or updates a deployment and returns the backend view of it.
func (a *ServingAPI) Put(ctx context.Context, p *serving.Predictor) (*serving.Predictor, error) {
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodPut,
		Path:   a.servingPath(),
		Body:   p,
	})
	if err != nil {
		return nil, err
	}
	return decodePredictor(body)
}

// Post sends a START or STOP action.
func (a *ServingAPI) Post(ctx context.Context, p *serving.Predictor, action constants.DeploymentAction) error {
	id, err := predictorID(p)
	if err != nil {
		return err
	}
	_, err = a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodPost,
		Path:   a.servingPath(id),
		Query:  url.Values{"action": []string{string(action)}},
	})
	return err
}

func (a *ServingAPI) Delete(ctx context.Context, p *serving.Predictor) error {
	id, err := predictorID(p)
	if err != nil {
		return err
	}
	_, err = a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodDelete,
		Path:   a.servingPath(id),
	})
	return err
}

// GetState fetches a fresh state snapshot of a deployment.
func (a *ServingAPI) GetState(ctx context.Context, p *serving.Predictor) (*serving.PredictorState, error) {
	id, err := predictorID(p)
	if err != nil {
		return nil, err
	}
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.servingPath(id),
	})
	if err != nil {
		return nil, err
	}
	return serving.StateFromJSON(body)
}

// GetLogs fetches the last tail lines of every instance of component.
func (a *ServingAPI) GetLogs(ctx context.Context, p *serving.Predictor, component constants.Component, tail int) ([]serving.ComponentLogs, error) {
	id, err := predictorID(p)
	if err != nil {
		return nil, err
	}
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.servingPath(id, "logs"),
		Query: url.Values{
			"component": []string{string(component)},
			"tail":      []string{strconv.Itoa(tail)},
		},
	})
	if err != nil {
		return nil, err
	}
	var logs []serving.ComponentLogs
	if err := json.Unmarshal(body, &logs); err != nil {
		return nil, errors.Wrap(err, "failed to decode logs")
	}
	return logs, nil
}

// GetInferenceEndpoints lists the addresses of the model serving ingress.
func (a *ServingAPI) GetInferenceEndpoints(ctx context.Context) ([]serving.InferenceEndpoint, error) {
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   []string{"project", a.c.ProjectIDString(), "inference", "endpoints"},
	})
	if err != nil {
		return nil, err
	}
	var endpoints []serving.InferenceEndpoint
	if err := json.Unmarshal(body, &endpoints); err != nil {
		return nil, errors.Wrap(err, "failed to decode inference endpoints")
	}
	return endpoints, nil
}

// Close releases the gRPC connections opened for inference.
func (a *ServingAPI) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for host, c := range a.grpcClients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.grpcClients, host)
	}
	return firstErr
}
