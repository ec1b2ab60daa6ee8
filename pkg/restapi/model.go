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

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/logicalclocks/hsml/pkg/apis/registry"
	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/constants"
)

// ModelAPI builds the model registry requests of a project.
type ModelAPI struct {
	c          *client.Context
	registryID int
}

// NewModelAPI returns the api of the registry with the given id, which is the project
// id for the project's own registry.
func NewModelAPI(c *client.Context, registryID int) *ModelAPI {
	if registryID == 0 {
		registryID = c.ProjectID
	}
	return &ModelAPI{c: c, registryID: registryID}
}

func (a *ModelAPI) modelsPath(extra ...string) []string {
	return append([]string{"project", a.c.ProjectIDString(), "modelregistries", strconv.Itoa(a.registryID), "models"}, extra...)
}

// Put registers the model and returns the backend view of it.
func (a *ModelAPI) Put(ctx context.Context, m *registry.Model) (*registry.Model, error) {
	if m.ID == "" {
		m.SetID()
	}
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodPut,
		Path:   a.modelsPath(m.ID),
		Body:   m,
	})
	if err != nil {
		return nil, err
	}
	return registry.ModelFromJSON(body)
}

// Get returns a model version, or nil when it does not exist.
func (a *ModelAPI) Get(ctx context.Context, name string, version int) (*registry.Model, error) {
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.modelsPath(name + "_" + strconv.Itoa(version)),
		Query:  url.Values{"expand": []string{"trainingdatasets"}},
	})
	if err != nil {
		if client.IsNotFound(err) || client.HasErrorCode(err, constants.ErrorCodeModelNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return registry.ModelFromJSON(body)
}

// GetModels returns every version of the model called name.
func (a *ModelAPI) GetModels(ctx context.Context, name string) ([]*registry.Model, error) {
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.modelsPath(),
		Query:  url.Values{"filter_by": []string{"name_eq:" + name}},
	})
	if err != nil {
		return nil, err
	}
	return registry.ModelsFromJSON(body)
}

// GetBestModel returns the version of name with the best value of metric.
func (a *ModelAPI) GetBestModel(ctx context.Context, name, metric string, direction registry.SortDirection) (*registry.Model, error) {
	order, err := direction.QueryValue()
	if err != nil {
		return nil, err
	}
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.modelsPath(),
		Query: url.Values{
			"filter_by": []string{"name_eq:" + name},
			"sort_by":   []string{metric + ":" + order},
			"limit":     []string{"1"},
		},
	})
	if err != nil {
		return nil, err
	}
	models, err := registry.ModelsFromJSON(body)
	if err != nil || len(models) == 0 {
		return nil, err
	}
	return models[0], nil
}

func (a *ModelAPI) Delete(ctx context.Context, m *registry.Model) error {
	_, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodDelete,
		Path:   a.modelsPath(m.ID),
	})
	return err
}

// SetTag attaches value, encoded as JSON, to the model under name.
func (a *ModelAPI) SetTag(ctx context.Context, m *registry.Model, name string, value interface{}) error {
	_, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodPut,
		Path:   a.modelsPath(m.ID, "tags", name),
		Body:   value,
	})
	return err
}

// GetTags returns every tag of the model.
func (a *ModelAPI) GetTags(ctx context.Context, m *registry.Model) ([]registry.Tag, error) {
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.modelsPath(m.ID, "tags"),
	})
	if err != nil {
		return nil, err
	}
	var tags []registry.Tag
	items := gjson.GetBytes(body, "items")
	if !items.Exists() {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(items.Raw), &tags); err != nil {
		return nil, errors.Wrap(err, "failed to decode tags")
	}
	return tags, nil
}

func (a *ModelAPI) DeleteTag(ctx context.Context, m *registry.Model, name string) error {
	_, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodDelete,
		Path:   a.modelsPath(m.ID, "tags", name),
	})
	return err
}
