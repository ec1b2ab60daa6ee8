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
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/constants"
	"github.com/logicalclocks/hsml/pkg/platform"
)

// VariablesAPI reads cluster variables exposed by Hopsworks.
type VariablesAPI struct {
	c client.Client
}

func NewVariablesAPI(c client.Client) *VariablesAPI {
	return &VariablesAPI{c: c}
}

// GetVariable returns the value of a variable.
func (a *VariablesAPI) GetVariable(ctx context.Context, name string) (string, error) {
	body, err := a.c.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   []string{"variables", name},
	})
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "successMessage").String(), nil
}

// lookup returns fallback when the variable is not defined in the cluster.
func (a *VariablesAPI) lookup(ctx context.Context, name, fallback string) (string, error) {
	v, err := a.GetVariable(ctx, name)
	if err != nil {
		if client.IsNotFound(err) {
			return fallback, nil
		}
		return "", errors.Wrapf(err, "failed to read variable %s", name)
	}
	if v == "" {
		return fallback, nil
	}
	return v, nil
}

// Capabilities reads what the cluster behind host supports.
func (a *VariablesAPI) Capabilities(ctx context.Context, host string) (platform.Capabilities, error) {
	caps := platform.Default()
	caps.SaaS = platform.IsSaaSHost(host)

	boolVars := map[string]*bool{
		constants.VariableKServeInstalled:     &caps.KServeInstalled,
		constants.VariableScaleToZeroRequired: &caps.ScaleToZeroRequired,
	}
	for name, dst := range boolVars {
		v, err := a.lookup(ctx, name, "false")
		if err != nil {
			return caps, err
		}
		*dst = strings.EqualFold(v, "true")
	}

	intVars := map[string]*int{
		constants.VariableMaxMemory:       &caps.MaxResources.Memory,
		constants.VariableMaxGpus:         &caps.MaxResources.Gpus,
		constants.VariableMinNumInstances: &caps.NumInstances.Min,
		constants.VariableMaxNumInstances: &caps.NumInstances.Max,
	}
	for name, dst := range intVars {
		v, err := a.lookup(ctx, name, strconv.Itoa(*dst))
		if err != nil {
			return caps, err
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return caps, errors.Wrapf(err, "invalid value %q for variable %s", v, name)
		}
		*dst = n
	}

	cores, err := a.lookup(ctx, constants.VariableMaxCores, strconv.Itoa(constants.ResourcesNoLimit))
	if err != nil {
		return caps, err
	}
	if caps.MaxResources.Cores, err = strconv.ParseFloat(cores, 64); err != nil {
		return caps, errors.Wrapf(err, "invalid value %q for variable %s", cores, constants.VariableMaxCores)
	}

	if caps.KnativeDomain, err = a.lookup(ctx, constants.VariableKnativeDomainName, constants.DefaultKnativeDomain); err != nil {
		return caps, err
	}
	return caps, nil
}

// ProjectAPI resolves project names and ids.
type ProjectAPI struct {
	c client.Client
}

func NewProjectAPI(c client.Client) *ProjectAPI {
	return &ProjectAPI{c: c}
}

// GetProjectID returns the id of the project called name.
func (a *ProjectAPI) GetProjectID(ctx context.Context, name string) (int, error) {
	body, err := a.c.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   []string{"project", "getProjectInfo", name},
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get project %s", name)
	}
	id := gjson.GetBytes(body, "projectId")
	if !id.Exists() {
		return 0, errors.Errorf("project %s has no id in response", name)
	}
	return int(id.Int()), nil
}

// GetProjectName returns the name of the project with the given id.
func (a *ProjectAPI) GetProjectName(ctx context.Context, id int) (string, error) {
	body, err := a.c.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   []string{"project", strconv.Itoa(id)},
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to get project %d", id)
	}
	return gjson.GetBytes(body, "projectName").String(), nil
}
