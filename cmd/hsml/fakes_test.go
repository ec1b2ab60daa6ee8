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

package main

import (
	"context"
	"sort"
	"sync"

	registryapis "github.com/logicalclocks/hsml/pkg/apis/registry"
	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/constants"
)

// fakeServingAPI keeps deployments in memory. START and STOP take effect at once.
type fakeServingAPI struct {
	mu       sync.Mutex
	nextID   int
	byName   map[string]*servingapis.Predictor
	statuses map[string]constants.PredictorStatus
	calls    []string
	payloads []map[string]interface{}
}

func newFakeServingAPI() *fakeServingAPI {
	return &fakeServingAPI{
		nextID:   1,
		byName:   map[string]*servingapis.Predictor{},
		statuses: map[string]constants.PredictorStatus{},
	}
}

// add stores a saved predictor in the given status.
func (f *fakeServingAPI) add(spec servingapis.PredictorSpec, status constants.PredictorStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.byName[spec.Name] = &servingapis.Predictor{PredictorSpec: spec, ID: &id}
	f.statuses[spec.Name] = status
}

func (f *fakeServingAPI) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeServingAPI) copyOf(p *servingapis.Predictor) *servingapis.Predictor {
	c := &servingapis.Predictor{}
	c.UpdateFrom(p)
	return c
}

func (f *fakeServingAPI) GetByID(_ context.Context, id int) (*servingapis.Predictor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byName {
		if *p.ID == id {
			return f.copyOf(p), nil
		}
	}
	return nil, nil
}

func (f *fakeServingAPI) GetByName(_ context.Context, name string) (*servingapis.Predictor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byName[name]
	if !ok {
		return nil, nil
	}
	return f.copyOf(p), nil
}

func (f *fakeServingAPI) GetAll(_ context.Context, modelName string, status constants.PredictorStatus) ([]*servingapis.Predictor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*servingapis.Predictor
	for name, p := range f.byName {
		if modelName != "" && p.ModelName != modelName {
			continue
		}
		if status != "" && f.statuses[name] != status {
			continue
		}
		result = append(result, f.copyOf(p))
	}
	sort.Slice(result, func(i, j int) bool { return *result[i].ID < *result[j].ID })
	return result, nil
}

func (f *fakeServingAPI) Put(_ context.Context, p *servingapis.Predictor) (*servingapis.Predictor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("put:" + p.Name)
	saved := f.copyOf(p)
	if saved.ID == nil {
		id := f.nextID
		f.nextID++
		saved.ID = &id
		f.statuses[p.Name] = constants.StatusCreated
	}
	f.byName[p.Name] = saved
	return f.copyOf(saved), nil
}

func (f *fakeServingAPI) Post(_ context.Context, p *servingapis.Predictor, action constants.DeploymentAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("post:" + string(action))
	if action == constants.ActionStart {
		f.statuses[p.Name] = constants.StatusRunning
	} else {
		f.statuses[p.Name] = constants.StatusStopped
	}
	return nil
}

func (f *fakeServingAPI) Delete(_ context.Context, p *servingapis.Predictor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete:" + p.Name)
	delete(f.byName, p.Name)
	delete(f.statuses, p.Name)
	return nil
}

func (f *fakeServingAPI) GetState(_ context.Context, p *servingapis.Predictor) (*servingapis.PredictorState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.statuses[p.Name]
	state := &servingapis.PredictorState{Status: string(status)}
	if status == constants.StatusRunning {
		state.AvailablePredictorInstances = 1
	}
	return state, nil
}

func (f *fakeServingAPI) GetLogs(_ context.Context, p *servingapis.Predictor, component constants.Component, _ int) ([]servingapis.ComponentLogs, error) {
	return []servingapis.ComponentLogs{{InstanceName: p.Name + "-" + string(component) + "-0", Content: "server started"}}, nil
}

func (f *fakeServingAPI) GetInferenceEndpoints(_ context.Context) ([]servingapis.InferenceEndpoint, error) {
	return nil, nil
}

func (f *fakeServingAPI) SendInferenceRequest(_ context.Context, _ *servingapis.Predictor, payload map[string]interface{}, _ bool) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return map[string]interface{}{"predictions": []interface{}{1}}, nil
}

func (f *fakeServingAPI) status(name string) constants.PredictorStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[name]
}

// fakeModelAPI serves the versions in models and records tags.
type fakeModelAPI struct {
	mu     sync.Mutex
	models []*registryapis.Model
	tags   []registryapis.Tag
}

func (f *fakeModelAPI) Put(_ context.Context, m *registryapis.Model) (*registryapis.Model, error) {
	saved := *m
	return &saved, nil
}

func (f *fakeModelAPI) Get(_ context.Context, name string, version int) (*registryapis.Model, error) {
	for _, m := range f.models {
		if m.Name == name && m.VersionNumber() == version {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeModelAPI) GetModels(_ context.Context, name string) ([]*registryapis.Model, error) {
	var result []*registryapis.Model
	for _, m := range f.models {
		if m.Name == name {
			result = append(result, m)
		}
	}
	return result, nil
}

func (f *fakeModelAPI) GetBestModel(_ context.Context, name, metric string, direction registryapis.SortDirection) (*registryapis.Model, error) {
	var best *registryapis.Model
	for _, m := range f.models {
		v, ok := m.Metrics[metric]
		if m.Name != name || !ok {
			continue
		}
		if best == nil ||
			(direction == registryapis.SortMax && v > best.Metrics[metric]) ||
			(direction == registryapis.SortMin && v < best.Metrics[metric]) {
			best = m
		}
	}
	return best, nil
}

func (f *fakeModelAPI) Delete(_ context.Context, m *registryapis.Model) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.models[:0]
	for _, existing := range f.models {
		if existing != m {
			kept = append(kept, existing)
		}
	}
	f.models = kept
	return nil
}

func (f *fakeModelAPI) SetTag(_ context.Context, _ *registryapis.Model, name string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.tags = append(f.tags, registryapis.Tag{Name: name, Value: b})
	return nil
}

func (f *fakeModelAPI) GetTags(_ context.Context, _ *registryapis.Model) ([]registryapis.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tags, nil
}

func (f *fakeModelAPI) DeleteTag(_ context.Context, _ *registryapis.Model, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.tags[:0]
	for _, t := range f.tags {
		if t.Name != name {
			kept = append(kept, t)
		}
	}
	f.tags = kept
	return nil
}
