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
	"time"

	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/constants"
)

// Deployment is a handle on a predictor stored in the backend. Operations go through the
// engine; the status helpers read the state cached by the last query.
type Deployment struct {
	Name      string
	Predictor *servingapis.Predictor

	engine *Engine
}

func newDeployment(p *servingapis.Predictor, engine *Engine) *Deployment {
	return &Deployment{Name: p.Name, Predictor: p, engine: engine}
}

// ID returns the backend id, or 0 when the deployment has not been saved.
func (d *Deployment) ID() int {
	if d.Predictor.ID == nil {
		return 0
	}
	return *d.Predictor.ID
}

// Save persists the deployment. Changes to a running deployment are awaited until it is
// running again.
func (d *Deployment) Save(ctx context.Context, awaitUpdate time.Duration) error {
	return d.engine.Save(ctx, d, awaitUpdate)
}

func (d *Deployment) Start(ctx context.Context, awaitRunning time.Duration) (*servingapis.PredictorState, error) {
	return d.engine.Start(ctx, d, awaitRunning)
}

func (d *Deployment) Stop(ctx context.Context, awaitStopped time.Duration) (*servingapis.PredictorState, error) {
	return d.engine.Stop(ctx, d, awaitStopped)
}

// Deploy saves and starts the deployment with the default waits.
func (d *Deployment) Deploy(ctx context.Context) (*servingapis.PredictorState, error) {
	if err := d.Save(ctx, constants.DefaultAwaitUpdate); err != nil {
		return nil, err
	}
	return d.Start(ctx, constants.DefaultAwaitRunning)
}

func (d *Deployment) Delete(ctx context.Context, force bool) error {
	return d.engine.Delete(ctx, d, force)
}

// Predict sends either a complete payload in data or the raw inputs to wrap into one.
func (d *Deployment) Predict(ctx context.Context, data map[string]interface{}, inputs interface{}) (map[string]interface{}, error) {
	return d.engine.Predict(ctx, d, data, inputs)
}

func (d *Deployment) GetState(ctx context.Context) (*servingapis.PredictorState, error) {
	return d.engine.GetState(ctx, d)
}

func (d *Deployment) GetLogs(ctx context.Context, component constants.Component, tail int) ([]servingapis.ComponentLogs, error) {
	return d.engine.GetLogs(ctx, d, component, tail)
}

// DownloadArtifact returns the local directory holding the extracted artifact files.
func (d *Deployment) DownloadArtifact(ctx context.Context) (string, error) {
	return d.engine.DownloadArtifact(ctx, d)
}

// GetURL returns the deployment page in the Hopsworks UI.
func (d *Deployment) GetURL() string {
	return d.engine.url(d)
}

func (d *Deployment) phase() constants.PredictorStatus {
	state := d.Predictor.State()
	if state == nil {
		return ""
	}
	return state.Phase()
}

func (d *Deployment) IsCreated() bool {
	phase := d.phase()
	return phase != "" && phase != constants.StatusCreating
}

// IsRunning reports RUNNING, optionally counting IDLE and UPDATING as running.
func (d *Deployment) IsRunning(orIdle, orUpdating bool) bool {
	switch d.phase() {
	case constants.StatusRunning:
		return true
	case constants.StatusIdle:
		return orIdle
	case constants.StatusUpdating:
		return orUpdating
	}
	return false
}

// IsStopped reports STOPPED, optionally counting CREATED as stopped.
func (d *Deployment) IsStopped(orCreated bool) bool {
	switch d.phase() {
	case constants.StatusStopped:
		return true
	case constants.StatusCreated:
		return orCreated
	}
	return false
}
