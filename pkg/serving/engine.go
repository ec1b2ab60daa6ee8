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
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/constants"
	"github.com/logicalclocks/hsml/pkg/storage"
)

// ServingAPI is the remote surface the engine drives.
type ServingAPI interface {
	GetByID(ctx context.Context, id int) (*servingapis.Predictor, error)
	GetByName(ctx context.Context, name string) (*servingapis.Predictor, error)
	GetAll(ctx context.Context, modelName string, status constants.PredictorStatus) ([]*servingapis.Predictor, error)
	Put(ctx context.Context, p *servingapis.Predictor) (*servingapis.Predictor, error)
	Post(ctx context.Context, p *servingapis.Predictor, action constants.DeploymentAction) error
	Delete(ctx context.Context, p *servingapis.Predictor) error
	GetState(ctx context.Context, p *servingapis.Predictor) (*servingapis.PredictorState, error)
	GetLogs(ctx context.Context, p *servingapis.Predictor, component constants.Component, tail int) ([]servingapis.ComponentLogs, error)
	GetInferenceEndpoints(ctx context.Context) ([]servingapis.InferenceEndpoint, error)
	SendInferenceRequest(ctx context.Context, p *servingapis.Predictor, payload map[string]interface{}, throughHopsworks bool) (map[string]interface{}, error)
}

// ArtifactDownloader copies a file of the project datasets to the local filesystem.
type ArtifactDownloader interface {
	Download(ctx context.Context, remotePath, localPath string) error
}

// Engine drives deployments from their observed status to the status requested by the
// caller, polling the backend until the target is reached or the await budget runs out.
type Engine struct {
	api           ServingAPI
	artifacts     ArtifactDownloader
	clock         clock.Clock
	interval      time.Duration
	progress      ProgressFunc
	workDir       string
	deploymentURL func(id int) string
	log           logr.Logger
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

func WithProgress(f ProgressFunc) Option {
	return func(e *Engine) { e.progress = f }
}

func WithWorkDir(dir string) Option {
	return func(e *Engine) { e.workDir = dir }
}

func WithArtifactDownloader(d ArtifactDownloader) Option {
	return func(e *Engine) { e.artifacts = d }
}

// WithDeploymentURL sets how the UI url of a deployment is built.
func WithDeploymentURL(f func(id int) string) Option {
	return func(e *Engine) { e.deploymentURL = f }
}

func WithLogger(log logr.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(api ServingAPI, opts ...Option) *Engine {
	e := &Engine{
		api:      api,
		clock:    clock.RealClock{},
		interval: constants.DeploymentPollInterval,
		workDir:  constants.DefaultWorkDir,
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.progress == nil {
		e.progress = LogProgress(e.log.V(1))
	}
	return e
}

func (e *Engine) url(d *Deployment) string {
	if e.deploymentURL == nil || d.Predictor.ID == nil {
		return ""
	}
	return e.deploymentURL(*d.Predictor.ID)
}

// Start requests the deployment to start and waits up to await for RUNNING. An await of
// zero or less returns right after the request. Waiting for a CREATING deployment to be
// created counts against the same await.
func (e *Engine) Start(ctx context.Context, d *Deployment, await time.Duration) (*servingapis.PredictorState, error) {
	started := e.clock.Now()
	done, state, err := e.checkStatus(ctx, d, constants.StatusRunning)
	if err != nil || done {
		return state, err
	}

	prog := newStartProgress(d.Predictor, state, e.progress)
	prog.updateStarting(state, 0)
	if state.Phase() == constants.StatusCreating {
		if state, err = e.pollStatus(ctx, d, constants.StatusCreated, await, prog.updateStarting); err != nil {
			return state, err
		}
	}
	if err := e.api.Post(ctx, d.Predictor, constants.ActionStart); err != nil {
		if _, ok := client.AsRestAPIError(err); ok {
			e.rollback(ctx, d, err)
		}
		return state, err
	}
	if await <= 0 {
		return state, nil
	}

	remaining := await - e.clock.Since(started)
	if remaining <= 0 {
		return state, timeoutError(strings.ToLower(string(constants.StatusRunning)))
	}
	state, err = e.pollStatus(ctx, d, constants.StatusRunning, remaining, prog.updateStarting)
	if err != nil {
		return state, err
	}
	prog.updateStarting(state, state.AvailableInstances())
	return state, nil
}

// rollback sends a single STOP after the backend rejected a START request. Its own
// failure is logged and the start error is the one returned.
func (e *Engine) rollback(ctx context.Context, d *Deployment, cause error) {
	e.log.Info("Start request failed, stopping deployment", "deployment", d.Name, "error", cause.Error())
	if err := e.api.Post(ctx, d.Predictor, constants.ActionStop); err != nil {
		e.log.Error(err, "Failed to stop deployment after a failed start", "deployment", d.Name)
	}
}

// Stop requests the deployment to stop and waits up to await for STOPPED.
func (e *Engine) Stop(ctx context.Context, d *Deployment, await time.Duration) (*servingapis.PredictorState, error) {
	done, state, err := e.checkStatus(ctx, d, constants.StatusStopped)
	if err != nil || done {
		return state, err
	}

	prog := newStopProgress(d.Predictor, state, e.progress)
	prog.updateStopping(state, state.AvailableInstances())
	if err := e.api.Post(ctx, d.Predictor, constants.ActionStop); err != nil {
		return state, err
	}
	if await <= 0 {
		return state, nil
	}

	state, err = e.pollStatus(ctx, d, constants.StatusStopped, await, prog.updateStopping)
	if err != nil {
		return state, err
	}
	prog.updateStopping(state, state.AvailableInstances())
	return state, nil
}

// checkStatus reports whether the deployment already is, or is on its way to, desired.
func (e *Engine) checkStatus(ctx context.Context, d *Deployment, desired constants.PredictorStatus) (bool, *servingapis.PredictorState, error) {
	state, err := e.GetState(ctx, d)
	if err != nil {
		return false, nil, err
	}
	phase := state.Phase()
	switch desired {
	case constants.StatusRunning:
		switch phase {
		case constants.StatusRunning, constants.StatusIdle:
			e.log.Info("Deployment is already running", "deployment", d.Name)
			return true, state, nil
		case constants.StatusStarting:
			e.log.Info("Deployment is already starting", "deployment", d.Name)
			return true, state, nil
		case constants.StatusUpdating:
			e.log.Info("Deployment is already running and updating", "deployment", d.Name)
			return true, state, nil
		case constants.StatusStopping:
			return false, state, newError(ReasonPrecondition, "Deployment is stopping, please wait until it completely stops")
		}
	case constants.StatusStopped:
		switch phase {
		case constants.StatusCreating, constants.StatusCreated, constants.StatusStopped:
			e.log.Info("Deployment is already stopped", "deployment", d.Name)
			return true, state, nil
		case constants.StatusStopping:
			e.log.Info("Deployment is already stopping", "deployment", d.Name)
			return true, state, nil
		}
	}
	return false, state, nil
}

// pollStatus sleeps one interval before each state query, for await/interval rounds
// (rounded up), until target is observed.
func (e *Engine) pollStatus(ctx context.Context, d *Deployment, target constants.PredictorStatus, await time.Duration,
	update func(*servingapis.PredictorState, int)) (*servingapis.PredictorState, error) {
	if await <= 0 {
		return d.Predictor.State(), nil
	}
	iterations := int((await + e.interval - 1) / e.interval)
	for i := 0; i < iterations; i++ {
		if err := e.sleep(ctx); err != nil {
			return d.Predictor.State(), err
		}
		state, err := e.GetState(ctx, d)
		if err != nil {
			return nil, err
		}
		if update != nil {
			update(state, state.AvailableInstances())
		}
		if state.Phase() == target {
			return state, nil
		}
		if target == constants.StatusRunning && state.Phase() == constants.StatusFailed &&
			state.Condition != nil && state.Condition.Status != nil && !*state.Condition.Status {
			return state, newError(ReasonFailed, "Deployment failed to start: %s", state.Condition.Reason)
		}
	}
	return d.Predictor.State(), timeoutError(strings.ToLower(string(target)))
}

func (e *Engine) sleep(ctx context.Context) error {
	t := e.clock.NewTimer(e.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// Save creates the deployment, or updates it when the observed status allows it.
func (e *Engine) Save(ctx context.Context, d *Deployment, awaitUpdate time.Duration) error {
	if d.Predictor.ID == nil {
		return e.create(ctx, d)
	}
	state, err := e.GetState(ctx, d)
	if err != nil {
		return err
	}
	switch state.Phase() {
	case constants.StatusStarting:
		return newError(ReasonPrecondition, "Deployment is starting, please wait until it is running before applying changes. \n"+
			"Check the current status by using `.get_state()` or explore the server logs using `.get_logs()`")
	case constants.StatusUpdating:
		return newError(ReasonPrecondition, "Deployment is updating, please wait until it is running before applying changes. \n"+
			"Check the current status by using `.get_state()` or explore the server logs using `.get_logs()`")
	case constants.StatusStopping:
		return newError(ReasonPrecondition, "Deployment is stopping, please wait until it is stopped before applying changes")
	case constants.StatusRunning, constants.StatusIdle, constants.StatusFailed:
		if err := e.put(ctx, d); err != nil {
			return err
		}
		_, err := e.pollStatus(ctx, d, constants.StatusRunning, awaitUpdate, nil)
		return err
	case constants.StatusCreating, constants.StatusCreated, constants.StatusStopped:
		if err := e.put(ctx, d); err != nil {
			return err
		}
		e.log.Info("Deployment updated", "deployment", d.Name, "url", e.url(d))
		return nil
	}
	return newError(ReasonUnknownStatus, "Unknown deployment status: %s", state.Status)
}

func (e *Engine) put(ctx context.Context, d *Deployment) error {
	saved, err := e.api.Put(ctx, d.Predictor)
	if err != nil {
		return err
	}
	d.Predictor.UpdateFrom(saved)
	return nil
}

// create sends the first PUT. A deployment left behind with the same name, model and
// model version is adopted.
func (e *Engine) create(ctx context.Context, d *Deployment) error {
	err := e.put(ctx, d)
	if err == nil {
		e.log.Info("Deployment created", "deployment", d.Name, "url", e.url(d))
		return nil
	}
	if !client.HasErrorCode(err, constants.ErrorCodeDuplicatedEntry) {
		return err
	}
	existing, getErr := e.api.GetByName(ctx, d.Predictor.Name)
	if getErr != nil {
		return errors.Wrapf(getErr, "failed to get existing deployment %s", d.Predictor.Name)
	}
	if existing == nil || existing.ModelName != d.Predictor.ModelName || existing.ModelVersion != d.Predictor.ModelVersion {
		return newError(ReasonConflict, "A deployment with name '%s' already exists for a different model", d.Predictor.Name)
	}
	d.Predictor.UpdateFrom(existing)
	e.log.Info("Deployment already exists, using it", "deployment", d.Name, "id", *existing.ID)
	return nil
}

// Delete removes the deployment. Unless force is set it has to be stopped.
func (e *Engine) Delete(ctx context.Context, d *Deployment, force bool) error {
	state, err := e.GetState(ctx, d)
	if err != nil {
		return err
	}
	if !force {
		switch state.Phase() {
		case constants.StatusStopping:
			return newError(ReasonPrecondition, "Deployment is stopping, please wait until it is stopped before deleting it")
		case constants.StatusStopped, constants.StatusCreated, constants.StatusCreating:
		default:
			return newError(ReasonPrecondition, "Deployment not stopped, please stop it first by using `.stop()` or check its status with .get_state()")
		}
	}
	if err := e.api.Delete(ctx, d.Predictor); err != nil {
		return err
	}
	e.log.Info("Deployment deleted successfully", "deployment", d.Name)
	return nil
}

// GetState fetches the remote state and caches it on the predictor.
func (e *Engine) GetState(ctx context.Context, d *Deployment) (*servingapis.PredictorState, error) {
	if d.Predictor.ID == nil {
		return nil, newError(ReasonNotFound, "Deployment is not created yet. To create the deployment use `.save()`")
	}
	state, err := e.api.GetState(ctx, d.Predictor)
	if err != nil {
		if client.HasErrorCode(err, constants.ErrorCodeServingNotFound) {
			return nil, newError(ReasonNotFound, "Deployment '%s' not found", d.Name)
		}
		return nil, errors.Wrapf(err, "failed to get state of deployment %s", d.Name)
	}
	d.Predictor.SetState(state)
	return state, nil
}

// GetLogs returns the last tail lines of the component logs. Nothing is fetched while
// the deployment is stopping or stopped.
func (e *Engine) GetLogs(ctx context.Context, d *Deployment, component constants.Component, tail int) ([]servingapis.ComponentLogs, error) {
	if component == "" {
		component = constants.Predictor
	}
	switch component {
	case constants.Predictor:
	case constants.Transformer:
		if d.Predictor.Transformer == nil {
			return nil, newError(ReasonInvalidRequest, "Deployment '%s' has no transformer configured", d.Name)
		}
	default:
		return nil, newError(ReasonInvalidRequest, "Component '%s' is not valid. Possible values are '%s' and '%s'",
			component, constants.Predictor, constants.Transformer)
	}
	if tail <= 0 {
		tail = constants.DefaultLogsTail
	}

	state, err := e.GetState(ctx, d)
	if err != nil {
		return nil, err
	}
	switch state.Phase() {
	case constants.StatusStopping:
		e.log.Info("Deployment is stopping, explore historical logs at the deployment page", "url", e.url(d))
		return nil, nil
	case constants.StatusStopped:
		e.log.Info("Deployment not running, explore historical logs at the deployment page", "url", e.url(d))
		return nil, nil
	case constants.StatusStarting:
		e.log.Info("Deployment is starting, server logs might not be ready yet", "deployment", d.Name)
	}
	return e.api.GetLogs(ctx, d.Predictor, component, tail)
}

// Predict sends an inference request. Deployments not served by KServe are reached
// through Hopsworks; KServe deployments through the ingress.
func (e *Engine) Predict(ctx context.Context, d *Deployment, data map[string]interface{}, inputs interface{}) (map[string]interface{}, error) {
	payload, err := buildInferencePayload(d.Predictor, data, inputs)
	if err != nil {
		return nil, err
	}
	throughHopsworks := d.Predictor.ServingTool != constants.ServingToolKServe
	resp, err := e.api.SendInferenceRequest(ctx, d.Predictor, payload, throughHopsworks)
	if err == nil {
		return resp, nil
	}
	restErr, ok := client.AsRestAPIError(err)
	if !ok {
		return nil, err
	}
	if restErr.StatusCode == http.StatusNotFound ||
		restErr.ErrorCode == constants.ErrorCodeServingNotFound ||
		restErr.ErrorCode == constants.ErrorCodeDeploymentNotRunning {
		return nil, &ModelServingError{Reason: ReasonNotRunning, Message: msgNotRunning}
	}
	restErr.Hint = msgCheckLogs
	return nil, err
}

func buildInferencePayload(p *servingapis.Predictor, data map[string]interface{}, inputs interface{}) (map[string]interface{}, error) {
	if data != nil && inputs != nil {
		return nil, newError(ReasonInvalidRequest, "Inference data and inputs cannot be provided at the same time")
	}
	if data != nil {
		_, hasInstances := data["instances"]
		_, hasInputs := data["inputs"]
		if p.APIProtocol == constants.APIProtocolGRPC {
			if !hasInputs {
				return nil, newError(ReasonInvalidRequest, "Inference data is missing 'inputs' key")
			}
		} else if !hasInstances && !hasInputs {
			return nil, newError(ReasonInvalidRequest, "Inference data is missing 'instances' key")
		}
		return data, nil
	}
	if inputs == nil {
		return nil, newError(ReasonInvalidRequest, "Inference data or inputs must be provided")
	}
	if p.APIProtocol == constants.APIProtocolGRPC {
		return nil, newError(ReasonInvalidRequest, "gRPC deployments expect inference data with an 'inputs' key")
	}
	if isListOfLists(inputs) {
		return map[string]interface{}{"instances": inputs}, nil
	}
	return map[string]interface{}{"instances": []interface{}{inputs}}, nil
}

func isListOfLists(v interface{}) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return false
	}
	first := rv.Index(0)
	if first.Kind() == reflect.Interface {
		first = first.Elem()
	}
	return first.Kind() == reflect.Slice
}

// DownloadArtifact downloads and extracts the artifact of the deployment and returns the
// local directory holding its files.
func (e *Engine) DownloadArtifact(ctx context.Context, d *Deployment) (string, error) {
	p := d.Predictor
	if p.ID == nil {
		return "", newError(ReasonNotFound, "Deployment is not created yet. To create the deployment use `.save()`")
	}
	version, ok := p.ArtifactVersion.Number()
	if !ok {
		return "", newError(ReasonInvalidRequest, "Deployment '%s' has no artifact version, save it first to create one", d.Name)
	}
	if e.artifacts == nil {
		return "", errors.New("no artifact downloader configured")
	}

	modelVersion := strconv.Itoa(p.ModelVersion)
	artifactVersion := strconv.Itoa(version)
	fileName := fmt.Sprintf("%s_%s_%s.zip", p.ModelName, modelVersion, artifactVersion)
	remotePath := path.Join(p.ModelPath, modelVersion, constants.ArtifactsDir, artifactVersion, fileName)

	workDir := e.workDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		workDir = wd
	}
	localDir := filepath.Join(workDir, uuid.New().String(), p.ModelName, modelVersion, constants.ArtifactsDir, artifactVersion)
	zipPath := filepath.Join(localDir, fileName)

	if err := e.artifacts.Download(ctx, remotePath, zipPath); err != nil {
		return "", errors.Wrapf(err, "failed to download artifact %s", remotePath)
	}
	if err := storage.ExtractZip(zipPath, localDir); err != nil {
		return "", errors.Wrapf(err, "failed to extract artifact %s", fileName)
	}
	if err := os.Remove(zipPath); err != nil {
		return "", err
	}
	e.log.Info("Downloaded deployment artifact", "deployment", d.Name, "path", localDir)
	return localDir, nil
}
