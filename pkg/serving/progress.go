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
	"github.com/go-logr/logr"

	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/constants"
)

// ProgressFunc receives the completed steps out of total and a description of the current step.
type ProgressFunc func(current, total int, description string)

// LogProgress returns a ProgressFunc that logs every update.
func LogProgress(log logr.Logger) ProgressFunc {
	return func(current, total int, description string) {
		log.Info(description, "step", current, "total", total)
	}
}

func conditionIndex(steps []constants.ConditionType, t constants.ConditionType) int {
	for i, s := range steps {
		if s == t {
			return i
		}
	}
	return 0
}

// progress tracks a start or stop transition in steps. With conditions, steps are the
// condition types plus one step per instance; without, only instances are counted.
type progress struct {
	current     int
	total       int
	description string
	notify      ProgressFunc
}

func (p *progress) set(step int, description string) {
	if step < 0 {
		step = 0
	}
	if step > p.total {
		step = p.total
	}
	p.current = step
	if description != "" {
		p.description = description
	}
	if p.notify != nil {
		p.notify(p.current, p.total, p.description)
	}
}

// minStartingInstances is the number of instances a start waits for.
func minStartingInstances(p *servingapis.Predictor) int {
	if p.ServingTool == constants.ServingToolKServe {
		return 1
	}
	return p.RequestedInstances()
}

func newStartProgress(p *servingapis.Predictor, state *servingapis.PredictorState, notify ProgressFunc) *progress {
	total := minStartingInstances(p)
	if state != nil && state.Condition != nil {
		total += len(constants.StartSteps) - 1
	}
	return &progress{total: total, description: "Creating deployment", notify: notify}
}

func (p *progress) updateStarting(state *servingapis.PredictorState, numInstances int) {
	if state.Condition == nil {
		switch {
		case state.Phase() == constants.StatusRunning:
			p.set(numInstances, "Deployment is ready")
		case p.current > 0:
			p.set(numInstances, "Deployment is starting")
		default:
			p.set(numInstances, "")
		}
		return
	}
	step := conditionIndex(constants.StartSteps, state.Condition.Type)
	if state.Condition.Type == constants.ConditionStarted || state.Condition.Type == constants.ConditionReady {
		step += numInstances
	}
	description := state.Condition.Reason
	if state.Phase() == constants.StatusFailed {
		description = "Deployment failed to start"
	}
	p.set(step, description)
}

func newStopProgress(p *servingapis.Predictor, state *servingapis.PredictorState, notify ProgressFunc) *progress {
	total := p.RequestedInstances()
	if state != nil && state.Condition != nil {
		total += len(constants.StopSteps)
	}
	return &progress{total: total, description: "Preparing to stop deployment", notify: notify}
}

func (p *progress) updateStopping(state *servingapis.PredictorState, numInstances int) {
	if state.Condition == nil {
		description := "Stopping deployment"
		if state.Phase() == constants.StatusStopped {
			description = "Deployment is stopped"
		}
		p.set(p.total-numInstances, description)
		return
	}
	step := 0
	inProgress := state.Condition.Status == nil || *state.Condition.Status
	switch state.Condition.Type {
	case constants.ConditionScheduled:
		if state.Condition.Status == nil {
			step = 1
		}
	case constants.ConditionStopped:
		stopped := (p.total - len(constants.StopSteps)) - numInstances
		if inProgress {
			step = len(constants.StopSteps) + stopped
		}
	}
	description := ""
	if state.Condition.Type != constants.ConditionReady && state.Phase() != constants.StatusFailed {
		description = state.Condition.Reason
		if state.Phase() == constants.StatusStopped {
			description = "Deployment is stopped"
		}
	}
	p.set(step, description)
}
