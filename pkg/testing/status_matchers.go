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

package testing

import (
	"fmt"

	"github.com/onsi/gomega/types"

	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/constants"
)

// HavePhase matches a *PredictorState whose status is phase.
func HavePhase(phase constants.PredictorStatus) types.GomegaMatcher {
	return &havePhaseMatcher{phase: phase}
}

type havePhaseMatcher struct {
	phase constants.PredictorStatus
}

func (m *havePhaseMatcher) Match(actual any) (bool, error) {
	state, err := toState(actual)
	if err != nil {
		return false, err
	}
	return state.Phase() == m.phase, nil
}

func (m *havePhaseMatcher) FailureMessage(actual any) string {
	return fmt.Sprintf("Expected deployment state to be %s, but it is %s", m.phase, describePhase(actual))
}

func (m *havePhaseMatcher) NegatedFailureMessage(actual any) string {
	return fmt.Sprintf("Expected deployment state not to be %s", m.phase)
}

// HaveCondition matches a *PredictorState whose last condition has the given type and
// outcome.
func HaveCondition(conditionType constants.ConditionType, status bool) types.GomegaMatcher {
	return &haveConditionMatcher{conditionType: conditionType, status: status}
}

type haveConditionMatcher struct {
	conditionType constants.ConditionType
	status        bool
}

func (m *haveConditionMatcher) Match(actual any) (bool, error) {
	state, err := toState(actual)
	if err != nil {
		return false, err
	}
	c := state.Condition
	return c != nil && c.Type == m.conditionType && c.Status != nil && *c.Status == m.status, nil
}

func (m *haveConditionMatcher) FailureMessage(actual any) string {
	state, _ := toState(actual)
	if state == nil || state.Condition == nil {
		return fmt.Sprintf("Expected condition %s with status %t, but no condition was found", m.conditionType, m.status)
	}
	c := state.Condition
	status := "unknown"
	if c.Status != nil {
		status = fmt.Sprintf("%t", *c.Status)
	}
	return fmt.Sprintf("Expected condition %s with status %t, but found %s with status %s (reason: %q)",
		m.conditionType, m.status, c.Type, status, c.Reason)
}

func (m *haveConditionMatcher) NegatedFailureMessage(actual any) string {
	return fmt.Sprintf("Expected condition not to be %s with status %t", m.conditionType, m.status)
}

func toState(actual any) (*servingapis.PredictorState, error) {
	state, ok := actual.(*servingapis.PredictorState)
	if !ok {
		return nil, fmt.Errorf("expected a *PredictorState, but got %T", actual)
	}
	if state == nil {
		return nil, fmt.Errorf("expected a non-nil *PredictorState")
	}
	return state, nil
}

func describePhase(actual any) string {
	state, err := toState(actual)
	if err != nil {
		return err.Error()
	}
	return string(state.Phase())
}
