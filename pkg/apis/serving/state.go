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
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/logicalclocks/hsml/pkg/constants"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Condition is the most recent backend-side event of a deployment. Status is nil while
// the event is in progress.
type Condition struct {
	Type   constants.ConditionType `json:"type"`
	Status *bool                   `json:"status,omitempty"`
	Reason string                  `json:"reason,omitempty"`
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	type condition Condition
	var raw condition
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw.Type = constants.ConditionType(strings.ToUpper(string(raw.Type)))
	*c = Condition(raw)
	return nil
}

// PredictorState is a snapshot of the remote status of a deployment. A new value is
// decoded on every poll; it is never updated in place.
type PredictorState struct {
	AvailablePredictorInstances   int        `json:"availableInstances"`
	AvailableTransformerInstances *int       `json:"availableTransformerInstances,omitempty"`
	HopsworksInferencePath        string     `json:"hopsworksInferencePath,omitempty"`
	ModelServerInferencePath      string     `json:"modelServerInferencePath,omitempty"`
	InternalPort                  *int       `json:"internalPort,omitempty"`
	Revision                      *int       `json:"revision,omitempty"`
	Deployed                      bool       `json:"deployed,omitempty"`
	Condition                     *Condition `json:"condition,omitempty"`
	Status                        string     `json:"status"`
}

// StateFromJSON decodes a state response.
func StateFromJSON(data []byte) (*PredictorState, error) {
	s := &PredictorState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Phase is the upper-cased status used for comparisons.
func (s *PredictorState) Phase() constants.PredictorStatus {
	return constants.ParsePredictorStatus(s.Status)
}

// AvailableInstances sums the running instances of every component. Nothing is
// available while the deployment is being created.
func (s *PredictorState) AvailableInstances() int {
	if s.Phase() == constants.StatusCreating {
		return 0
	}
	n := s.AvailablePredictorInstances
	if s.AvailableTransformerInstances != nil {
		n += *s.AvailableTransformerInstances
	}
	return n
}

// ComponentLogs are the logs of one instance of a component.
type ComponentLogs struct {
	InstanceName string `json:"instanceName"`
	Content      string `json:"content"`
}

// EndpointPort is a named port of an inference endpoint.
type EndpointPort struct {
	Name   string `json:"name"`
	Number int    `json:"number"`
}

// InferenceEndpoint is an address where the model serving ingress can be reached.
type InferenceEndpoint struct {
	Type  string         `json:"type"`
	Hosts []string       `json:"hosts"`
	Ports []EndpointPort `json:"ports"`
}

// Port returns the port named name, or nil.
func (e *InferenceEndpoint) Port(name string) *EndpointPort {
	for i := range e.Ports {
		if strings.EqualFold(e.Ports[i].Name, name) {
			return &e.Ports[i]
		}
	}
	return nil
}

// Host returns the first host of the endpoint, or "".
func (e *InferenceEndpoint) Host() string {
	if len(e.Hosts) == 0 {
		return ""
	}
	return e.Hosts[0]
}
