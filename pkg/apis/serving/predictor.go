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
	"strconv"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/logicalclocks/hsml/pkg/constants"
	"github.com/logicalclocks/hsml/pkg/platform"
)

// ArtifactVersion is either a version number or constants.ArtifactVersionCreate.
// The empty value means the deployment has no artifact.
type ArtifactVersion string

// ArtifactVersionNumber returns the ArtifactVersion for version n.
func ArtifactVersionNumber(n int) ArtifactVersion {
	return ArtifactVersion(strconv.Itoa(n))
}

func (a ArtifactVersion) IsCreate() bool {
	return string(a) == constants.ArtifactVersionCreate
}

// Number returns the version number, false when a is unset or CREATE.
func (a ArtifactVersion) Number() (int, bool) {
	n, err := strconv.Atoi(string(a))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (a ArtifactVersion) MarshalJSON() ([]byte, error) {
	if n, ok := a.Number(); ok {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(string(a))
}

func (a *ArtifactVersion) UnmarshalJSON(data []byte) error {
	v := gjson.ParseBytes(data)
	switch v.Type {
	case gjson.Number:
		*a = ArtifactVersionNumber(int(v.Int()))
	case gjson.String:
		*a = ArtifactVersion(v.String())
	case gjson.Null:
		*a = ""
	default:
		return errors.Errorf("invalid artifact version %s", string(data))
	}
	return nil
}

// PredictorSpec is the user facing description of a predictor, as written in code or
// in a manifest. NewPredictor turns it into a validated Predictor.
type PredictorSpec struct {
	Name             string                   `json:"name" validate:"required,alphanum,max=30"`
	Description      string                   `json:"description,omitempty"`
	ModelName        string                   `json:"modelName" validate:"required"`
	ModelPath        string                   `json:"modelPath" validate:"required"`
	ModelVersion     int                      `json:"modelVersion" validate:"gte=1"`
	ModelFramework   constants.ModelFramework `json:"modelFramework,omitempty"`
	ArtifactVersion  ArtifactVersion          `json:"artifactVersion,omitempty"`
	ScriptFile       string                   `json:"scriptFile,omitempty"`
	ModelServer      constants.ModelServer    `json:"modelServer,omitempty"`
	ServingTool      constants.ServingTool    `json:"servingTool,omitempty"`
	APIProtocol      constants.APIProtocol    `json:"apiProtocol,omitempty"`
	Resources        *ComponentResources      `json:"resources,omitempty"`
	InferenceLogger  *InferenceLogger         `json:"inferenceLogger,omitempty"`
	InferenceBatcher *InferenceBatcher        `json:"inferenceBatcher,omitempty"`
	Transformer      *Transformer             `json:"transformer,omitempty"`
}

// Predictor describes what is deployed. ID, CreatedAt and Creator are set by the backend.
type Predictor struct {
	PredictorSpec

	ID               *int
	CreatedAt        string
	Creator          string
	ProjectNamespace string

	state *PredictorState
}

// NewPredictor defaults and validates spec against the platform.
func NewPredictor(spec PredictorSpec, caps platform.Capabilities) (*Predictor, error) {
	p := &Predictor{PredictorSpec: spec}
	if err := ValidateServingTool(p.ServingTool, caps); err != nil {
		return nil, err
	}
	p.Default(caps)
	if err := p.Validate(caps); err != nil {
		return nil, err
	}
	return p, nil
}

// Default resolves the serving tool, the model server, the artifact version and the
// sizing of every component.
func (p *Predictor) Default(caps platform.Capabilities) {
	if p.ServingTool == "" {
		p.ServingTool = DefaultServingTool(caps)
	}
	if p.ModelServer == "" {
		p.ModelServer = InferModelServer(p.ModelFramework)
	}
	if p.APIProtocol == "" {
		p.APIProtocol = constants.APIProtocolREST
	}
	if p.ArtifactVersion == "" {
		p.ArtifactVersion = constants.ArtifactVersionCreate
	}
	if p.Resources == nil {
		p.Resources = DefaultResources(constants.Predictor, p.ServingTool, caps)
	} else {
		fillResources(p.Resources, constants.Predictor, p.ServingTool, caps)
	}
	if p.Transformer != nil {
		if p.Transformer.Resources == nil {
			p.Transformer.Resources = DefaultResources(constants.Transformer, p.ServingTool, caps)
		} else {
			fillResources(p.Transformer.Resources, constants.Transformer, p.ServingTool, caps)
		}
	}
	if p.InferenceLogger != nil {
		p.InferenceLogger.Default()
	}
	if p.InferenceBatcher == nil {
		p.InferenceBatcher = &InferenceBatcher{}
	}
}

// Validate checks the whole predictor. It does not modify it.
func (p *Predictor) Validate(caps platform.Capabilities) error {
	if err := validateStruct(&p.PredictorSpec); err != nil {
		return err
	}
	if err := ValidateServingTool(p.ServingTool, caps); err != nil {
		return err
	}
	if err := validateFramework(p.ModelFramework); err != nil {
		return err
	}
	if err := validateModelServer(p.ModelServer); err != nil {
		return err
	}
	if err := ValidateScriptFile(p.ModelFramework, p.ScriptFile); err != nil {
		return err
	}
	if err := p.validateResources(p.Resources, caps); err != nil {
		return err
	}
	if p.Transformer != nil {
		if p.ServingTool != constants.ServingToolKServe {
			return configErrorf("transformer", "Transformers are only supported in deployments using KServe as serving tool")
		}
		if p.Transformer.ScriptFile == "" {
			return configErrorf("transformer.scriptFile", "Transformer script file is required")
		}
		if err := p.validateResources(p.Transformer.Resources, caps); err != nil {
			return err
		}
	}
	if p.APIProtocol == constants.APIProtocolGRPC {
		if p.ServingTool != constants.ServingToolKServe {
			return configErrorf("apiProtocol", "gRPC protocol is only supported in deployments using KServe as serving tool")
		}
		if p.InferenceLogger.Enabled() {
			return configErrorf("inferenceLogger", "Inference logging is not supported with gRPC protocol")
		}
	} else if p.APIProtocol != constants.APIProtocolREST {
		return configErrorf("apiProtocol", "API protocol '%s' is not valid. Possible values are '%s' and '%s'",
			p.APIProtocol, constants.APIProtocolREST, constants.APIProtocolGRPC)
	}
	if p.InferenceLogger != nil {
		if err := p.InferenceLogger.Validate(); err != nil {
			return err
		}
	}
	if p.InferenceBatcher != nil {
		if err := p.InferenceBatcher.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Predictor) validateResources(r *ComponentResources, caps platform.Capabilities) error {
	if err := ValidateResources(r, p.ServingTool, caps); err != nil {
		return err
	}
	if r == nil {
		return nil
	}
	return validateResourceRanges(r, p.ServingTool, caps)
}

// State returns the snapshot cached by the last state query, or nil.
func (p *Predictor) State() *PredictorState {
	return p.state
}

// SetState caches a state snapshot.
func (p *Predictor) SetState(s *PredictorState) {
	p.state = s
}

// RequestedInstances is the sum of the instances requested by every component.
func (p *Predictor) RequestedInstances() int {
	n := 0
	if p.Resources != nil {
		n += p.Resources.Instances()
	}
	if p.Transformer != nil && p.Transformer.Resources != nil {
		n += p.Transformer.Resources.Instances()
	}
	return n
}

// UpdateFrom copies the backend view of other into p, keeping the cached state.
func (p *Predictor) UpdateFrom(other *Predictor) {
	state := p.state
	*p = *other
	p.state = state
}

func (p *Predictor) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"name":         p.Name,
		"modelName":    p.ModelName,
		"modelPath":    p.ModelPath,
		"modelVersion": p.ModelVersion,
		"modelServer":  p.ModelServer,
		"servingTool":  p.ServingTool,
	}
	if p.ID != nil {
		m["id"] = *p.ID
	}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if p.ModelFramework != "" {
		m["modelFramework"] = p.ModelFramework
	}
	if p.ArtifactVersion != "" {
		m["artifactVersion"] = p.ArtifactVersion
	}
	if p.ScriptFile != "" {
		m["predictor"] = p.ScriptFile
	}
	if p.APIProtocol != "" {
		m["apiProtocol"] = p.APIProtocol
	}
	if p.Resources != nil {
		r := *p.Resources
		r.Kind = constants.Predictor
		r.extend(m)
	}
	if p.Transformer != nil {
		m["transformer"] = p.Transformer.ScriptFile
		if p.Transformer.Resources != nil {
			r := *p.Transformer.Resources
			r.Kind = constants.Transformer
			r.extend(m)
		}
	}
	if p.InferenceLogger != nil {
		if p.InferenceLogger.Mode != "" {
			m["inferenceLogging"] = p.InferenceLogger.Mode
		}
		if p.InferenceLogger.KafkaTopic != nil {
			m["kafkaTopicDTO"] = p.InferenceLogger.KafkaTopic
		}
	}
	if p.InferenceBatcher != nil {
		m["batchingConfiguration"] = p.InferenceBatcher
	}
	if p.CreatedAt != "" {
		m["created"] = p.CreatedAt
	}
	if p.Creator != "" {
		m["creator"] = p.Creator
	}
	if p.ProjectNamespace != "" {
		m["projectNamespace"] = p.ProjectNamespace
	}
	return json.Marshal(m)
}

func (p *Predictor) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("invalid predictor json")
	}
	parsed := gjson.ParseBytes(data)
	out := Predictor{}
	if v := parsed.Get("id"); v.Exists() && v.Type != gjson.Null {
		id := int(v.Int())
		out.ID = &id
	}
	out.Name = parsed.Get("name").String()
	out.Description = parsed.Get("description").String()
	out.ModelName = parsed.Get("modelName").String()
	out.ModelPath = parsed.Get("modelPath").String()
	out.ModelVersion = int(parsed.Get("modelVersion").Int())
	out.ModelServer = constants.ModelServer(parsed.Get("modelServer").String())
	out.ServingTool = constants.ServingTool(parsed.Get("servingTool").String())
	out.APIProtocol = constants.APIProtocol(parsed.Get("apiProtocol").String())
	out.ModelFramework = constants.ModelFramework(parsed.Get("modelFramework").String())
	if out.ModelFramework == "" {
		if out.ModelServer == constants.ModelServerTFServing {
			out.ModelFramework = constants.FrameworkTensorflow
		} else {
			out.ModelFramework = constants.FrameworkPython
		}
	}
	if v := parsed.Get("artifactVersion"); v.Exists() {
		if err := out.ArtifactVersion.UnmarshalJSON([]byte(v.Raw)); err != nil {
			return err
		}
	}
	out.ScriptFile = parsed.Get("predictor").String()
	out.CreatedAt = parsed.Get("created").String()
	out.Creator = parsed.Get("creator").String()
	out.ProjectNamespace = parsed.Get("projectNamespace").String()

	resources, err := componentResourcesFromWire(constants.Predictor, parsed)
	if err != nil {
		return err
	}
	out.Resources = resources
	if script := parsed.Get("transformer").String(); script != "" {
		tr, err := componentResourcesFromWire(constants.Transformer, parsed)
		if err != nil {
			return err
		}
		out.Transformer = &Transformer{ScriptFile: script, Resources: tr}
	}
	mode := constants.InferenceLoggingMode(parsed.Get("inferenceLogging").String())
	if topic := parsed.Get("kafkaTopicDTO"); topic.Exists() && topic.Type != gjson.Null {
		kt := &KafkaTopic{}
		if err := json.Unmarshal([]byte(topic.Raw), kt); err != nil {
			return errors.Wrap(err, "invalid kafkaTopicDTO")
		}
		out.InferenceLogger = &InferenceLogger{KafkaTopic: kt, Mode: mode}
	} else if mode != "" {
		out.InferenceLogger = &InferenceLogger{Mode: mode}
	}
	if batching := parsed.Get("batchingConfiguration"); batching.Exists() && batching.Type != gjson.Null {
		b := &InferenceBatcher{}
		if err := json.Unmarshal([]byte(batching.Raw), b); err != nil {
			return errors.Wrap(err, "invalid batchingConfiguration")
		}
		out.InferenceBatcher = b
	}
	out.state = p.state
	*p = out
	return nil
}
