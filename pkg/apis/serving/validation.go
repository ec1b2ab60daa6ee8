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
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v9"
	"k8s.io/utils/ptr"

	"github.com/logicalclocks/hsml/pkg/constants"
	"github.com/logicalclocks/hsml/pkg/platform"
	"github.com/logicalclocks/hsml/pkg/utils"
)

// ConfigurationError reports an invalid deployment configuration. It is returned
// before any request is sent.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

func configErrorf(field string, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

var validate = validator.New()

// validateStruct runs the struct tag checks and converts the first failure.
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return configErrorf(fe.Namespace(), "Invalid value '%v' for %s: failed on the '%s' rule", fe.Value(), fe.Field(), fe.Tag())
	}
	return errors.Wrap(err, "validation failed")
}

// ValidateServingTool checks tool against the platform. An empty tool is resolved later
// with DefaultServingTool.
func ValidateServingTool(tool constants.ServingTool, caps platform.Capabilities) error {
	if tool == "" {
		return nil
	}
	if caps.SaaS {
		if tool != constants.ServingToolKServe {
			return configErrorf("servingTool", "Serving tool '%s' not supported. The only possible value is '%s'.",
				tool, constants.ServingToolKServe)
		}
		return nil
	}
	if utils.Includes(constants.ServingTools, tool) {
		return nil
	}
	return configErrorf("servingTool", "Serving tool '%s' is not valid. Possible values are '%v'", tool, constants.ServingTools)
}

// DefaultServingTool is KSERVE when the cluster has it installed.
func DefaultServingTool(caps platform.Capabilities) constants.ServingTool {
	if caps.KServeInstalled {
		return constants.ServingToolKServe
	}
	return constants.ServingToolDefault
}

// ValidateResources enforces scale-to-zero for KServe deployments on platforms that require it.
func ValidateResources(resources *ComponentResources, tool constants.ServingTool, caps platform.Capabilities) error {
	if resources == nil {
		return nil
	}
	if tool == constants.ServingToolKServe && caps.ScaleToZeroRequired && ptr.Deref(resources.NumInstances, 0) != 0 {
		return configErrorf(string(resources.Kind)+".numInstances",
			"Scale-to-zero is required for KServe deployments in this cluster. Please, set the number of instances to 0.")
	}
	return nil
}

// DefaultResources returns the sizing of a component that does not set any.
func DefaultResources(kind constants.Component, tool constants.ServingTool, caps platform.Capabilities) *ComponentResources {
	numInstances := caps.MinInstances()
	if tool == constants.ServingToolKServe {
		numInstances = 0
	}
	limits := caps.DefaultLimits()
	return &ComponentResources{
		Kind:         kind,
		NumInstances: ptr.To(numInstances),
		Requests: Resources{
			Cores:  constants.ResourcesMinCores,
			Memory: constants.ResourcesMinMemory,
			Gpus:   constants.ResourcesMinGpus,
		},
		Limits: Resources{
			Cores:  limits.Cores,
			Memory: limits.Memory,
			Gpus:   limits.Gpus,
		},
	}
}

// fillResources completes a partially specified component sizing.
func fillResources(r *ComponentResources, kind constants.Component, tool constants.ServingTool, caps platform.Capabilities) {
	defaults := DefaultResources(kind, tool, caps)
	r.Kind = kind
	if r.NumInstances == nil {
		r.NumInstances = defaults.NumInstances
	}
	if r.Requests.Cores == 0 {
		r.Requests.Cores = defaults.Requests.Cores
	}
	if r.Requests.Memory == 0 {
		r.Requests.Memory = defaults.Requests.Memory
	}
	if r.Limits.Cores == 0 {
		r.Limits.Cores = defaults.Limits.Cores
	}
	if r.Limits.Memory == 0 {
		r.Limits.Memory = defaults.Limits.Memory
	}
	if r.Limits.Gpus == 0 && r.Requests.Gpus > 0 {
		r.Limits.Gpus = r.Requests.Gpus
	}
}

// validateResourceRanges checks requests <= limits <= platform ceilings and the instance bounds.
// Zero instances is only valid for KServe deployments.
func validateResourceRanges(r *ComponentResources, tool constants.ServingTool, caps platform.Capabilities) error {
	field := string(r.Kind)
	if r.NumInstances == nil {
		return configErrorf(field+".numInstances", "Number of instances is not set.")
	}
	numInstances := *r.NumInstances
	if numInstances < 0 {
		return configErrorf(field+".numInstances", "Number of instances cannot be negative.")
	}
	if numInstances == 0 && tool != constants.ServingToolKServe {
		return configErrorf(field+".numInstances", "Scale-to-zero is only supported in deployments using KServe as serving tool. "+
			"Please, set the number of instances to at least %d.", caps.MinInstances())
	}
	if numInstances > 0 {
		if numInstances < caps.NumInstances.Min {
			return configErrorf(field+".numInstances", "Number of instances (%d) is lower than the minimum allowed in the cluster (%d).",
				numInstances, caps.NumInstances.Min)
		}
		if caps.NumInstances.Max != constants.ResourcesNoLimit && numInstances > caps.NumInstances.Max {
			return configErrorf(field+".numInstances", "Number of instances (%d) exceeds the maximum allowed in the cluster (%d).",
				numInstances, caps.NumInstances.Max)
		}
	}
	if r.Requests.Cores <= 0 {
		return configErrorf(field+".requests.cores", "Resources are not valid: the number of cores must be greater than 0.")
	}
	if r.Requests.Memory <= 0 {
		return configErrorf(field+".requests.memory", "Resources are not valid: the memory must be greater than 0.")
	}
	if r.Requests.Gpus < 0 {
		return configErrorf(field+".requests.gpus", "Resources are not valid: the number of gpus cannot be negative.")
	}
	if r.Requests.Cores > r.Limits.Cores {
		return configErrorf(field+".requests.cores", "Requested number of cores (%v) cannot exceed the limit (%v).",
			r.Requests.Cores, r.Limits.Cores)
	}
	if r.Requests.Memory > r.Limits.Memory {
		return configErrorf(field+".requests.memory", "Requested memory (%d) cannot exceed the limit (%d).",
			r.Requests.Memory, r.Limits.Memory)
	}
	if r.Requests.Gpus > r.Limits.Gpus {
		return configErrorf(field+".requests.gpus", "Requested number of gpus (%d) cannot exceed the limit (%d).",
			r.Requests.Gpus, r.Limits.Gpus)
	}
	maxRes := caps.MaxResources
	if maxRes.Cores != constants.ResourcesNoLimit && r.Limits.Cores > maxRes.Cores {
		return configErrorf(field+".limits.cores", "Limit of cores (%v) exceeds the maximum allowed in the cluster (%v).",
			r.Limits.Cores, maxRes.Cores)
	}
	if maxRes.Memory != constants.ResourcesNoLimit && r.Limits.Memory > maxRes.Memory {
		return configErrorf(field+".limits.memory", "Limit of memory (%d) exceeds the maximum allowed in the cluster (%d).",
			r.Limits.Memory, maxRes.Memory)
	}
	if maxRes.Gpus != constants.ResourcesNoLimit && r.Limits.Gpus > maxRes.Gpus {
		return configErrorf(field+".limits.gpus", "Limit of gpus (%d) exceeds the maximum allowed in the cluster (%d).",
			r.Limits.Gpus, maxRes.Gpus)
	}
	return nil
}

// ValidateScriptFile requires a predictor script for custom python models.
func ValidateScriptFile(framework constants.ModelFramework, scriptFile string) error {
	if framework == constants.FrameworkPython && scriptFile == "" {
		return configErrorf("scriptFile", "Predictor scripts are required in deployments for custom Python models")
	}
	return nil
}

// InferModelServer picks the model server for a framework.
func InferModelServer(framework constants.ModelFramework) constants.ModelServer {
	if framework == constants.FrameworkTensorflow {
		return constants.ModelServerTFServing
	}
	return constants.ModelServerPython
}

func validateModelServer(server constants.ModelServer) error {
	if utils.Includes(constants.ModelServers, server) {
		return nil
	}
	return configErrorf("modelServer", "Model server '%s' is not valid. Possible values are '%v'", server, constants.ModelServers)
}

func validateFramework(framework constants.ModelFramework) error {
	if framework == "" {
		return nil
	}
	if utils.Includes(constants.ModelFrameworks, framework) {
		return nil
	}
	return configErrorf("modelFramework", "Model framework '%s' is not valid. Possible values are '%v'", framework, constants.ModelFrameworks)
}
