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

package platform

import (
	"github.com/logicalclocks/hsml/pkg/constants"
)

// ResourceLimits are the ceilings a single component may request. A value of
// constants.ResourcesNoLimit means the platform does not enforce one.
type ResourceLimits struct {
	Cores  float64 `json:"cores"`
	Memory int     `json:"memory"`
	Gpus   int     `json:"gpus"`
}

// InstanceLimits bound the number of instances of a component.
type InstanceLimits struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Capabilities describes what the connected cluster supports. It is read once at
// connect time and passed to validation and the serving engine.
type Capabilities struct {
	SaaS                bool           `json:"saas"`
	KServeInstalled     bool           `json:"kserveInstalled"`
	ScaleToZeroRequired bool           `json:"scaleToZeroRequired"`
	MaxResources        ResourceLimits `json:"maxResources"`
	NumInstances        InstanceLimits `json:"numInstances"`
	KnativeDomain       string         `json:"knativeDomain"`
}

// Default returns the capabilities assumed when the backend does not report them.
func Default() Capabilities {
	return Capabilities{
		MaxResources: ResourceLimits{
			Cores:  constants.ResourcesNoLimit,
			Memory: constants.ResourcesNoLimit,
			Gpus:   constants.ResourcesNoLimit,
		},
		NumInstances: InstanceLimits{
			Min: 0,
			Max: constants.ResourcesNoLimit,
		},
		KnativeDomain: constants.DefaultKnativeDomain,
	}
}

// IsSaaSHost reports whether host is the managed Hopsworks offering.
func IsSaaSHost(host string) bool {
	return host == constants.HopsworksSaaSHost
}

// MinInstances is the platform minimum for non scale-to-zero components.
func (c Capabilities) MinInstances() int {
	if c.NumInstances.Min > 0 {
		return c.NumInstances.Min
	}
	return constants.DefaultMinNumInstances
}

// DefaultLimits returns the limits used when a component does not set any.
func (c Capabilities) DefaultLimits() ResourceLimits {
	limits := ResourceLimits{
		Cores:  constants.ResourcesMaxCores,
		Memory: constants.ResourcesMaxMemory,
		Gpus:   constants.ResourcesMaxGpus,
	}
	if c.MaxResources.Cores > 0 {
		limits.Cores = c.MaxResources.Cores
	}
	if c.MaxResources.Memory > 0 {
		limits.Memory = c.MaxResources.Memory
	}
	if c.MaxResources.Gpus > 0 {
		limits.Gpus = c.MaxResources.Gpus
	}
	return limits
}
