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
	"math"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/utils/ptr"

	"github.com/logicalclocks/hsml/pkg/constants"
)

const mebibyte = 1024 * 1024

// Resources is an amount of cpu, memory (MB) and gpus.
type Resources struct {
	Cores  float64 `json:"cores"`
	Memory int     `json:"memory"`
	Gpus   int     `json:"gpus"`
}

// UnmarshalJSON accepts plain numbers as sent by the backend as well as kubernetes
// quantities ("500m", "2Gi") as written in manifests.
func (r *Resources) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("invalid resources json")
	}
	parsed := gjson.ParseBytes(data)
	if v := parsed.Get("cores"); v.Exists() {
		cores, err := parseCores(v)
		if err != nil {
			return err
		}
		r.Cores = cores
	}
	if v := parsed.Get("memory"); v.Exists() {
		memory, err := parseMemory(v)
		if err != nil {
			return err
		}
		r.Memory = memory
	}
	if v := parsed.Get("gpus"); v.Exists() {
		r.Gpus = int(v.Int())
	}
	return nil
}

func parseCores(v gjson.Result) (float64, error) {
	if v.Type == gjson.Number {
		return v.Float(), nil
	}
	q, err := resource.ParseQuantity(v.String())
	if err != nil {
		return 0, errors.Wrapf(err, "invalid cores %q", v.String())
	}
	return q.AsApproximateFloat64(), nil
}

func parseMemory(v gjson.Result) (int, error) {
	if v.Type == gjson.Number {
		return int(v.Int()), nil
	}
	q, err := resource.ParseQuantity(v.String())
	if err != nil {
		return 0, errors.Wrapf(err, "invalid memory %q", v.String())
	}
	return int(math.Ceil(float64(q.Value()) / mebibyte)), nil
}

// ComponentResources sizes one component of a deployment. Kind selects the wire
// field names so predictor and transformer resources share a single type. A nil
// NumInstances is filled in by defaulting; an explicit 0 means scale-to-zero.
type ComponentResources struct {
	Kind         constants.Component `json:"-"`
	NumInstances *int                `json:"numInstances,omitempty"`
	Requests     Resources           `json:"requests"`
	Limits       Resources           `json:"limits"`
}

// Instances returns the requested number of instances, 0 when unset.
func (c *ComponentResources) Instances() int {
	return ptr.Deref(c.NumInstances, 0)
}

type resourcesWire struct {
	Requests Resources `json:"requests"`
	Limits   Resources `json:"limits"`
}

func (c *ComponentResources) instancesKey() string {
	if c.Kind == constants.Transformer {
		return "requestedTransformerInstances"
	}
	return "requestedInstances"
}

func (c *ComponentResources) resourcesKey() string {
	if c.Kind == constants.Transformer {
		return "transformerResources"
	}
	return "predictorResources"
}

// extend writes the kind-specific wire fields into m.
func (c *ComponentResources) extend(m map[string]interface{}) {
	m[c.instancesKey()] = c.Instances()
	m[c.resourcesKey()] = resourcesWire{Requests: c.Requests, Limits: c.Limits}
}

// componentResourcesFromWire reads the kind-specific fields of a deployment. It returns
// nil when the deployment carries no resources for kind.
func componentResourcesFromWire(kind constants.Component, parsed gjson.Result) (*ComponentResources, error) {
	c := &ComponentResources{Kind: kind}
	instances := parsed.Get(c.instancesKey())
	res := parsed.Get(c.resourcesKey())
	if !instances.Exists() && !res.Exists() {
		return nil, nil
	}
	if instances.Exists() {
		c.NumInstances = ptr.To(int(instances.Int()))
	}
	if res.Exists() {
		var w resourcesWire
		if err := json.Unmarshal([]byte(res.Raw), &w); err != nil {
			return nil, errors.Wrapf(err, "invalid %s", c.resourcesKey())
		}
		c.Requests, c.Limits = w.Requests, w.Limits
	}
	return c, nil
}
