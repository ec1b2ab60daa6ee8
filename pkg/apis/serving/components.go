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
	"k8s.io/utils/ptr"

	"github.com/logicalclocks/hsml/pkg/constants"
	"github.com/logicalclocks/hsml/pkg/utils"
)

// KafkaTopic is the topic inference payloads are logged to. Name CREATE asks the
// backend to create a new topic, NONE disables logging.
type KafkaTopic struct {
	Name          string `json:"name,omitempty"`
	NumReplicas   *int   `json:"numOfReplicas,omitempty"`
	NumPartitions *int   `json:"numOfPartitions,omitempty"`
}

// InferenceLogger configures inference logging of a deployment.
type InferenceLogger struct {
	KafkaTopic *KafkaTopic                    `json:"kafkaTopic,omitempty"`
	Mode       constants.InferenceLoggingMode `json:"mode,omitempty"`
}

// Default fills the topic sizing and reconciles the mode with the topic.
func (l *InferenceLogger) Default() {
	if l.KafkaTopic != nil {
		l.KafkaTopic.Default()
	}
	switch {
	case l.KafkaTopic == nil && l.Mode != "":
		l.Mode = ""
	case l.KafkaTopic != nil && l.Mode == "":
		l.Mode = constants.InferenceLoggingNone
	}
}

// Validate checks the logging mode and the topic configuration.
func (l *InferenceLogger) Validate() error {
	if l.Mode != "" && !utils.Includes(constants.InferenceLoggingModes, l.Mode) {
		return configErrorf("inferenceLogger.mode", "Inference logging mode '%s' is not valid. Possible values are '%v'",
			l.Mode, constants.InferenceLoggingModes)
	}
	if l.KafkaTopic != nil {
		return l.KafkaTopic.Validate()
	}
	return nil
}

// Enabled reports whether payloads are actually logged.
func (l *InferenceLogger) Enabled() bool {
	return l != nil && l.KafkaTopic != nil && l.KafkaTopic.Name != "" &&
		l.KafkaTopic.Name != constants.KafkaTopicNone && l.Mode != "" && l.Mode != constants.InferenceLoggingNone
}

func (t *KafkaTopic) Default() {
	switch t.Name {
	case constants.KafkaTopicCreate:
		if t.NumReplicas == nil {
			t.NumReplicas = ptr.To(constants.KafkaTopicDefaultReplicas)
		}
		if t.NumPartitions == nil {
			t.NumPartitions = ptr.To(constants.KafkaTopicDefaultPartitions)
		}
	case "", constants.KafkaTopicNone:
		t.NumReplicas = nil
		t.NumPartitions = nil
	}
}

func (t *KafkaTopic) Validate() error {
	if t.Name == "" || t.Name == constants.KafkaTopicNone || t.Name == constants.KafkaTopicCreate {
		if t.NumReplicas != nil && *t.NumReplicas < 1 {
			return configErrorf("kafkaTopic.numOfReplicas", "Number of replicas must be greater than 0")
		}
		if t.NumPartitions != nil && *t.NumPartitions < 1 {
			return configErrorf("kafkaTopic.numOfPartitions", "Number of partitions must be greater than 0")
		}
		return nil
	}
	if t.NumReplicas != nil || t.NumPartitions != nil {
		return configErrorf("kafkaTopic", "Number of replicas or partitions cannot be changed in existing kafka topics.")
	}
	return nil
}

// InferenceBatcher configures request batching of a deployment. Unset parameters are
// chosen by the backend.
type InferenceBatcher struct {
	Enabled      bool `json:"batchingEnabled"`
	MaxBatchSize *int `json:"maxBatchSize,omitempty"`
	MaxLatency   *int `json:"maxLatency,omitempty"`
	Timeout      *int `json:"timeout,omitempty"`
}

func (b *InferenceBatcher) Validate() error {
	return utils.FirstNonNilError([]error{
		validatePositive("inferenceBatcher.maxBatchSize", "max batch size", b.MaxBatchSize),
		validatePositive("inferenceBatcher.maxLatency", "max latency", b.MaxLatency),
		validatePositive("inferenceBatcher.timeout", "timeout", b.Timeout),
	})
}

func validatePositive(field, name string, v *int) error {
	if v != nil && *v <= 0 {
		return configErrorf(field, "Invalid %s: %d", name, *v)
	}
	return nil
}

// Transformer is a pre/post-processing component deployed in front of the predictor.
type Transformer struct {
	ScriptFile string              `json:"scriptFile"`
	Resources  *ComponentResources `json:"resources,omitempty"`
}
