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

package constants

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Hopsworks connection Constants
var (
	HopsworksEnvPrefix    = "hopsworks"
	HopsworksAPIPath      = "hopsworks-api/api"
	HopsworksSaaSHost     = "c.app.hopsworks.ai"
	DefaultHopsworksPort  = 443
	DefaultRequestTimeout = 60 * time.Second
	DefaultWorkDir        = getEnvOrDefault("HSML_WORK_DIR", "")
)

// Polling Constants
var (
	DeploymentPollInterval    = 5 * time.Second
	ModelRegistryPollInterval = 5 * time.Second
	DefaultAwaitRunning       = 60 * time.Second
	DefaultAwaitStopped       = 60 * time.Second
	DefaultAwaitUpdate        = 60 * time.Second
	DefaultAwaitRegistration  = 480 * time.Second
)

// PredictorStatus is the status of a deployment as reported by the backend, upper-cased.
type PredictorStatus string

const (
	StatusCreating PredictorStatus = "CREATING"
	StatusCreated  PredictorStatus = "CREATED"
	StatusStarting PredictorStatus = "STARTING"
	StatusFailed   PredictorStatus = "FAILED"
	StatusRunning  PredictorStatus = "RUNNING"
	StatusIdle     PredictorStatus = "IDLE"
	StatusUpdating PredictorStatus = "UPDATING"
	StatusStopping PredictorStatus = "STOPPING"
	StatusStopped  PredictorStatus = "STOPPED"
)

// PredictorStatuses lists every status known to this client.
var PredictorStatuses = []PredictorStatus{
	StatusCreating, StatusCreated, StatusStarting, StatusFailed, StatusRunning,
	StatusIdle, StatusUpdating, StatusStopping, StatusStopped,
}

// ParsePredictorStatus normalizes a wire status string. Unknown values are returned upper-cased.
func ParsePredictorStatus(s string) PredictorStatus {
	return PredictorStatus(strings.ToUpper(strings.TrimSpace(s)))
}

// Known returns true if the status is one of PredictorStatuses.
func (s PredictorStatus) Known() bool {
	for _, st := range PredictorStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// ConditionType is the type of the most recent backend-side event of a deployment.
type ConditionType string

const (
	ConditionScheduled   ConditionType = "SCHEDULED"
	ConditionInitialized ConditionType = "INITIALIZED"
	ConditionStarted     ConditionType = "STARTED"
	ConditionReady       ConditionType = "READY"
	ConditionStopped     ConditionType = "STOPPED"
)

var (
	StartSteps = []ConditionType{ConditionScheduled, ConditionInitialized, ConditionStarted, ConditionReady}
	StopSteps  = []ConditionType{ConditionScheduled, ConditionStopped}
)

// DeploymentAction is the verb sent on a transition request.
type DeploymentAction string

const (
	ActionStart DeploymentAction = "START"
	ActionStop  DeploymentAction = "STOP"
)

type ServingTool string

const (
	ServingToolDefault ServingTool = "DEFAULT"
	ServingToolKServe  ServingTool = "KSERVE"
)

var ServingTools = []ServingTool{ServingToolDefault, ServingToolKServe}

type ModelServer string

const (
	ModelServerPython    ModelServer = "PYTHON"
	ModelServerTFServing ModelServer = "TENSORFLOW_SERVING"
)

var ModelServers = []ModelServer{ModelServerPython, ModelServerTFServing}

type ModelFramework string

const (
	FrameworkTensorflow ModelFramework = "TENSORFLOW"
	FrameworkTorch      ModelFramework = "TORCH"
	FrameworkPython     ModelFramework = "PYTHON"
	FrameworkSklearn    ModelFramework = "SKLEARN"
)

var ModelFrameworks = []ModelFramework{FrameworkTensorflow, FrameworkTorch, FrameworkPython, FrameworkSklearn}

type APIProtocol string

const (
	APIProtocolREST APIProtocol = "REST"
	APIProtocolGRPC APIProtocol = "GRPC"
)

// InferenceLoggingMode selects which inference payloads are sent to Kafka.
type InferenceLoggingMode string

const (
	InferenceLoggingNone        InferenceLoggingMode = "NONE"
	InferenceLoggingAll         InferenceLoggingMode = "ALL"
	InferenceLoggingModelInputs InferenceLoggingMode = "MODEL_INPUTS"
	InferenceLoggingPredictions InferenceLoggingMode = "PREDICTIONS"
)

var InferenceLoggingModes = []InferenceLoggingMode{
	InferenceLoggingNone, InferenceLoggingAll, InferenceLoggingModelInputs, InferenceLoggingPredictions,
}

// Kafka topic Constants
const (
	KafkaTopicCreate            = "CREATE"
	KafkaTopicNone              = "NONE"
	KafkaTopicDefaultReplicas   = 1
	KafkaTopicDefaultPartitions = 1
)

// ArtifactVersionCreate asks the backend to build a new artifact.
const ArtifactVersionCreate = "CREATE"

// Component is a deployable component of a deployment.
type Component string

const (
	Predictor   Component = "predictor"
	Transformer Component = "transformer"
)

// Resource Constants
const (
	ResourcesMinCores  = 0.2
	ResourcesMinMemory = 32
	ResourcesMinGpus   = 0
	ResourcesMaxCores  = 2.0
	ResourcesMaxMemory = 1024
	ResourcesMaxGpus   = 0
	// ResourcesNoLimit is reported by the platform when a resource has no ceiling.
	ResourcesNoLimit = -1

	DefaultMinNumInstances = 1
	DefaultLogsTail        = 10
)

// InferenceEndpoint Constants
const (
	EndpointTypeNode         = "NODE"
	EndpointTypeKubeCluster  = "KUBE_CLUSTER"
	EndpointTypeLoadBalancer = "LOAD_BALANCER"
	EndpointPortHTTP         = "HTTP"
	EndpointPortHTTPS        = "HTTPS"
	EndpointPortGRPC         = "GRPC"
)

// Hopsworks REST error codes
const (
	ErrorCodeServingNotFound      = 240000
	ErrorCodeDuplicatedEntry      = 240011
	ErrorCodeDeploymentNotRunning = 250001
	ErrorCodeModelNotFound        = 360000
	ErrorCodeDatasetNotFound      = 110018
)

// Platform variables exposed by the backend.
const (
	VariableKServeInstalled     = "kube_kserve_installed"
	VariableScaleToZeroRequired = "kube_serving_scale_to_zero_required"
	VariableMaxCores            = "kube_serving_max_cores_allocation"
	VariableMaxMemory           = "kube_serving_max_memory_allocation"
	VariableMaxGpus             = "kube_serving_max_gpus_allocation"
	VariableMinNumInstances     = "kube_serving_min_num_instances"
	VariableMaxNumInstances     = "kube_serving_max_num_instances"
	VariableKnativeDomainName   = "kube_knative_domain_name"
)

// Model registry Constants
const (
	ModelsDataset        = "Models"
	ArtifactsDir         = "Artifacts"
	InputExampleFile     = "input_example.json"
	ModelSchemaFile      = "model_schema.json"
	DefaultFlowChunkSize = 1024 * 1024
	GRPCModelInferMethod = "/inference.GRPCInferenceService/ModelInfer"
	DefaultKnativeDomain = "hopsworks.ai"
)

func getEnvOrDefault(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvOrDefaultInt is like getEnvOrDefault for integer values. Unparsable values fall back.
func GetEnvOrDefaultInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

// InferenceHost returns the Host header the ingress routes on for a KServe deployment.
func InferenceHost(deploymentName, namespace, domain string) string {
	return deploymentName + "." + namespace + "." + domain
}

// ProjectNamespace converts a project name to its kubernetes namespace.
func ProjectNamespace(projectName string) string {
	return strings.ReplaceAll(strings.ToLower(projectName), "_", "-")
}

// ModelsPath returns the dataset path holding the models of a project.
func ModelsPath(projectName string) string {
	return "/Projects/" + projectName + "/" + ModelsDataset
}
