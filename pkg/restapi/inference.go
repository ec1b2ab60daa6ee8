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

package restapi

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/constants"
)

// SendInferenceRequest sends payload to a deployment. Deployments that are not served
// by KServe are reached through Hopsworks; KServe deployments through the ingress,
// over REST or gRPC depending on their api protocol.
func (a *ServingAPI) SendInferenceRequest(ctx context.Context, p *serving.Predictor, payload map[string]interface{}, throughHopsworks bool) (map[string]interface{}, error) {
	if throughHopsworks {
		return a.sendRequestThroughHopsworks(ctx, p, payload)
	}
	if p.APIProtocol == constants.APIProtocolGRPC {
		return a.sendGRPCRequest(ctx, p, payload)
	}
	return a.sendRequestThroughIstio(ctx, p, payload)
}

func (a *ServingAPI) sendRequestThroughHopsworks(ctx context.Context, p *serving.Predictor, payload map[string]interface{}) (map[string]interface{}, error) {
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodPost,
		Path:   []string{"project", a.c.ProjectIDString(), "inference", "models", p.Name + ":predict"},
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}
	return decodeInferenceResponse(body)
}

func (a *ServingAPI) sendRequestThroughIstio(ctx context.Context, p *serving.Predictor, payload map[string]interface{}) (map[string]interface{}, error) {
	if a.c.Istio == nil {
		return nil, errors.New("the model serving ingress is not reachable from this client")
	}
	body, err := a.c.Istio.SendRequest(ctx, &client.Request{
		Method: http.MethodPost,
		Path:   []string{"v1", "models", p.Name + ":predict"},
		Host:   a.inferenceHost(p),
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}
	return decodeInferenceResponse(body)
}

func (a *ServingAPI) sendGRPCRequest(ctx context.Context, p *serving.Predictor, payload map[string]interface{}) (map[string]interface{}, error) {
	c, err := a.grpcClient(a.inferenceHost(p))
	if err != nil {
		return nil, err
	}
	return c.ModelInfer(ctx, p.Name, payload)
}

func (a *ServingAPI) grpcClient(host string) (*GRPCInferenceClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.grpcClients[host]; ok {
		return c, nil
	}
	if a.c.IngressEndpoint == "" {
		return nil, errors.New("the model serving ingress is not reachable from this client")
	}
	c, err := NewGRPCInferenceClient(a.c.IngressEndpoint, host, a.c.Auth)
	if err != nil {
		return nil, err
	}
	a.grpcClients[host] = c
	return c, nil
}

func (a *ServingAPI) inferenceHost(p *serving.Predictor) string {
	namespace := p.ProjectNamespace
	if namespace == "" {
		namespace = constants.ProjectNamespace(a.c.ProjectName)
	}
	domain := a.c.Capabilities.KnativeDomain
	if domain == "" {
		domain = constants.DefaultKnativeDomain
	}
	return constants.InferenceHost(p.Name, namespace, domain)
}

func decodeInferenceResponse(body []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "failed to decode inference response")
	}
	return out, nil
}
