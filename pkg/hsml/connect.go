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

package hsml

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/registry"
	"github.com/logicalclocks/hsml/pkg/restapi"
	"github.com/logicalclocks/hsml/pkg/serving"
	"github.com/logicalclocks/hsml/pkg/storage"
	"github.com/logicalclocks/hsml/pkg/utils"
)

// Connection holds the handles on the model registry and model serving of one project.
type Connection struct {
	Context       *client.Context
	ModelRegistry *registry.ModelRegistry
	ModelServing  *serving.ModelServing

	servingAPI *restapi.ServingAPI
}

type options struct {
	log            logr.Logger
	storageConfig  *storage.Config
	servingOptions []serving.Option
	registryOpts   []registry.Option
}

type Option func(*options)

func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithStorageConfig sets the object store credentials used to register models from
// remote uris. They are read from the environment otherwise.
func WithStorageConfig(cfg storage.Config) Option {
	return func(o *options) { o.storageConfig = &cfg }
}

func WithServingOptions(opts ...serving.Option) Option {
	return func(o *options) { o.servingOptions = append(o.servingOptions, opts...) }
}

func WithRegistryOptions(opts ...registry.Option) Option {
	return func(o *options) { o.registryOpts = append(o.registryOpts, opts...) }
}

// Connect resolves the project, reads the cluster capabilities and locates the model
// serving ingress.
func Connect(ctx context.Context, cfg *client.Config, opts ...Option) (*Connection, error) {
	o := &options{log: logr.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hopsworks, err := client.NewHopsworksClient(cfg, o.log)
	if err != nil {
		return nil, err
	}
	auth, err := cfg.Authenticator()
	if err != nil {
		return nil, err
	}
	c := &client.Context{
		Client:      hopsworks,
		Host:        cfg.Host,
		Port:        cfg.Port,
		ProjectID:   cfg.ProjectID,
		ProjectName: cfg.Project,
		Auth:        auth,
		Log:         o.log,
	}
	if err := resolveProject(ctx, c); err != nil {
		c.Close()
		return nil, err
	}
	if c.Capabilities, err = restapi.NewVariablesAPI(hopsworks).Capabilities(ctx, cfg.Host); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "failed to read cluster capabilities")
	}

	servingAPI := restapi.NewServingAPI(c)
	if c.Capabilities.KServeInstalled {
		if err := connectIngress(ctx, c, cfg, servingAPI); err != nil {
			c.Close()
			return nil, err
		}
	}

	storageConfig := o.storageConfig
	if storageConfig == nil {
		loaded, err := storage.LoadConfig()
		if err != nil {
			c.Close()
			return nil, err
		}
		storageConfig = &loaded
	}
	datasets := restapi.NewDatasetAPI(c)
	models := restapi.NewModelAPI(c, c.ProjectID)

	registryOpts := append([]registry.Option{
		registry.WithLogger(o.log.WithName("registry")),
		registry.WithFetcher(storage.NewProviders(o.log, storage.WithConfig(*storageConfig))),
	}, o.registryOpts...)
	modelEngine := registry.NewEngine(models, datasets, c.ProjectName, registryOpts...)

	projectID := c.ProjectID
	servingOpts := append([]serving.Option{
		serving.WithLogger(o.log.WithName("serving")),
		serving.WithArtifactDownloader(datasets),
		serving.WithDeploymentURL(func(id int) string {
			return c.WebURL(fmt.Sprintf("/p/%d/deployments/%d", projectID, id))
		}),
	}, o.servingOptions...)

	o.log.Info("Connected to project", "project", c.ProjectName, "id", c.ProjectID,
		"kserve", c.Capabilities.KServeInstalled)
	return &Connection{
		Context:       c,
		ModelRegistry: registry.NewModelRegistry(models, modelEngine),
		ModelServing:  serving.NewModelServing(servingAPI, c.Capabilities, c.ProjectName, servingOpts...),
		servingAPI:    servingAPI,
	}, nil
}

func resolveProject(ctx context.Context, c *client.Context) error {
	projects := restapi.NewProjectAPI(c.Client)
	var err error
	if c.ProjectID == 0 {
		if c.ProjectID, err = projects.GetProjectID(ctx, c.ProjectName); err != nil {
			return err
		}
	}
	if c.ProjectName == "" {
		if c.ProjectName, err = projects.GetProjectName(ctx, c.ProjectID); err != nil {
			return err
		}
	}
	return nil
}

// connectIngress builds the istio client, from the configured endpoint or from the
// endpoints advertised by the cluster.
func connectIngress(ctx context.Context, c *client.Context, cfg *client.Config, api *restapi.ServingAPI) error {
	endpoint := cfg.IstioEndpoint
	if endpoint == "" {
		endpoints, err := api.GetInferenceEndpoints(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to get inference endpoints")
		}
		endpoint = pickEndpoint(endpoints)
	}
	if endpoint == "" {
		c.Log.Info("No inference endpoint found, KServe deployments can only be reached through Hopsworks")
		return nil
	}
	httpClient, err := client.NewHTTPClient(cfg)
	if err != nil {
		return err
	}
	c.Istio = client.NewIstioClient(cfg.IstioScheme, endpoint, c.Auth, httpClient, c.Log)
	c.IngressEndpoint = endpoint
	return nil
}

// pickEndpoint prefers a load balancer over node ports.
func pickEndpoint(endpoints []servingapis.InferenceEndpoint) string {
	for _, kind := range []string{"LOAD_BALANCER", "NODE"} {
		candidates := utils.FilterSlice(endpoints, func(e servingapis.InferenceEndpoint) bool {
			return e.Type == kind && e.Host() != ""
		})
		for i := range candidates {
			if port := candidates[i].Port("HTTP"); port != nil {
				return net.JoinHostPort(candidates[i].Host(), strconv.Itoa(port.Number))
			}
		}
	}
	return ""
}

// Close releases the connections of the project clients.
func (c *Connection) Close() error {
	err := c.servingAPI.Close()
	c.Context.Close()
	return err
}
