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

package client

import (
	"strconv"

	"github.com/go-logr/logr"

	"github.com/logicalclocks/hsml/pkg/platform"
)

// Context is the connection state shared by every api. It is built once at connect
// time and passed explicitly; nothing in this module keeps a process-wide client.
type Context struct {
	// Client talks to the Hopsworks REST api.
	Client Client
	// Istio talks to the model serving ingress. It is nil when KServe is not available.
	Istio Client
	// IngressEndpoint is the host:port of the ingress, used for gRPC inference.
	IngressEndpoint string

	Host        string
	Port        int
	ProjectID   int
	ProjectName string
	// Auth is reused by transports that are not built on Client, such as gRPC.
	Auth Authenticator

	Capabilities platform.Capabilities
	Log          logr.Logger
}

// ProjectIDString is the project id as a path segment.
func (c *Context) ProjectIDString() string {
	return strconv.Itoa(c.ProjectID)
}

// WebURL returns the url of the Hopsworks UI for path.
func (c *Context) WebURL(path string) string {
	return "https://" + c.Host + ":" + strconv.Itoa(c.Port) + path
}

// Close releases idle connections of both clients.
func (c *Context) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
	if c.Istio != nil {
		c.Istio.Close()
	}
}
