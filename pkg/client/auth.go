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
	"net/http"
)

// Authenticator decorates outgoing requests with credentials.
type Authenticator interface {
	Apply(header http.Header)
	// Scheme returns the value of the Authorization header.
	Scheme() string
}

// APIKeyAuth authenticates with a Hopsworks api key.
type APIKeyAuth string

func (a APIKeyAuth) Apply(header http.Header) {
	header.Set("Authorization", a.Scheme())
}

func (a APIKeyAuth) Scheme() string {
	return "ApiKey " + string(a)
}

// BearerAuth authenticates with a JWT issued to jobs running inside the cluster.
type BearerAuth string

func (b BearerAuth) Apply(header http.Header) {
	header.Set("Authorization", b.Scheme())
}

func (b BearerAuth) Scheme() string {
	return "Bearer " + string(b)
}
