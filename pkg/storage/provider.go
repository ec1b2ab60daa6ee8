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

package storage

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// Provider copies every object below uri into destDir, keeping paths relative to uri.
type Provider interface {
	Download(ctx context.Context, uri string, destDir string) error
}

type Protocol string

const (
	S3    Protocol = "s3://"
	GCS   Protocol = "gs://"
	Azure Protocol = "azure://"
	HTTPS Protocol = "https://"
	HTTP  Protocol = "http://"
)

const azureBlobHostSuffix = ".blob.core.windows.net"

var SupportedProtocols = []Protocol{S3, GCS, Azure, HTTPS, HTTP}

func GetAllProtocol() (protocols []string) {
	for _, protocol := range SupportedProtocols {
		protocols = append(protocols, string(protocol))
	}
	return protocols
}

// ParseProtocol returns the protocol of a remote uri. Azure Blob https urls map to Azure.
func ParseProtocol(uri string) (Protocol, error) {
	for _, protocol := range []Protocol{S3, GCS, Azure} {
		if strings.HasPrefix(uri, string(protocol)) {
			return protocol, nil
		}
	}
	for _, protocol := range []Protocol{HTTPS, HTTP} {
		if !strings.HasPrefix(uri, string(protocol)) {
			continue
		}
		u, err := url.Parse(uri)
		if err != nil {
			return "", errors.Wrapf(err, "unable to parse storage uri %s", uri)
		}
		if protocol == HTTPS && strings.HasSuffix(u.Hostname(), azureBlobHostSuffix) {
			return Azure, nil
		}
		return protocol, nil
	}
	return "", errors.Errorf("unsupported storage uri %q, supported protocols are %v", uri, GetAllProtocol())
}

// IsRemote reports whether uri points to a supported object store or web server.
func IsRemote(uri string) bool {
	_, err := ParseProtocol(uri)
	return err == nil
}

// Providers lazily builds one Provider per protocol.
type Providers struct {
	mu        sync.Mutex
	providers map[Protocol]Provider
	config    Config
	log       logr.Logger
}

type ProvidersOption func(*Providers)

// WithProvider registers p for protocol instead of building a client from the environment.
func WithProvider(protocol Protocol, p Provider) ProvidersOption {
	return func(ps *Providers) { ps.providers[protocol] = p }
}

func WithConfig(cfg Config) ProvidersOption {
	return func(ps *Providers) { ps.config = cfg }
}

func NewProviders(log logr.Logger, opts ...ProvidersOption) *Providers {
	ps := &Providers{providers: map[Protocol]Provider{}, log: log.WithName("storage")}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

func (ps *Providers) GetProvider(ctx context.Context, protocol Protocol) (Provider, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if provider, ok := ps.providers[protocol]; ok {
		return provider, nil
	}
	provider, err := newProvider(ctx, protocol, ps.config, ps.log)
	if err != nil {
		return nil, err
	}
	ps.providers[protocol] = provider
	return provider, nil
}

// Fetch downloads uri into destDir with the provider matching its protocol.
func (ps *Providers) Fetch(ctx context.Context, uri string, destDir string) error {
	protocol, err := ParseProtocol(uri)
	if err != nil {
		return err
	}
	provider, err := ps.GetProvider(ctx, protocol)
	if err != nil {
		return errors.Wrapf(err, "unable to create %s provider", protocol)
	}
	ps.log.Info("Fetching artifacts", "uri", uri, "destDir", destDir)
	return provider.Download(ctx, uri, destDir)
}
