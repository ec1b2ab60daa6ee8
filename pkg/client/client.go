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
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-logr/logr"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/logicalclocks/hsml/pkg/constants"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client executes authenticated requests against named REST path segments.
type Client interface {
	// SendRequest returns the raw response body of a 2xx response, or a *RestAPIError.
	SendRequest(ctx context.Context, req *Request) ([]byte, error)
	// Stream returns the response body unread. The caller closes it.
	Stream(ctx context.Context, req *Request) (io.ReadCloser, error)
	Close()
}

// Request describes a single call. Path segments are escaped and joined with "/".
type Request struct {
	Method string
	Path   []string
	Query  url.Values
	Header http.Header
	// Body is sent as is when it is an io.Reader, otherwise it is encoded as JSON.
	Body interface{}
	// Host overrides the Host header, used to route through the ingress.
	Host string
}

// RestClient is the net/http implementation of Client. The Hopsworks variant prefixes
// every path with the api root; the Istio variant talks to the ingress directly.
type RestClient struct {
	httpClient *http.Client
	baseURL    string
	apiPath    string
	auth       Authenticator
	log        logr.Logger
}

var _ Client = (*RestClient)(nil)

// NewRestClient builds a client for baseURL. apiPath is prepended to every request path.
func NewRestClient(baseURL, apiPath string, auth Authenticator, httpClient *http.Client, log logr.Logger) *RestClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.DefaultRequestTimeout}
	}
	return &RestClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiPath:    strings.Trim(apiPath, "/"),
		auth:       auth,
		log:        log,
	}
}

// NewHopsworksClient builds the client for the Hopsworks REST api described by cfg.
func NewHopsworksClient(cfg *Config, log logr.Logger) (*RestClient, error) {
	auth, err := cfg.Authenticator()
	if err != nil {
		return nil, err
	}
	httpClient, err := NewHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewRestClient(cfg.BaseURL(), constants.HopsworksAPIPath, auth, httpClient, log.WithName("hopsworks")), nil
}

// NewIstioClient builds the client for the model serving ingress at endpoint (host:port).
func NewIstioClient(scheme, endpoint string, auth Authenticator, httpClient *http.Client, log logr.Logger) *RestClient {
	if scheme == "" {
		scheme = "http"
	}
	return NewRestClient(scheme+"://"+endpoint, "", auth, httpClient, log.WithName("istio"))
}

// NewHTTPClient configures TLS from the trust store and hostname verification settings.
func NewHTTPClient(cfg *Config) (*http.Client, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: !cfg.HostnameVerification, //nolint:gosec
	}
	if cfg.TrustStorePath != "" {
		pem, err := os.ReadFile(cfg.TrustStorePath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read trust store %s", cfg.TrustStorePath)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in trust store %s", cfg.TrustStorePath)
		}
		tlsConfig.RootCAs = pool
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// URL returns the absolute url of req.
func (c *RestClient) URL(req *Request) string {
	segments := make([]string, 0, len(req.Path)+1)
	if c.apiPath != "" {
		segments = append(segments, c.apiPath)
	}
	for _, p := range req.Path {
		for _, s := range strings.Split(strings.Trim(p, "/"), "/") {
			if s != "" {
				segments = append(segments, url.PathEscape(s))
			}
		}
	}
	u := c.baseURL + "/" + strings.Join(segments, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

func (c *RestClient) SendRequest(ctx context.Context, req *Request) ([]byte, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "error while reading the response")
	}
	return body, nil
}

func (c *RestClient) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *RestClient) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *RestClient) do(ctx context.Context, req *Request) (*http.Response, error) {
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	target := c.URL(req)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build request %s %s", req.Method, target)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Host != "" {
		httpReq.Host = req.Host
	}
	if c.auth != nil {
		c.auth.Apply(httpReq.Header)
	}
	c.log.V(1).Info("Sending request", "method", req.Method, "url", target)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to make a request to %s", target)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		b, readErr := io.ReadAll(resp.Body)
		restErr := newRestAPIError(req.Method, target, resp.StatusCode, b)
		if readErr != nil {
			c.log.Error(readErr, "Failed to read error response body", "url", target)
			restErr.Body = strings.TrimSpace(restErr.Body + " (failed to read response body: " + readErr.Error() + ")")
		}
		return nil, restErr
	}
	return resp, nil
}

func encodeBody(body interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case io.Reader:
		return b, "", nil
	case []byte:
		return bytes.NewReader(b), "application/json", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", errors.Wrap(err, "failed to encode request body")
		}
		return bytes.NewReader(data), "application/json", nil
	}
}
