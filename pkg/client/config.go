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
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/logicalclocks/hsml/pkg/constants"
)

// Config holds the settings needed to reach a Hopsworks cluster. Values are read from
// HOPSWORKS_ prefixed environment variables and can be overridden by the caller.
type Config struct {
	Host                 string        `envconfig:"HOST"`
	Port                 int           `envconfig:"PORT" default:"443"`
	Project              string        `envconfig:"PROJECT"`
	ProjectID            int           `envconfig:"PROJECT_ID"`
	APIKey               string        `envconfig:"API_KEY"`
	APIKeyFile           string        `envconfig:"API_KEY_FILE"`
	TokenFile            string        `envconfig:"TOKEN_FILE"`
	HostnameVerification bool          `envconfig:"HOSTNAME_VERIFICATION" default:"true"`
	TrustStorePath       string        `envconfig:"TRUST_STORE_PATH"`
	RequestTimeout       time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	// IstioEndpoint overrides the ingress used for KServe inference, as host:port.
	IstioEndpoint string `envconfig:"ISTIO_ENDPOINT"`
	IstioScheme   string `envconfig:"ISTIO_SCHEME" default:"http"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(constants.HopsworksEnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process hopsworks environment")
	}
	return cfg, nil
}

// Validate checks the fields required to open a connection.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("hopsworks host is required")
	}
	if c.Project == "" && c.ProjectID == 0 {
		return errors.New("either a project name or a project id is required")
	}
	if c.APIKey == "" && c.APIKeyFile == "" && c.TokenFile == "" {
		return errors.New("an api key, an api key file or a token file is required")
	}
	if c.Port <= 0 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// Authenticator builds the Authorization header value from the configured credentials.
func (c *Config) Authenticator() (Authenticator, error) {
	switch {
	case c.APIKey != "":
		return APIKeyAuth(c.APIKey), nil
	case c.APIKeyFile != "":
		key, err := readSecretFile(c.APIKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read api key file")
		}
		return APIKeyAuth(key), nil
	case c.TokenFile != "":
		token, err := readSecretFile(c.TokenFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read token file")
		}
		return BearerAuth(token), nil
	}
	return nil, errors.New("no credentials configured")
}

// BaseURL is the scheme, host and port of the cluster.
func (c *Config) BaseURL() string {
	return "https://" + c.Host + ":" + strconv.Itoa(c.Port)
}

func readSecretFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
