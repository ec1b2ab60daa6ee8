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
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/go-logr/logr"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// Config holds the object store settings read from the standard cloud environment variables.
type Config struct {
	AWSRegion              string `envconfig:"AWS_DEFAULT_REGION"`
	AWSEndpointURL         string `envconfig:"AWS_ENDPOINT_URL"`
	AWSAnonymousCredential bool   `envconfig:"AWS_ANONYMOUS_CREDENTIAL"`
	S3UseVirtualBucket     bool   `envconfig:"S3_USER_VIRTUAL_BUCKET" default:"true"`
	S3UseAccelerate        bool   `envconfig:"S3_USE_ACCELERATE"`
	GCSCredentials         string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
	AzureClientID          string `envconfig:"AZURE_CLIENT_ID"`
	AzureStorageAccessKey  string `envconfig:"AZURE_STORAGE_ACCESS_KEY"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to read storage configuration")
	}
	return cfg, nil
}

func newProvider(ctx context.Context, protocol Protocol, cfg Config, log logr.Logger) (Provider, error) {
	switch protocol {
	case GCS:
		var gcsClient *gstorage.Client
		var err error
		if cfg.GCSCredentials != "" {
			// The client picks up GOOGLE_APPLICATION_CREDENTIALS by itself.
			gcsClient, err = gstorage.NewClient(ctx)
		} else {
			gcsClient, err = gstorage.NewClient(ctx, option.WithoutAuthentication())
		}
		if err != nil {
			return nil, err
		}
		return &GCSProvider{Client: stiface.AdaptClient(gcsClient), log: log}, nil
	case S3:
		awsConfig := aws.Config{
			Region:           aws.String(cfg.AWSRegion),
			S3ForcePathStyle: aws.Bool(!cfg.S3UseVirtualBucket),
			S3UseAccelerate:  aws.Bool(cfg.S3UseAccelerate),
		}
		if cfg.AWSEndpointURL != "" {
			awsConfig.Endpoint = aws.String(cfg.AWSEndpointURL)
		}
		if cfg.AWSAnonymousCredential {
			awsConfig.Credentials = credentials.AnonymousCredentials
		}
		sess, err := session.NewSession(&awsConfig)
		if err != nil {
			return nil, err
		}
		client := s3.New(sess)
		return &S3Provider{
			Client:     client,
			Downloader: s3manager.NewDownloaderWithClient(client),
			log:        log,
		}, nil
	case Azure:
		return &AzureProvider{newClient: azureClientFactory(cfg), log: log}, nil
	case HTTPS, HTTP:
		return &HTTPSProvider{Client: &http.Client{}, log: log}, nil
	}
	return nil, errors.Errorf("unsupported protocol %s", protocol)
}

func azureClientFactory(cfg Config) func(serviceURL string) (AzureClient, error) {
	return func(serviceURL string) (AzureClient, error) {
		if cfg.AzureStorageAccessKey != "" {
			account := strings.SplitN(strings.TrimPrefix(serviceURL, "https://"), ".", 2)[0]
			cred, err := newSharedKeyCredential(account, cfg.AzureStorageAccessKey)
			if err != nil {
				return nil, err
			}
			return newAzureClientWithSharedKey(serviceURL, cred)
		}
		if cfg.AzureClientID != "" {
			cred, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, errors.Wrap(err, "failed to load azure credentials")
			}
			return newAzureClient(serviceURL, cred)
		}
		return newAzureClientWithNoCredential(serviceURL)
	}
}

func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// Create creates fileName and its parent directories.
func Create(fileName string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(fileName), 0o755); err != nil {
		return nil, err
	}
	return os.Create(fileName)
}

func createNewFile(fileFullName string) (*os.File, error) {
	if FileExists(fileFullName) {
		if err := os.Remove(fileFullName); err != nil {
			return nil, errors.Wrap(err, "file is unable to be deleted")
		}
	}
	file, err := Create(fileFullName)
	if err != nil {
		return nil, errors.Wrap(err, "file is already created")
	}
	return file, nil
}

// SafeJoin joins name onto dest and rejects names escaping dest.
func SafeJoin(dest, name string) (string, error) {
	full := filepath.Join(dest, name)
	if !strings.HasPrefix(full, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", errors.Errorf("%s: illegal file path", full)
	}
	return full, nil
}

// relativeName returns the path of key below prefix, or its base name when key is prefix itself.
func relativeName(prefix, key string) string {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	if rel == "" {
		return path.Base(key)
	}
	return rel
}

// splitBucketURI splits "bucket/some/prefix" into bucket and prefix.
func splitBucketURI(uri string, protocol Protocol) (string, string, error) {
	tokens := strings.SplitN(strings.TrimPrefix(uri, string(protocol)), "/", 2)
	if tokens[0] == "" {
		return "", "", errors.Errorf("no bucket in storage uri %s", uri)
	}
	prefix := ""
	if len(tokens) == 2 {
		prefix = strings.TrimSuffix(tokens[1], "/")
	}
	return tokens[0], prefix, nil
}

// underPrefix reports whether key is prefix itself or lies in the directory named by prefix.
func underPrefix(prefix, key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	return prefix == "" || key == prefix || strings.HasPrefix(key, prefix+"/")
}
