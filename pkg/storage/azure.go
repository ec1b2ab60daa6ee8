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
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

type AzureClient interface {
	NewListBlobsFlatPager(containerName string, options *azblob.ListBlobsFlatOptions) *runtime.Pager[azblob.ListBlobsFlatResponse]
	DownloadFile(ctx context.Context, containerName string, blobName string, file *os.File, options *azblob.DownloadFileOptions) (int64, error)
}

// AzureProvider downloads blobs from "azure://{account}.blob.core.windows.net/{container}/{dir}"
// or the equivalent https url. One client is built per storage account.
type AzureProvider struct {
	newClient func(serviceURL string) (AzureClient, error)
	log       logr.Logger
}

var _ Provider = (*AzureProvider)(nil)

// NewAzureProvider returns a provider that uses client for every storage account.
func NewAzureProvider(client AzureClient, log logr.Logger) *AzureProvider {
	return &AzureProvider{
		newClient: func(string) (AzureClient, error) { return client, nil },
		log:       log,
	}
}

type azureURIParts struct {
	serviceURL    string
	containerName string
	virtualDir    string
}

func parseAzureURI(uri string) (azureURIParts, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return azureURIParts{}, errors.Wrapf(err, "unable to parse azure uri %s", uri)
	}
	if (u.Scheme != "azure" && u.Scheme != "https") || !strings.HasSuffix(u.Host, azureBlobHostSuffix) {
		return azureURIParts{}, errors.Errorf("invalid azure blob uri %s", uri)
	}
	tokens := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(tokens) < 2 || tokens[0] == "" || tokens[1] == "" {
		return azureURIParts{}, errors.Errorf("azure blob uri %s must name a container and a virtual directory", uri)
	}
	return azureURIParts{
		serviceURL:    "https://" + u.Host,
		containerName: tokens[0],
		virtualDir:    tokens[1],
	}, nil
}

func (a *AzureProvider) Download(ctx context.Context, uri string, destDir string) error {
	parts, err := parseAzureURI(uri)
	if err != nil {
		return err
	}
	client, err := a.newClient(parts.serviceURL)
	if err != nil {
		return errors.Wrapf(err, "unable to create azure client for %s", parts.serviceURL)
	}
	prefix := parts.virtualDir
	pager := client.NewListBlobsFlatPager(parts.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	found := false
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		if resp.Segment == nil {
			continue
		}
		for _, blob := range resp.Segment.BlobItems {
			if blob.Name == nil || !underPrefix(prefix, *blob.Name) {
				continue
			}
			found = true
			if err := a.downloadBlob(ctx, client, parts.containerName, prefix, *blob.Name, destDir); err != nil {
				return err
			}
		}
	}
	if !found {
		return errors.Errorf("no blobs found under %s", uri)
	}
	return nil
}

func (a *AzureProvider) downloadBlob(ctx context.Context, client AzureClient, containerName, prefix, blobName, destDir string) error {
	fileName, err := SafeJoin(destDir, relativeName(prefix, blobName))
	if err != nil {
		return err
	}
	file, err := createNewFile(fileName)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = client.DownloadFile(ctx, containerName, blobName, file, &azblob.DownloadFileOptions{
		Progress: func(bytesTransferred int64) {
			a.log.V(1).Info("Downloading blob", "blob", blobName, "bytes", bytesTransferred)
		},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to download blob %s", blobName)
	}
	return nil
}

func newSharedKeyCredential(account, key string) (*azblob.SharedKeyCredential, error) {
	return azblob.NewSharedKeyCredential(account, key)
}

func newAzureClientWithSharedKey(serviceURL string, cred *azblob.SharedKeyCredential) (AzureClient, error) {
	return azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
}

func newAzureClient(serviceURL string, cred azcore.TokenCredential) (AzureClient, error) {
	return azblob.NewClient(serviceURL, cred, nil)
}

func newAzureClientWithNoCredential(serviceURL string) (AzureClient, error) {
	return azblob.NewClientWithNoCredential(serviceURL, nil)
}
