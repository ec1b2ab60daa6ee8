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

package mocks

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/pkg/errors"
	"k8s.io/utils/ptr"
)

// MockAzureClient serves Blobs, keyed by container then blob name, in a single page.
type MockAzureClient struct {
	Blobs map[string]map[string][]byte
}

func (m *MockAzureClient) NewListBlobsFlatPager(containerName string, options *azblob.ListBlobsFlatOptions) *runtime.Pager[azblob.ListBlobsFlatResponse] {
	prefix := ""
	if options != nil && options.Prefix != nil {
		prefix = *options.Prefix
	}
	var names []string
	for name := range m.Blobs[containerName] {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	items := make([]*container.BlobItem, 0, len(names))
	for _, name := range names {
		items = append(items, &container.BlobItem{Name: ptr.To(name)})
	}
	return runtime.NewPager(runtime.PagingHandler[azblob.ListBlobsFlatResponse]{
		More: func(azblob.ListBlobsFlatResponse) bool { return false },
		Fetcher: func(context.Context, *azblob.ListBlobsFlatResponse) (azblob.ListBlobsFlatResponse, error) {
			var resp azblob.ListBlobsFlatResponse
			resp.Segment = &container.BlobFlatListSegment{BlobItems: items}
			return resp, nil
		},
	})
}

func (m *MockAzureClient) DownloadFile(_ context.Context, containerName string, blobName string, file *os.File, _ *azblob.DownloadFileOptions) (int64, error) {
	contents, ok := m.Blobs[containerName][blobName]
	if !ok {
		return 0, errors.Errorf("blob %s not found in container %s", blobName, containerName)
	}
	n, err := file.Write(contents)
	return int64(n), err
}
