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
	"bytes"
	"context"
	"sort"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

// MockGCSClient is an in-memory stiface.Client holding objects per bucket.
type MockGCSClient struct {
	stiface.Client
	buckets map[string]map[string][]byte
}

func NewMockGCSClient() *MockGCSClient {
	return &MockGCSClient{buckets: map[string]map[string][]byte{}}
}

func (c *MockGCSClient) AddObject(bucket, name string, contents []byte) {
	if _, ok := c.buckets[bucket]; !ok {
		c.buckets[bucket] = map[string][]byte{}
	}
	c.buckets[bucket][name] = contents
}

func (c *MockGCSClient) Bucket(name string) stiface.BucketHandle {
	return mockBucketHandle{c: c, name: name}
}

type mockBucketHandle struct {
	stiface.BucketHandle
	c    *MockGCSClient
	name string
}

func (b mockBucketHandle) Objects(_ context.Context, query *gstorage.Query) stiface.ObjectIterator {
	objects, ok := b.c.buckets[b.name]
	if !ok {
		return &mockObjectIterator{err: gstorage.ErrBucketNotExist}
	}
	var names []string
	for name := range objects {
		if query == nil || strings.HasPrefix(name, query.Prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	items := make([]*gstorage.ObjectAttrs, 0, len(names))
	for _, name := range names {
		items = append(items, &gstorage.ObjectAttrs{Bucket: b.name, Name: name, Size: int64(len(objects[name]))})
	}
	return &mockObjectIterator{items: items}
}

func (b mockBucketHandle) Object(name string) stiface.ObjectHandle {
	return mockObjectHandle{c: b.c, bucketName: b.name, name: name}
}

type mockObjectIterator struct {
	stiface.ObjectIterator
	items []*gstorage.ObjectAttrs
	err   error
}

func (i *mockObjectIterator) Next() (*gstorage.ObjectAttrs, error) {
	if i.err != nil {
		return nil, i.err
	}
	if len(i.items) == 0 {
		return nil, iterator.Done
	}
	item := i.items[0]
	i.items = i.items[1:]
	return item, nil
}

type mockObjectHandle struct {
	stiface.ObjectHandle
	c          *MockGCSClient
	bucketName string
	name       string
}

func (o mockObjectHandle) NewReader(context.Context) (stiface.Reader, error) {
	bkt, ok := o.c.buckets[o.bucketName]
	if !ok {
		return nil, gstorage.ErrBucketNotExist
	}
	contents, ok := bkt[o.name]
	if !ok {
		return nil, errors.Wrapf(gstorage.ErrObjectNotExist, "object %q in bucket %q", o.name, o.bucketName)
	}
	return mockReader{r: bytes.NewReader(contents)}, nil
}

type mockReader struct {
	stiface.Reader
	r *bytes.Reader
}

func (r mockReader) Read(buf []byte) (int, error) {
	return r.r.Read(buf)
}

func (r mockReader) Close() error {
	return nil
}
