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
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

// MockS3Client lists the keys of Objects.
type MockS3Client struct {
	s3iface.S3API
	Objects map[string][]byte
}

func (m *MockS3Client) ListObjectsPagesWithContext(_ aws.Context, input *s3.ListObjectsInput, fn func(*s3.ListObjectsOutput, bool) bool, _ ...request.Option) error {
	var keys []string
	for key := range m.Objects {
		if strings.HasPrefix(key, aws.StringValue(input.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsOutput{}
	for _, key := range keys {
		out.Contents = append(out.Contents, &s3.Object{Key: aws.String(key), Size: aws.Int64(int64(len(m.Objects[key])))})
	}
	fn(out, true)
	return nil
}

// MockS3Downloader writes the contents of Client.Objects to the batch writers.
type MockS3Downloader struct {
	Client *MockS3Client
}

func (m *MockS3Downloader) DownloadWithIterator(_ aws.Context, iter s3manager.BatchDownloadIterator, _ ...func(*s3manager.Downloader)) error {
	for iter.Next() {
		object := iter.DownloadObject()
		contents, ok := m.Client.Objects[aws.StringValue(object.Object.Key)]
		if !ok {
			return errors.Errorf("key %s not found", aws.StringValue(object.Object.Key))
		}
		if _, err := object.Writer.WriteAt(contents, 0); err != nil {
			return err
		}
		if object.After != nil {
			if err := object.After(); err != nil {
				return err
			}
		}
	}
	return iter.Err()
}

type MockS3FailDownloader struct{}

func (m *MockS3FailDownloader) DownloadWithIterator(aws.Context, s3manager.BatchDownloadIterator, ...func(*s3manager.Downloader)) error {
	var errs []s3manager.Error
	errs = append(errs, s3manager.Error{
		OrigErr: errors.New("failed to download"),
		Bucket:  aws.String("models"),
		Key:     aws.String("mnist/model.pt"),
	})
	return s3manager.NewBatchError("BatchedDownloadIncomplete", "some objects have failed to download.", errs)
}
