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
	"io"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

type S3Provider struct {
	Client     s3iface.S3API
	Downloader s3manageriface.DownloadWithIterator
	log        logr.Logger
}

var _ Provider = (*S3Provider)(nil)

func (m *S3Provider) Download(ctx context.Context, uri string, destDir string) error {
	bucket, prefix, err := splitBucketURI(uri, S3)
	if err != nil {
		return err
	}
	s3ObjectDownloader := &S3ObjectDownloader{
		DestDir: destDir,
		Bucket:  bucket,
		Prefix:  prefix,
		log:     m.log,
	}
	objects, err := s3ObjectDownloader.GetAllObjects(ctx, m.Client)
	if err != nil {
		return errors.Wrap(err, "unable to get batch objects")
	}
	if len(objects) == 0 {
		return errors.Errorf("no objects found under %s", uri)
	}
	if err := s3ObjectDownloader.Download(ctx, m.Downloader, objects); err != nil {
		return errors.Wrap(err, "unable to download objects")
	}
	return nil
}

type S3ObjectDownloader struct {
	DestDir string
	Bucket  string
	Prefix  string
	log     logr.Logger
}

func (s *S3ObjectDownloader) GetAllObjects(ctx context.Context, s3Svc s3iface.S3API) ([]s3manager.BatchDownloadObject, error) {
	results := make([]s3manager.BatchDownloadObject, 0)
	var walkErr error
	err := s3Svc.ListObjectsPagesWithContext(ctx, &s3.ListObjectsInput{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix),
	}, func(page *s3.ListObjectsOutput, _ bool) bool {
		for _, object := range page.Contents {
			key := aws.StringValue(object.Key)
			if !underPrefix(s.Prefix, key) {
				continue
			}
			fileName, err := SafeJoin(s.DestDir, relativeName(s.Prefix, key))
			if err != nil {
				walkErr = err
				return false
			}
			file, err := createNewFile(fileName)
			if err != nil {
				walkErr = err
				return false
			}
			s.log.V(1).Info("Queued object", "bucket", s.Bucket, "key", key, "file", filepath.Base(fileName))
			results = append(results, s3manager.BatchDownloadObject{
				Object: &s3.GetObjectInput{
					Key:    aws.String(key),
					Bucket: aws.String(s.Bucket),
				},
				Writer: file,
				After:  file.Close,
			})
		}
		return true
	})
	if err == nil {
		err = walkErr
	}
	if err != nil {
		closeWriters(results)
		return nil, err
	}
	return results, nil
}

func (s *S3ObjectDownloader) Download(ctx context.Context, downloader s3manageriface.DownloadWithIterator, objects []s3manager.BatchDownloadObject) error {
	iter := &s3manager.DownloadObjectsIterator{Objects: objects}
	if err := downloader.DownloadWithIterator(ctx, iter); err != nil {
		closeWriters(objects)
		return err
	}
	return nil
}

func closeWriters(objects []s3manager.BatchDownloadObject) {
	for _, object := range objects {
		if c, ok := object.Writer.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
