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

	gstorage "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/go-logr/logr"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

type GCSProvider struct {
	Client stiface.Client
	log    logr.Logger
}

var _ Provider = (*GCSProvider)(nil)

func (p *GCSProvider) Download(ctx context.Context, uri string, destDir string) error {
	bucket, prefix, err := splitBucketURI(uri, GCS)
	if err != nil {
		return err
	}
	gcsObjectDownloader := &GCSObjectDownloader{
		DestDir: destDir,
		Bucket:  bucket,
		Prefix:  prefix,
		log:     p.log,
	}
	it := gcsObjectDownloader.GetObjectIterator(ctx, p.Client)
	if err := gcsObjectDownloader.Download(ctx, p.Client, it); err != nil {
		return errors.Wrap(err, "unable to download object/s")
	}
	return nil
}

type GCSObjectDownloader struct {
	DestDir string
	Bucket  string
	Prefix  string
	log     logr.Logger
}

func (g *GCSObjectDownloader) GetObjectIterator(ctx context.Context, client stiface.Client) stiface.ObjectIterator {
	return client.Bucket(g.Bucket).Objects(ctx, &gstorage.Query{Prefix: g.Prefix})
}

func (g *GCSObjectDownloader) Download(ctx context.Context, client stiface.Client, it stiface.ObjectIterator) error {
	var errs []error
	found := false
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "an error occurred while iterating")
		}
		if !underPrefix(g.Prefix, attrs.Name) {
			continue
		}
		found = true
		fileName, err := SafeJoin(g.DestDir, relativeName(g.Prefix, attrs.Name))
		if err != nil {
			return err
		}
		if err := g.DownloadFile(ctx, client, attrs, fileName); err != nil {
			errs = append(errs, err)
		}
	}
	if !found {
		return gstorage.ErrObjectNotExist
	}
	if len(errs) > 0 {
		return awserr.NewBatchError("GCSDownloadIncomplete", "some objects failed to download.", errs)
	}
	return nil
}

func (g *GCSObjectDownloader) DownloadFile(ctx context.Context, client stiface.Client, attrs *gstorage.ObjectAttrs, fileName string) error {
	reader, err := client.Bucket(attrs.Bucket).Object(attrs.Name).NewReader(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to create reader for object(%s) in bucket(%s)", attrs.Name, attrs.Bucket)
	}
	defer reader.Close()
	file, err := createNewFile(fileName)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := io.Copy(file, reader); err != nil {
		return errors.Wrapf(err, "failed to write object(%s) in bucket(%s) to file(%s)", attrs.Name, attrs.Bucket, fileName)
	}
	g.log.V(1).Info("Wrote object", "object", attrs.Name, "file", fileName)
	return nil
}
