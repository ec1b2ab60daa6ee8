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

package restapi

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/uuid/v5"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/constants"
)

// DatasetItem is one entry of a dataset directory listing.
type DatasetItem struct {
	Name string
	Path string
	Dir  bool
	Size int64
}

// DatasetAPI transfers files to and from the project datasets.
type DatasetAPI struct {
	c         *client.Context
	chunkSize int
}

func NewDatasetAPI(c *client.Context) *DatasetAPI {
	return &DatasetAPI{c: c, chunkSize: constants.DefaultFlowChunkSize}
}

// WithChunkSize overrides the upload chunk size.
func (a *DatasetAPI) WithChunkSize(size int) *DatasetAPI {
	a.chunkSize = size
	return a
}

func (a *DatasetAPI) datasetPath(extra ...string) []string {
	return append([]string{"project", a.c.ProjectIDString(), "dataset"}, extra...)
}

// Upload sends localPath to the remote directory remoteDir in chunks.
func (a *DatasetAPI) Upload(ctx context.Context, localPath, remoteDir string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", localPath)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	fileName := filepath.Base(localPath)
	totalSize := info.Size()
	totalChunks := int((totalSize + int64(a.chunkSize) - 1) / int64(a.chunkSize))
	if totalChunks == 0 {
		totalChunks = 1
	}
	flowID, err := uuid.NewV4()
	if err != nil {
		return errors.Wrap(err, "failed to generate flow identifier")
	}

	buf := make([]byte, a.chunkSize)
	for chunk := 1; chunk <= totalChunks; chunk++ {
		n, err := io.ReadFull(f, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return errors.Wrapf(err, "failed to read %s", localPath)
		}
		params := map[string]string{
			"flowChunkNumber":      strconv.Itoa(chunk),
			"flowChunkSize":        strconv.Itoa(a.chunkSize),
			"flowCurrentChunkSize": strconv.Itoa(n),
			"flowTotalSize":        strconv.FormatInt(totalSize, 10),
			"flowIdentifier":       flowID.String(),
			"flowFilename":         fileName,
			"flowRelativePath":     fileName,
			"flowTotalChunks":      strconv.Itoa(totalChunks),
		}
		if err := a.uploadChunk(ctx, remoteDir, fileName, params, buf[:n]); err != nil {
			return errors.Wrapf(err, "failed to upload chunk %d of %s", chunk, fileName)
		}
	}
	return nil
}

func (a *DatasetAPI) uploadChunk(ctx context.Context, remoteDir, fileName string, params map[string]string, chunk []byte) error {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range params {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := part.Write(chunk); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	_, err = a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodPost,
		Path:   a.datasetPath("upload", remoteDir),
		Header: http.Header{"Content-Type": []string{w.FormDataContentType()}},
		Body:   body,
	})
	return err
}

// Download writes the remote file remotePath to localPath.
func (a *DatasetAPI) Download(ctx context.Context, remotePath, localPath string) error {
	rc, err := a.c.Client.Stream(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   []string{"project", a.c.ProjectIDString(), "dataset", "download", "with_auth", remotePath},
		Query:  url.Values{"type": []string{"DATASET"}},
	})
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", localPath)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to download %s", remotePath)
	}
	return f.Close()
}

// Mkdir creates the directory path and its parents.
func (a *DatasetAPI) Mkdir(ctx context.Context, path string) error {
	_, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodPost,
		Path:   a.datasetPath(path),
		Query: url.Values{
			"action":          []string{"create"},
			"searchable":      []string{"true"},
			"generate_readme": []string{"false"},
			"type":            []string{"DATASET"},
		},
	})
	return err
}

// PathExists reports whether path exists.
func (a *DatasetAPI) PathExists(ctx context.Context, path string) (bool, error) {
	_, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.datasetPath(path),
		Query:  url.Values{"action": []string{"stat"}},
	})
	if err == nil {
		return true, nil
	}
	if client.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Remove deletes path recursively.
func (a *DatasetAPI) Remove(ctx context.Context, path string) error {
	_, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodDelete,
		Path:   a.datasetPath(path),
	})
	return err
}

// List returns the entries of the directory path.
func (a *DatasetAPI) List(ctx context.Context, path string) ([]DatasetItem, error) {
	body, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   a.datasetPath(path),
		Query: url.Values{
			"action": []string{"listing"},
			"expand": []string{"inodes"},
		},
	})
	if err != nil {
		return nil, err
	}
	var items []DatasetItem
	gjson.GetBytes(body, "items").ForEach(func(_, item gjson.Result) bool {
		attrs := item.Get("attributes")
		items = append(items, DatasetItem{
			Name: attrs.Get("name").String(),
			Path: attrs.Get("path").String(),
			Dir:  attrs.Get("dir").Bool(),
			Size: attrs.Get("size").Int(),
		})
		return true
	})
	return items, nil
}

// Copy copies src to dst within the cluster.
func (a *DatasetAPI) Copy(ctx context.Context, src, dst string) error {
	_, err := a.c.Client.SendRequest(ctx, &client.Request{
		Method: http.MethodPost,
		Path:   a.datasetPath(src),
		Query: url.Values{
			"action":           []string{"copy"},
			"destination_path": []string{dst},
		},
	})
	return err
}
