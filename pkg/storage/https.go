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
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

const DefaultMaxDecompressionSize = 1024 * 1024 * 1024 // 1 GB

// HTTPSProvider downloads a single file. Zip and tar archives are extracted into the destination.
type HTTPSProvider struct {
	Client *http.Client
	Header http.Header
	log    logr.Logger
}

var _ Provider = (*HTTPSProvider)(nil)

func (m *HTTPSProvider) Download(ctx context.Context, uri string, destDir string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return errors.Wrap(err, "unable to parse storage uri")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	for key, values := range m.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := m.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to make a request")
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.log.Error(closeErr, "failed to close body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("URI: %s returned a %d response code", uri, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/zip"):
		return extractZipStream(resp.Body, destDir)
	case strings.Contains(contentType, "application/x-tar") || strings.Contains(contentType, "application/x-gtar") ||
		strings.Contains(contentType, "application/x-gzip") || strings.Contains(contentType, "application/gzip"):
		return ExtractTar(resp.Body, destDir)
	}
	fileName, err := SafeJoin(destDir, path.Base(u.Path))
	if err != nil {
		return err
	}
	file, err := createNewFile(fileName)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err = io.Copy(file, resp.Body); err != nil {
		return errors.Wrap(err, "unable to copy file content")
	}
	return nil
}

// extractZipStream spools body to a temp file since zip needs random access.
func extractZipStream(body io.Reader, dest string) error {
	tmp, err := os.CreateTemp("", "hsml-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := io.Copy(tmp, body); err != nil {
		return errors.Wrap(err, "unable to buffer zip archive")
	}
	return ExtractZip(tmp.Name(), dest)
}

// ExtractZip extracts the archive at zipPath into dest.
func ExtractZip(zipPath string, dest string) error {
	zipReader, err := zip.OpenReader(zipPath)
	if err != nil {
		return errors.Wrap(err, "unable to create new reader")
	}
	defer zipReader.Close()

	for _, zipFile := range zipReader.File {
		fileFullPath, err := SafeJoin(dest, zipFile.Name)
		if err != nil {
			return err
		}
		if zipFile.Mode().IsDir() {
			if err := os.MkdirAll(fileFullPath, 0o755); err != nil {
				return errors.Errorf("unable to create new directory %s", fileFullPath)
			}
			continue
		}
		if err := extractZipFile(zipFile, fileFullPath); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(zipFile *zip.File, fileFullPath string) error {
	file, err := createNewFile(fileFullPath)
	if err != nil {
		return err
	}
	defer file.Close()
	rc, err := zipFile.Open()
	if err != nil {
		return errors.Wrap(err, "unable to open file")
	}
	defer rc.Close()
	if _, err := io.CopyN(file, rc, DefaultMaxDecompressionSize); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "unable to copy file content")
	}
	return nil
}

// ExtractTar extracts a gzipped tar stream into dest.
func ExtractTar(reader io.Reader, dest string) error {
	gzr, err := gzip.NewReader(reader)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return errors.Wrap(err, "unable to access next tar file")
		}

		fileFullPath, err := SafeJoin(dest, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(fileFullPath, 0o755); err != nil {
				return errors.Errorf("unable to create new directory %s", fileFullPath)
			}
		case tar.TypeReg:
			if err := extractTarFile(tr, fileFullPath); err != nil {
				return errors.Wrapf(err, "unable to copy contents to %s", header.Name)
			}
		}
	}
	return nil
}

func extractTarFile(tr *tar.Reader, fileFullPath string) error {
	newFile, err := createNewFile(fileFullPath)
	if err != nil {
		return err
	}
	defer newFile.Close()
	if _, err := io.CopyN(newFile, tr, DefaultMaxDecompressionSize); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
