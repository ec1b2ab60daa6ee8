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

package storage_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/logicalclocks/hsml/pkg/storage"
	"github.com/logicalclocks/hsml/pkg/storage/mocks"
)

func readFile(path string) string {
	b, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())
	return string(b)
}

func zipArchive(files map[string]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, contents := range files {
		f, err := w.Create(name)
		Expect(err).NotTo(HaveOccurred())
		_, err = f.Write([]byte(contents))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(w.Close()).To(Succeed())
	return buf.Bytes()
}

func tarArchive(files map[string]string) []byte {
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	for name, contents := range files {
		Expect(tw.WriteHeader(&tar.Header{Name: name, Mode: 0o600, Size: int64(len(contents)), Typeflag: tar.TypeReg})).To(Succeed())
		_, err := tw.Write([]byte(contents))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(tw.Close()).To(Succeed())
	Expect(gz.Close()).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("ParseProtocol", func() {
	It("should map uris to protocols", func() {
		scenarios := map[string]storage.Protocol{
			"s3://models/mnist":                               storage.S3,
			"gs://models/mnist":                               storage.GCS,
			"azure://acct.blob.core.windows.net/models/mnist": storage.Azure,
			"https://acct.blob.core.windows.net/models/mnist": storage.Azure,
			"https://example.com/models/mnist.zip":            storage.HTTPS,
			"http://example.com/models/mnist.zip":             storage.HTTP,
		}
		for uri, expected := range scenarios {
			protocol, err := storage.ParseProtocol(uri)
			Expect(err).NotTo(HaveOccurred())
			Expect(protocol).To(Equal(expected), uri)
		}
	})

	It("should reject local and hopsfs paths", func() {
		for _, uri := range []string{"/Projects/demo/Models/mnist", "hdfs:///Projects/demo", "model.pkl"} {
			Expect(storage.IsRemote(uri)).To(BeFalse(), uri)
		}
	})
})

var _ = Describe("S3Provider", func() {
	var client *mocks.MockS3Client

	BeforeEach(func() {
		client = &mocks.MockS3Client{Objects: map[string][]byte{
			"models/mnist/model.pt":        []byte("weights"),
			"models/mnist/config/conf.txt": []byte("config"),
			"models/mnist2/model.pt":       []byte("other"),
		}}
	})

	It("should download every object below the prefix", func() {
		dest := GinkgoT().TempDir()
		provider := &storage.S3Provider{Client: client, Downloader: &mocks.MockS3Downloader{Client: client}}
		Expect(provider.Download(context.Background(), "s3://bucket/models/mnist", dest)).To(Succeed())
		Expect(readFile(filepath.Join(dest, "model.pt"))).To(Equal("weights"))
		Expect(readFile(filepath.Join(dest, "config", "conf.txt"))).To(Equal("config"))
		Expect(filepath.Join(dest, "..", "mnist2")).NotTo(BeADirectory())
	})

	It("should fail when the batch download fails", func() {
		provider := &storage.S3Provider{Client: client, Downloader: &mocks.MockS3FailDownloader{}}
		err := provider.Download(context.Background(), "s3://bucket/models/mnist", GinkgoT().TempDir())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unable to download objects"))
	})

	It("should fail when nothing matches", func() {
		provider := &storage.S3Provider{Client: client, Downloader: &mocks.MockS3Downloader{Client: client}}
		err := provider.Download(context.Background(), "s3://bucket/models/iris", GinkgoT().TempDir())
		Expect(err).To(MatchError(ContainSubstring("no objects found")))
	})
})

var _ = Describe("GCSProvider", func() {
	It("should download objects through the stiface client", func() {
		client := mocks.NewMockGCSClient()
		client.AddObject("kfserving-examples", "models/torch/v1/model.mar", []byte("mar"))
		client.AddObject("kfserving-examples", "models/torch/v1/config.properties", []byte("props"))
		provider := &storage.GCSProvider{Client: client}

		dest := GinkgoT().TempDir()
		Expect(provider.Download(context.Background(), "gs://kfserving-examples/models/torch/v1", dest)).To(Succeed())
		Expect(readFile(filepath.Join(dest, "model.mar"))).To(Equal("mar"))
		Expect(readFile(filepath.Join(dest, "config.properties"))).To(Equal("props"))

		By("downloading a single object")
		single := GinkgoT().TempDir()
		Expect(provider.Download(context.Background(), "gs://kfserving-examples/models/torch/v1/model.mar", single)).To(Succeed())
		Expect(readFile(filepath.Join(single, "model.mar"))).To(Equal("mar"))

		By("reporting missing objects and buckets")
		err := provider.Download(context.Background(), "gs://kfserving-examples/models/missing", GinkgoT().TempDir())
		Expect(err).To(MatchError(ContainSubstring("object doesn't exist")))
		err = provider.Download(context.Background(), "gs://bucket-not-exist/models", GinkgoT().TempDir())
		Expect(err).To(MatchError(ContainSubstring("an error occurred while iterating")))
	})
})

var _ = Describe("AzureProvider", func() {
	client := &mocks.MockAzureClient{Blobs: map[string]map[string][]byte{
		"models": {
			"mnist/1/model.onnx": []byte("onnx"),
			"mnist/config.pbtxt": []byte("pbtxt"),
		},
	}}

	It("should download blobs below the virtual directory", func() {
		dest := GinkgoT().TempDir()
		provider := storage.NewAzureProvider(client, logr.Discard())
		Expect(provider.Download(context.Background(), "azure://acct.blob.core.windows.net/models/mnist", dest)).To(Succeed())
		Expect(readFile(filepath.Join(dest, "1", "model.onnx"))).To(Equal("onnx"))
		Expect(readFile(filepath.Join(dest, "config.pbtxt"))).To(Equal("pbtxt"))
	})

	It("should reject uris without a container and directory", func() {
		provider := storage.NewAzureProvider(client, logr.Discard())
		for _, uri := range []string{
			"azure://acct.blob.core.windows.net",
			"azure://acct.blob.core.windows.net/models",
			"azure://acct.blob.core.windows.net/models/",
			"azure://example.com/models/mnist",
		} {
			Expect(provider.Download(context.Background(), uri, GinkgoT().TempDir())).NotTo(Succeed(), uri)
		}
	})
})

var _ = Describe("HTTPSProvider", func() {
	var server *httptest.Server

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			switch req.URL.Path {
			case "/model.zip":
				rw.Header().Set("Content-Type", "application/zip")
				_, _ = rw.Write(zipArchive(map[string]string{"model/weights.bin": "zip-weights"}))
			case "/model.tar.gz":
				rw.Header().Set("Content-Type", "application/gzip")
				_, _ = rw.Write(tarArchive(map[string]string{"model/weights.bin": "tar-weights"}))
			case "/model.pkl":
				Expect(req.Header.Get("Authorization")).To(Equal("Bearer token"))
				rw.Header().Set("Content-Type", "application/octet-stream")
				_, _ = rw.Write([]byte("pickle"))
			default:
				rw.WriteHeader(http.StatusNotFound)
			}
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("should extract archives and copy plain files", func() {
		provider := &storage.HTTPSProvider{Client: server.Client(), Header: http.Header{"Authorization": []string{"Bearer token"}}}
		dest := GinkgoT().TempDir()
		Expect(provider.Download(context.Background(), server.URL+"/model.zip", dest)).To(Succeed())
		Expect(readFile(filepath.Join(dest, "model", "weights.bin"))).To(Equal("zip-weights"))

		dest = GinkgoT().TempDir()
		Expect(provider.Download(context.Background(), server.URL+"/model.tar.gz", dest)).To(Succeed())
		Expect(readFile(filepath.Join(dest, "model", "weights.bin"))).To(Equal("tar-weights"))

		dest = GinkgoT().TempDir()
		Expect(provider.Download(context.Background(), server.URL+"/model.pkl", dest)).To(Succeed())
		Expect(readFile(filepath.Join(dest, "model.pkl"))).To(Equal("pickle"))

		Expect(provider.Download(context.Background(), server.URL+"/missing", dest)).To(MatchError(ContainSubstring("404")))
	})
})

var _ = Describe("ExtractZip", func() {
	It("should reject entries escaping the destination", func() {
		dir := GinkgoT().TempDir()
		archive := filepath.Join(dir, "evil.zip")
		Expect(os.WriteFile(archive, zipArchive(map[string]string{"../../evil.sh": "boom"}), 0o600)).To(Succeed())
		err := storage.ExtractZip(archive, filepath.Join(dir, "out"))
		Expect(err).To(MatchError(ContainSubstring("illegal file path")))
		Expect(filepath.Join(dir, "..", "evil.sh")).NotTo(BeAnExistingFile())
	})

	It("should extract nested files", func() {
		dir := GinkgoT().TempDir()
		archive := filepath.Join(dir, "artifact.zip")
		Expect(os.WriteFile(archive, zipArchive(map[string]string{"predictor.py": "print()", "lib/util.py": "x = 1"}), 0o600)).To(Succeed())
		Expect(storage.ExtractZip(archive, dir)).To(Succeed())
		Expect(readFile(filepath.Join(dir, "lib", "util.py"))).To(Equal("x = 1"))
	})
})

var _ = Describe("Providers", func() {
	It("should route uris to registered providers", func() {
		client := mocks.NewMockGCSClient()
		client.AddObject("bucket", "mnist/model.pkl", []byte("pkl"))
		providers := storage.NewProviders(logr.Discard(), storage.WithProvider(storage.GCS, &storage.GCSProvider{Client: client}))

		dest := GinkgoT().TempDir()
		Expect(providers.Fetch(context.Background(), "gs://bucket/mnist", dest)).To(Succeed())
		Expect(readFile(filepath.Join(dest, "model.pkl"))).To(Equal("pkl"))

		Expect(providers.Fetch(context.Background(), "ftp://bucket/mnist", dest)).To(MatchError(ContainSubstring("unsupported storage uri")))
	})

	It("should build providers from the environment", func() {
		providers := storage.NewProviders(logr.Discard(), storage.WithConfig(storage.Config{AWSRegion: "eu-north-1", S3UseVirtualBucket: true}))
		provider, err := providers.GetProvider(context.Background(), storage.S3)
		Expect(err).NotTo(HaveOccurred())
		Expect(provider).To(BeAssignableToTypeOf(&storage.S3Provider{}))

		again, err := providers.GetProvider(context.Background(), storage.S3)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(BeIdenticalTo(provider))
	})
})
