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

package registry

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	registryapis "github.com/logicalclocks/hsml/pkg/apis/registry"
	"github.com/logicalclocks/hsml/pkg/constants"
	"github.com/logicalclocks/hsml/pkg/restapi"
	"github.com/logicalclocks/hsml/pkg/storage"
)

// ModelAPI is the registry surface the engine needs.
type ModelAPI interface {
	Put(ctx context.Context, m *registryapis.Model) (*registryapis.Model, error)
	Get(ctx context.Context, name string, version int) (*registryapis.Model, error)
	GetModels(ctx context.Context, name string) ([]*registryapis.Model, error)
	GetBestModel(ctx context.Context, name, metric string, direction registryapis.SortDirection) (*registryapis.Model, error)
	Delete(ctx context.Context, m *registryapis.Model) error
	SetTag(ctx context.Context, m *registryapis.Model, name string, value interface{}) error
	GetTags(ctx context.Context, m *registryapis.Model) ([]registryapis.Tag, error)
	DeleteTag(ctx context.Context, m *registryapis.Model, name string) error
}

// DatasetAPI moves model files in and out of the project datasets.
type DatasetAPI interface {
	Upload(ctx context.Context, localPath, remoteDir string) error
	Download(ctx context.Context, remotePath, localPath string) error
	Mkdir(ctx context.Context, path string) error
	PathExists(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, path string) error
	List(ctx context.Context, path string) ([]restapi.DatasetItem, error)
	Copy(ctx context.Context, src, dst string) error
}

// Fetcher downloads a remote object store prefix into a local directory.
type Fetcher interface {
	Fetch(ctx context.Context, uri string, destDir string) error
}

// Engine registers model versions and transfers their files.
type Engine struct {
	models      ModelAPI
	datasets    DatasetAPI
	fetcher     Fetcher
	projectName string
	clock       clock.Clock
	interval    time.Duration
	workDir     string
	log         logr.Logger
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithFetcher(f Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

func WithWorkDir(dir string) Option {
	return func(e *Engine) { e.workDir = dir }
}

func WithLogger(log logr.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(models ModelAPI, datasets DatasetAPI, projectName string, opts ...Option) *Engine {
	e := &Engine{
		models:      models,
		datasets:    datasets,
		projectName: projectName,
		clock:       clock.RealClock{},
		interval:    constants.ModelRegistryPollInterval,
		workDir:     constants.DefaultWorkDir,
		log:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fetcher == nil {
		e.fetcher = storage.NewProviders(e.log)
	}
	return e
}

// Save registers a new version of model with the files found at sourcePath, which may be a
// local file or directory, a path in the project datasets or an object store uri. The
// version directory is removed when any step fails.
func (e *Engine) Save(ctx context.Context, model *registryapis.Model, sourcePath string, await time.Duration) (*registryapis.Model, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if model.ProjectName == "" {
		model.ProjectName = e.projectName
	}
	if model.Version == nil {
		version, err := e.nextVersion(ctx, model.Name)
		if err != nil {
			return nil, err
		}
		model.Version = &version
	}
	model.SetID()

	versionPath := model.VersionPath(e.projectName)
	exists, err := e.datasets.PathExists(ctx, versionPath)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, newError(ReasonAlreadyExists, "Model with name %s and version %d already exists", model.Name, *model.Version)
	}
	if err := e.datasets.Mkdir(ctx, versionPath); err != nil {
		return nil, errors.Wrapf(err, "failed to create model version directory %s", versionPath)
	}

	saved, err := e.register(ctx, model, sourcePath, versionPath, await)
	if err != nil {
		if rmErr := e.datasets.Remove(ctx, versionPath); rmErr != nil {
			e.log.Error(rmErr, "Failed to clean up model version directory", "path", versionPath)
		}
		return nil, err
	}
	e.log.Info("Model created", "model", saved.Name, "version", saved.VersionNumber())
	return saved, nil
}

func (e *Engine) register(ctx context.Context, model *registryapis.Model, sourcePath, versionPath string, await time.Duration) (*registryapis.Model, error) {
	if err := e.copyFiles(ctx, sourcePath, versionPath); err != nil {
		return nil, err
	}
	if err := e.writeMetadata(ctx, model, versionPath); err != nil {
		return nil, err
	}
	saved, err := e.models.Put(ctx, model)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to register model %s", model.ID)
	}
	if err := e.pollAvailable(ctx, model.Name, *model.Version, await); err != nil {
		return nil, err
	}
	return saved, nil
}

func (e *Engine) nextVersion(ctx context.Context, name string) (int, error) {
	models, err := e.models.GetModels(ctx, name)
	if err != nil {
		return 0, err
	}
	latest := 0
	for _, m := range models {
		if v := m.VersionNumber(); v > latest {
			latest = v
		}
	}
	return latest + 1, nil
}

func (e *Engine) copyFiles(ctx context.Context, sourcePath, versionPath string) error {
	if sourcePath == "" {
		return nil
	}
	if _, err := os.Stat(sourcePath); err == nil {
		return e.uploadLocal(ctx, sourcePath, versionPath)
	}
	if storage.IsRemote(sourcePath) {
		tmp, err := os.MkdirTemp("", "hsml-model-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		if err := e.fetcher.Fetch(ctx, sourcePath, tmp); err != nil {
			return errors.Wrapf(err, "failed to fetch model files from %s", sourcePath)
		}
		return e.uploadLocal(ctx, tmp, versionPath)
	}
	if datasetPath, ok := hopsfsPath(sourcePath); ok {
		return e.copyDataset(ctx, datasetPath, versionPath)
	}
	return newError(ReasonInvalidSource, "Could not find model files at %s", sourcePath)
}

// hopsfsPath returns the dataset path of a /Projects or hdfs:// path.
func hopsfsPath(p string) (string, bool) {
	if strings.HasPrefix(p, "hdfs://") {
		u, err := url.Parse(p)
		if err != nil {
			return "", false
		}
		p = u.Path
	}
	if strings.HasPrefix(p, "/Projects/") {
		return p, true
	}
	return "", false
}

// uploadLocal uploads a file, or the tree under a directory, into remoteDir.
func (e *Engine) uploadLocal(ctx context.Context, localPath, remoteDir string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return e.datasets.Upload(ctx, localPath, remoteDir)
	}
	return filepath.WalkDir(localPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			return e.datasets.Mkdir(ctx, path.Join(remoteDir, filepath.ToSlash(rel)))
		}
		dir := path.Join(remoteDir, filepath.ToSlash(filepath.Dir(rel)))
		e.log.V(1).Info("Uploading model file", "file", rel)
		return e.datasets.Upload(ctx, p, dir)
	})
}

func (e *Engine) copyDataset(ctx context.Context, src, versionPath string) error {
	items, err := e.datasets.List(ctx, src)
	if err != nil {
		return errors.Wrapf(err, "failed to list %s", src)
	}
	for _, item := range items {
		if err := e.datasets.Copy(ctx, path.Join(src, item.Name), path.Join(versionPath, item.Name)); err != nil {
			return errors.Wrapf(err, "failed to copy %s", item.Name)
		}
	}
	return nil
}

func (e *Engine) writeMetadata(ctx context.Context, model *registryapis.Model, versionPath string) error {
	files := map[string]interface{}{}
	if len(model.InputExample) > 0 {
		files[constants.InputExampleFile] = model.InputExample
	}
	if model.ModelSchema != nil {
		files[constants.ModelSchemaFile] = model.ModelSchema
	}
	if len(files) == 0 {
		return nil
	}
	tmp, err := os.MkdirTemp("", "hsml-metadata-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	for name, value := range files {
		b, err := json.Marshal(value)
		if err != nil {
			return errors.Wrapf(err, "failed to encode %s", name)
		}
		local := filepath.Join(tmp, name)
		if err := os.WriteFile(local, b, 0o600); err != nil {
			return err
		}
		if err := e.datasets.Upload(ctx, local, versionPath); err != nil {
			return errors.Wrapf(err, "failed to upload %s", name)
		}
	}
	return nil
}

// pollAvailable waits until the registered version can be read back. An await of zero
// or less skips the wait.
func (e *Engine) pollAvailable(ctx context.Context, name string, version int, await time.Duration) error {
	if await <= 0 {
		return nil
	}
	iterations := int((await + e.interval - 1) / e.interval)
	for i := 0; i < iterations; i++ {
		m, err := e.models.Get(ctx, name, version)
		if err != nil {
			return err
		}
		if m != nil {
			return nil
		}
		t := e.clock.NewTimer(e.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C():
		}
	}
	return newError(ReasonRegistrationTimeout,
		"Model not available during polling, set a higher value for await_registration to wait longer")
}

// Download copies every file of the model version into a new directory under the work
// directory and returns it.
func (e *Engine) Download(ctx context.Context, model *registryapis.Model) (string, error) {
	if model.Version == nil {
		return "", newError(ReasonNotFound, "Model %s has no version, save it first", model.Name)
	}
	workDir := e.workDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		workDir = wd
	}
	localDir := filepath.Join(workDir, uuid.New().String(), model.Name, strconv.Itoa(*model.Version))
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", err
	}
	if err := e.downloadDir(ctx, model.VersionPath(e.projectName), localDir); err != nil {
		return "", err
	}
	e.log.Info("Downloaded model", "model", model.Name, "version", *model.Version, "path", localDir)
	return localDir, nil
}

func (e *Engine) downloadDir(ctx context.Context, remoteDir, localDir string) error {
	items, err := e.datasets.List(ctx, remoteDir)
	if err != nil {
		return errors.Wrapf(err, "failed to list %s", remoteDir)
	}
	for _, item := range items {
		remote := path.Join(remoteDir, item.Name)
		local, err := storage.SafeJoin(localDir, item.Name)
		if err != nil {
			return err
		}
		if item.Dir {
			if err := os.MkdirAll(local, 0o755); err != nil {
				return err
			}
			if err := e.downloadDir(ctx, remote, local); err != nil {
				return err
			}
			continue
		}
		if err := e.datasets.Download(ctx, remote, local); err != nil {
			return errors.Wrapf(err, "failed to download %s", remote)
		}
	}
	return nil
}

// Delete removes the model version from the registry.
func (e *Engine) Delete(ctx context.Context, model *registryapis.Model) error {
	return e.models.Delete(ctx, model)
}

func (e *Engine) SetTag(ctx context.Context, model *registryapis.Model, name string, value interface{}) error {
	return e.models.SetTag(ctx, model, name, value)
}

func (e *Engine) GetTags(ctx context.Context, model *registryapis.Model) (map[string]interface{}, error) {
	tags, err := e.models.GetTags(ctx, model)
	if err != nil {
		return nil, err
	}
	result := make(map[string]interface{}, len(tags))
	for _, tag := range tags {
		var value interface{}
		if err := json.Unmarshal(tag.Value, &value); err != nil {
			return nil, errors.Wrapf(err, "failed to decode tag %s", tag.Name)
		}
		result[tag.Name] = value
	}
	return result, nil
}

func (e *Engine) DeleteTag(ctx context.Context, model *registryapis.Model, name string) error {
	return e.models.DeleteTag(ctx, model, name)
}
