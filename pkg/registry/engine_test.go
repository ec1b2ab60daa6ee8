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
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	registryapis "github.com/logicalclocks/hsml/pkg/apis/registry"
	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/constants"
	"github.com/logicalclocks/hsml/pkg/restapi"
	hsmltesting "github.com/logicalclocks/hsml/pkg/testing"
)

type fakeModelAPI struct {
	mu        sync.Mutex
	existing  []*registryapis.Model
	put       []*registryapis.Model
	available bool
	gets      int
	tags      []registryapis.Tag
}

func (f *fakeModelAPI) Put(_ context.Context, m *registryapis.Model) (*registryapis.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put = append(f.put, m)
	saved := *m
	return &saved, nil
}

func (f *fakeModelAPI) Get(_ context.Context, name string, version int) (*registryapis.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if !f.available {
		return nil, nil
	}
	return &registryapis.Model{Name: name, Version: &version}, nil
}

func (f *fakeModelAPI) GetModels(_ context.Context, _ string) ([]*registryapis.Model, error) {
	return f.existing, nil
}

func (f *fakeModelAPI) GetBestModel(_ context.Context, _, _ string, _ registryapis.SortDirection) (*registryapis.Model, error) {
	if len(f.existing) == 0 {
		return nil, nil
	}
	return f.existing[0], nil
}

func (f *fakeModelAPI) Delete(_ context.Context, _ *registryapis.Model) error {
	return nil
}

func (f *fakeModelAPI) SetTag(_ context.Context, _ *registryapis.Model, name string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.tags = append(f.tags, registryapis.Tag{Name: name, Value: b})
	return nil
}

func (f *fakeModelAPI) GetTags(_ context.Context, _ *registryapis.Model) ([]registryapis.Tag, error) {
	return f.tags, nil
}

func (f *fakeModelAPI) DeleteTag(_ context.Context, _ *registryapis.Model, _ string) error {
	return nil
}

// fakeDatasetAPI keeps remote files in memory, keyed by path.
type fakeDatasetAPI struct {
	mu      sync.Mutex
	files   map[string]string
	dirs    map[string]bool
	removed []string
	copied  [][2]string
}

func newFakeDatasetAPI() *fakeDatasetAPI {
	return &fakeDatasetAPI{files: map[string]string{}, dirs: map[string]bool{}}
}

func (f *fakeDatasetAPI) Upload(_ context.Context, localPath, remoteDir string) error {
	b, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[remoteDir+"/"+filepath.Base(localPath)] = string(b)
	return nil
}

func (f *fakeDatasetAPI) Download(_ context.Context, remotePath, localPath string) error {
	f.mu.Lock()
	contents, ok := f.files[remotePath]
	f.mu.Unlock()
	if !ok {
		return &client.RestAPIError{StatusCode: http.StatusNotFound, ErrorCode: constants.ErrorCodeDatasetNotFound}
	}
	return os.WriteFile(localPath, []byte(contents), 0o600)
}

func (f *fakeDatasetAPI) Mkdir(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path] = true
	return nil
}

func (f *fakeDatasetAPI) PathExists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[path], nil
}

func (f *fakeDatasetAPI) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	delete(f.dirs, path)
	return nil
}

func (f *fakeDatasetAPI) List(_ context.Context, dir string) ([]restapi.DatasetItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []restapi.DatasetItem
	for p := range f.dirs {
		if filepath.Dir(p) == dir {
			items = append(items, restapi.DatasetItem{Name: filepath.Base(p), Path: p, Dir: true})
		}
	}
	for p := range f.files {
		if filepath.Dir(p) == dir {
			items = append(items, restapi.DatasetItem{Name: filepath.Base(p), Path: p})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (f *fakeDatasetAPI) Copy(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copied = append(f.copied, [2]string{src, dst})
	f.files[dst] = f.files[src]
	return nil
}

type fakeFetcher struct {
	uris []string
}

func (f *fakeFetcher) Fetch(_ context.Context, uri string, destDir string) error {
	f.uris = append(f.uris, uri)
	return os.WriteFile(filepath.Join(destDir, "model.pkl"), []byte("weights"), 0o600)
}

func writeModelDir(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "saved_model.pb"), []byte("graph"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "variables"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "variables", "variables.index"), []byte("index"), 0o600))
	return dir
}

func stepping(fc *testingclock.FakeClock, f func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		f()
	}()
	for {
		select {
		case <-done:
			return
		default:
			if fc.HasWaiters() {
				fc.Step(constants.ModelRegistryPollInterval)
			} else {
				time.Sleep(time.Millisecond)
			}
		}
	}
}

func TestSaveLocalDirectory(t *testing.T) {
	models := &fakeModelAPI{available: true, existing: []*registryapis.Model{
		{Name: "mnist", Version: intPtr(1)},
		{Name: "mnist", Version: intPtr(3)},
	}}
	datasets := newFakeDatasetAPI()
	engine := NewEngine(models, datasets, "demo_ml", WithLogger(hsmltesting.NewTestLogger(t)))

	schema := &registryapis.ModelSchema{InputSchema: &registryapis.Schema{
		ColumnarSchema: []registryapis.Feature{{Name: "age", Type: "int"}},
	}}
	model, err := registryapis.NewModel(constants.FrameworkTensorflow, "mnist",
		registryapis.WithInputExample([]int{1, 2}), registryapis.WithModelSchema(schema))
	require.NoError(t, err)

	saved, err := engine.Save(context.Background(), model, writeModelDir(t), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4, saved.VersionNumber())
	assert.Equal(t, "mnist_4", saved.ID)
	assert.Equal(t, "demo_ml", saved.ProjectName)

	want := map[string]string{
		"/Projects/demo_ml/Models/mnist/4/saved_model.pb":            "graph",
		"/Projects/demo_ml/Models/mnist/4/variables/variables.index": "index",
		"/Projects/demo_ml/Models/mnist/4/input_example.json":        "[1,2]",
	}
	for p, contents := range want {
		assert.Equal(t, contents, datasets.files[p], p)
	}
	assert.Contains(t, datasets.files, "/Projects/demo_ml/Models/mnist/4/model_schema.json")
	assert.True(t, datasets.dirs["/Projects/demo_ml/Models/mnist/4/variables"])
	assert.Empty(t, datasets.removed)
	assert.Equal(t, 1, models.gets)
}

func TestSaveExistingVersion(t *testing.T) {
	datasets := newFakeDatasetAPI()
	datasets.dirs["/Projects/demo_ml/Models/mnist/2"] = true
	engine := NewEngine(&fakeModelAPI{}, datasets, "demo_ml")

	model, err := registryapis.NewModel(constants.FrameworkSklearn, "mnist", registryapis.WithVersion(2))
	require.NoError(t, err)
	_, err = engine.Save(context.Background(), model, "", time.Minute)
	assert.True(t, IsAlreadyExists(err))
	assert.Empty(t, datasets.removed)
}

func TestSaveRegistrationTimeout(t *testing.T) {
	models := &fakeModelAPI{}
	datasets := newFakeDatasetAPI()
	fakeClock := testingclock.NewFakeClock(time.Now())
	engine := NewEngine(models, datasets, "demo_ml", WithClock(fakeClock), WithLogger(hsmltesting.NewTestLogger(t)))

	model, err := registryapis.NewModel(constants.FrameworkTorch, "mnist")
	require.NoError(t, err)
	dir := writeModelDir(t)
	stepping(fakeClock, func() {
		_, err = engine.Save(context.Background(), model, dir, 10*time.Second)
	})
	assert.True(t, IsRegistrationTimeout(err))
	assert.Equal(t, 2, models.gets)
	assert.Equal(t, []string{"/Projects/demo_ml/Models/mnist/1"}, datasets.removed)
}

func TestSaveZeroAwait(t *testing.T) {
	models := &fakeModelAPI{available: true}
	datasets := newFakeDatasetAPI()
	engine := NewEngine(models, datasets, "demo_ml", WithLogger(hsmltesting.NewTestLogger(t)))

	model, err := registryapis.NewModel(constants.FrameworkTensorflow, "mnist")
	require.NoError(t, err)
	saved, err := engine.Save(context.Background(), model, writeModelDir(t), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.VersionNumber())
	assert.Len(t, models.put, 1)
	assert.Equal(t, 0, models.gets)
	assert.Empty(t, datasets.removed)
	assert.Equal(t, "graph", datasets.files["/Projects/demo_ml/Models/mnist/1/saved_model.pb"])
}

func TestSaveFromDatasets(t *testing.T) {
	models := &fakeModelAPI{available: true}
	datasets := newFakeDatasetAPI()
	datasets.files["/Projects/demo_ml/Resources/mnist/model.pkl"] = "weights"
	engine := NewEngine(models, datasets, "demo_ml")

	model, err := registryapis.NewModel(constants.FrameworkSklearn, "mnist")
	require.NoError(t, err)
	_, err = engine.Save(context.Background(), model, "hdfs://namenode:8020/Projects/demo_ml/Resources/mnist", time.Minute)
	require.NoError(t, err)
	want := [][2]string{{"/Projects/demo_ml/Resources/mnist/model.pkl", "/Projects/demo_ml/Models/mnist/1/model.pkl"}}
	if diff := cmp.Diff(want, datasets.copied); diff != "" {
		t.Errorf("unexpected copies (-want +got):\n%s", diff)
	}
}

func TestSaveFromObjectStore(t *testing.T) {
	models := &fakeModelAPI{available: true}
	datasets := newFakeDatasetAPI()
	fetcher := &fakeFetcher{}
	engine := NewEngine(models, datasets, "demo_ml", WithFetcher(fetcher))

	model, err := registryapis.NewModel(constants.FrameworkSklearn, "mnist")
	require.NoError(t, err)
	_, err = engine.Save(context.Background(), model, "s3://models/mnist", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://models/mnist"}, fetcher.uris)
	assert.Equal(t, "weights", datasets.files["/Projects/demo_ml/Models/mnist/1/model.pkl"])
}

func TestSaveInvalidSource(t *testing.T) {
	datasets := newFakeDatasetAPI()
	engine := NewEngine(&fakeModelAPI{}, datasets, "demo_ml")

	model, err := registryapis.NewModel(constants.FrameworkSklearn, "mnist")
	require.NoError(t, err)
	_, err = engine.Save(context.Background(), model, "relative/missing", time.Minute)
	assert.True(t, hasReason(err, ReasonInvalidSource))
	assert.Equal(t, []string{"/Projects/demo_ml/Models/mnist/1"}, datasets.removed)
}

func TestDownload(t *testing.T) {
	datasets := newFakeDatasetAPI()
	datasets.dirs["/Projects/demo_ml/Models/mnist/1/variables"] = true
	datasets.files["/Projects/demo_ml/Models/mnist/1/saved_model.pb"] = "graph"
	datasets.files["/Projects/demo_ml/Models/mnist/1/variables/variables.index"] = "index"
	engine := NewEngine(&fakeModelAPI{}, datasets, "demo_ml", WithWorkDir(t.TempDir()))

	dir, err := engine.Download(context.Background(), &registryapis.Model{Name: "mnist", Version: intPtr(1)})
	require.NoError(t, err)
	assert.DirExists(t, dir)
	b, err := os.ReadFile(filepath.Join(dir, "variables", "variables.index"))
	require.NoError(t, err)
	assert.Equal(t, "index", string(b))
	b, err = os.ReadFile(filepath.Join(dir, "saved_model.pb"))
	require.NoError(t, err)
	assert.Equal(t, "graph", string(b))
}

func TestTags(t *testing.T) {
	models := &fakeModelAPI{}
	engine := NewEngine(models, newFakeDatasetAPI(), "demo_ml")
	model := &registryapis.Model{Name: "mnist", Version: intPtr(1)}

	require.NoError(t, engine.SetTag(context.Background(), model, "owner", map[string]interface{}{"team": "ml"}))
	tags, err := engine.GetTags(context.Background(), model)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"owner": map[string]interface{}{"team": "ml"}}, tags)
}

func TestModelRegistry(t *testing.T) {
	models := &fakeModelAPI{existing: []*registryapis.Model{{Name: "mnist", Version: intPtr(3)}}}
	registry := NewModelRegistry(models, NewEngine(models, newFakeDatasetAPI(), "demo_ml"))

	best, err := registry.GetBestModel(context.Background(), "mnist", "accuracy", registryapis.SortMax)
	require.NoError(t, err)
	assert.Equal(t, 3, best.VersionNumber())

	m, err := registry.CreateModel(constants.FrameworkPython, "mnist")
	require.NoError(t, err)
	assert.Equal(t, constants.FrameworkPython, m.Framework)

	_, err = registry.CreateModel("JAX", "mnist")
	assert.Error(t, err)
}

func intPtr(i int) *int {
	return &i
}
