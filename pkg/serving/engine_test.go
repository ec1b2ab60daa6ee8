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

package serving

import (
	"archive/zip"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/constants"
	hsmltesting "github.com/logicalclocks/hsml/pkg/testing"
)

// fakeServingAPI replays a script of statuses, one per state query. The last status
// is repeated once the script is exhausted.
type fakeServingAPI struct {
	mu               sync.Mutex
	statuses         []string
	condition        *servingapis.Condition
	calls            []string
	postErrs         map[constants.DeploymentAction]error
	putErr           error
	existing         *servingapis.Predictor
	inferErr         error
	payload          map[string]interface{}
	throughHopsworks bool
	logs             []servingapis.ComponentLogs
}

func (f *fakeServingAPI) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeServingAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServingAPI) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeServingAPI) GetByID(_ context.Context, id int) (*servingapis.Predictor, error) {
	f.record("get")
	if f.existing == nil || *f.existing.ID != id {
		return nil, &client.RestAPIError{StatusCode: http.StatusNotFound, ErrorCode: constants.ErrorCodeServingNotFound}
	}
	return f.existing, nil
}

func (f *fakeServingAPI) GetByName(_ context.Context, _ string) (*servingapis.Predictor, error) {
	f.record("getByName")
	return f.existing, nil
}

func (f *fakeServingAPI) GetAll(_ context.Context, _ string, _ constants.PredictorStatus) ([]*servingapis.Predictor, error) {
	f.record("getAll")
	if f.existing == nil {
		return nil, nil
	}
	return []*servingapis.Predictor{f.existing}, nil
}

func (f *fakeServingAPI) Put(_ context.Context, p *servingapis.Predictor) (*servingapis.Predictor, error) {
	f.record("put")
	if f.putErr != nil {
		return nil, f.putErr
	}
	saved := *p
	if saved.ID == nil {
		saved.ID = ptr.To(7)
	}
	return &saved, nil
}

func (f *fakeServingAPI) Post(_ context.Context, _ *servingapis.Predictor, action constants.DeploymentAction) error {
	f.record("post:" + string(action))
	return f.postErrs[action]
}

func (f *fakeServingAPI) Delete(_ context.Context, _ *servingapis.Predictor) error {
	f.record("delete")
	return nil
}

func (f *fakeServingAPI) GetState(_ context.Context, _ *servingapis.Predictor) (*servingapis.PredictorState, error) {
	f.record("state")
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	state := &servingapis.PredictorState{Status: status, Condition: f.condition}
	if status == string(constants.StatusRunning) {
		state.AvailablePredictorInstances = 1
	}
	return state, nil
}

func (f *fakeServingAPI) GetLogs(_ context.Context, _ *servingapis.Predictor, component constants.Component, _ int) ([]servingapis.ComponentLogs, error) {
	f.record("logs:" + string(component))
	return f.logs, nil
}

func (f *fakeServingAPI) GetInferenceEndpoints(_ context.Context) ([]servingapis.InferenceEndpoint, error) {
	f.record("endpoints")
	return []servingapis.InferenceEndpoint{{Type: "LOAD_BALANCER", Hosts: []string{"10.0.0.1"}}}, nil
}

func (f *fakeServingAPI) SendInferenceRequest(_ context.Context, _ *servingapis.Predictor, payload map[string]interface{}, throughHopsworks bool) (map[string]interface{}, error) {
	f.record("infer")
	f.payload = payload
	f.throughHopsworks = throughHopsworks
	if f.inferErr != nil {
		return nil, f.inferErr
	}
	return map[string]interface{}{"predictions": []interface{}{1.0}}, nil
}

type fakeDownloader struct {
	remotePaths []string
	files       map[string]string
}

func (d *fakeDownloader) Download(_ context.Context, remotePath, localPath string) error {
	d.remotePaths = append(d.remotePaths, remotePath)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	w := zip.NewWriter(f)
	for name, contents := range d.files {
		entry, err := w.Create(name)
		if err != nil {
			return err
		}
		if _, err := entry.Write([]byte(contents)); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.Close()
}

func testPredictor(id *int) *servingapis.Predictor {
	return &servingapis.Predictor{
		PredictorSpec: servingapis.PredictorSpec{
			Name:            "mnist",
			ModelName:       "mnist",
			ModelPath:       "/Projects/demo_ml/Models/mnist",
			ModelVersion:    1,
			ModelFramework:  constants.FrameworkTensorflow,
			ArtifactVersion: servingapis.ArtifactVersionNumber(2),
			ModelServer:     constants.ModelServerTFServing,
			ServingTool:     constants.ServingToolKServe,
			APIProtocol:     constants.APIProtocolREST,
			Resources:       &servingapis.ComponentResources{Kind: constants.Predictor, NumInstances: ptr.To(1)},
		},
		ID: id,
	}
}

// stepping runs f while advancing the clock one poll interval each time the engine
// waits on it.
func stepping(fc *testingclock.FakeClock, f func()) {
	done := make(chan struct{})
	go func() {
		defer GinkgoRecover()
		defer close(done)
		f()
	}()
	for {
		select {
		case <-done:
			return
		default:
			if fc.HasWaiters() {
				fc.Step(constants.DeploymentPollInterval)
			} else {
				time.Sleep(time.Millisecond)
			}
		}
	}
}

var _ = Describe("Engine", func() {
	var (
		ctx        context.Context
		api        *fakeServingAPI
		fakeClock  *testingclock.FakeClock
		engine     *Engine
		deployment *Deployment
		steps      [][2]int
	)

	BeforeEach(func() {
		ctx = context.Background()
		api = &fakeServingAPI{}
		fakeClock = testingclock.NewFakeClock(time.Now())
		steps = nil
		engine = NewEngine(api,
			WithClock(fakeClock),
			WithProgress(func(current, total int, _ string) {
				steps = append(steps, [2]int{current, total})
			}),
			WithDeploymentURL(func(id int) string { return "https://hopsworks.ai.local/p/119/deployments/" + strconv.Itoa(id) }),
			WithLogger(hsmltesting.NewTestLogger(GinkgoT())),
		)
		deployment = newDeployment(testPredictor(ptr.To(3)), engine)
	})

	Describe("Start", func() {
		It("should not send any request when already running", func() {
			for _, status := range []string{"RUNNING", "IDLE", "STARTING", "UPDATING"} {
				api.statuses = []string{status}
				state, err := engine.Start(ctx, deployment, time.Minute)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(state.Phase())).To(Equal(status))
			}
			Expect(api.Calls()).To(Equal([]string{"state", "state", "state", "state"}))
		})

		It("should refuse to start a stopping deployment", func() {
			api.statuses = []string{"STOPPING"}
			_, err := engine.Start(ctx, deployment, time.Minute)
			Expect(IsPrecondition(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("please wait until it completely stops"))
			Expect(api.count("post:START")).To(Equal(0))
		})

		It("should wait until the deployment is running", func() {
			api.statuses = []string{"STOPPED", "STARTING", "RUNNING"}
			var state *servingapis.PredictorState
			var err error
			stepping(fakeClock, func() {
				state, err = engine.Start(ctx, deployment, time.Minute)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(hsmltesting.HavePhase(constants.StatusRunning))
			Expect(api.Calls()).To(Equal([]string{"state", "post:START", "state", "state"}))
			Expect(deployment.IsRunning(false, false)).To(BeTrue())
			Expect(steps[len(steps)-1]).To(Equal([2]int{1, 1}))
		})

		It("should time out after await divided by the poll interval queries", func() {
			api.statuses = []string{"STOPPED", "STARTING"}
			var err error
			stepping(fakeClock, func() {
				_, err = engine.Start(ctx, deployment, 10*time.Second)
			})
			Expect(IsTimeout(err)).To(BeTrue())
			Expect(err.Error()).To(HaveSuffix("await_running"))
			Expect(api.count("state")).To(Equal(3))
			Expect(api.count("post:STOP")).To(Equal(0))
		})

		It("should return right after the request when await is zero", func() {
			api.statuses = []string{"STOPPED"}
			_, err := engine.Start(ctx, deployment, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(api.Calls()).To(Equal([]string{"state", "post:START"}))
		})

		It("should wait for a creating deployment to be created before starting it", func() {
			api.statuses = []string{"CREATING", "CREATED", "STARTING", "RUNNING"}
			var err error
			stepping(fakeClock, func() {
				_, err = engine.Start(ctx, deployment, time.Minute)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(api.Calls()).To(Equal([]string{"state", "state", "post:START", "state", "state"}))
		})

		It("should count the wait for creation against the await", func() {
			api.statuses = []string{"CREATING", "CREATED", "STARTING"}
			var err error
			stepping(fakeClock, func() {
				_, err = engine.Start(ctx, deployment, 10*time.Second)
			})
			Expect(IsTimeout(err)).To(BeTrue())
			Expect(api.Calls()).To(Equal([]string{"state", "state", "post:START", "state"}))
		})

		It("should not roll back when the start request never reached the backend", func() {
			api.statuses = []string{"STOPPED"}
			api.postErrs = map[constants.DeploymentAction]error{constants.ActionStart: context.Canceled}
			_, err := engine.Start(ctx, deployment, time.Minute)
			Expect(err).To(MatchError(context.Canceled))
			Expect(api.Calls()).To(Equal([]string{"state", "post:START"}))
		})

		It("should stop the deployment exactly once when start fails", func() {
			api.statuses = []string{"STOPPED"}
			startErr := &client.RestAPIError{StatusCode: http.StatusInternalServerError, Reason: "Internal Server Error"}
			api.postErrs = map[constants.DeploymentAction]error{
				constants.ActionStart: startErr,
				constants.ActionStop:  errors.New("stop failed"),
			}
			_, err := engine.Start(ctx, deployment, time.Minute)
			Expect(err).To(Equal(startErr))
			Expect(api.Calls()).To(Equal([]string{"state", "post:START", "post:STOP"}))
		})

		It("should fail fast when the deployment reports a failed start", func() {
			api.statuses = []string{"STOPPED", "FAILED"}
			api.condition = &servingapis.Condition{Type: constants.ConditionStarted, Status: ptr.To(false), Reason: "image pull back-off"}
			var state *servingapis.PredictorState
			var err error
			stepping(fakeClock, func() {
				state, err = engine.Start(ctx, deployment, time.Minute)
			})
			Expect(err).To(HaveOccurred())
			Expect(hasReason(err, ReasonFailed)).To(BeTrue())
			Expect(state).To(hsmltesting.HaveCondition(constants.ConditionStarted, false))
			Expect(err.Error()).To(ContainSubstring("image pull back-off"))
			Expect(api.count("state")).To(Equal(2))
		})

		It("should return NotFound for unsaved deployments", func() {
			deployment.Predictor.ID = nil
			_, err := engine.Start(ctx, deployment, time.Minute)
			Expect(IsNotFound(err)).To(BeTrue())
			Expect(api.Calls()).To(BeEmpty())
		})

		It("should stop waiting when the context is cancelled", func() {
			api.statuses = []string{"STOPPED", "STARTING"}
			cancelCtx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := engine.Start(cancelCtx, deployment, time.Minute)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})
	})

	Describe("Stop", func() {
		It("should not send any request when already stopped", func() {
			for _, status := range []string{"STOPPED", "CREATED", "CREATING", "STOPPING"} {
				api.statuses = []string{status}
				_, err := engine.Stop(ctx, deployment, time.Minute)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(api.count("post:STOP")).To(Equal(0))
		})

		It("should wait until the deployment is stopped", func() {
			api.statuses = []string{"RUNNING", "STOPPING", "STOPPED"}
			var state *servingapis.PredictorState
			var err error
			stepping(fakeClock, func() {
				state, err = engine.Stop(ctx, deployment, time.Minute)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(hsmltesting.HavePhase(constants.StatusStopped))
			Expect(api.Calls()).To(Equal([]string{"state", "post:STOP", "state", "state"}))
			Expect(deployment.IsStopped(false)).To(BeTrue())
		})

		It("should time out with the stopped status in the message", func() {
			api.statuses = []string{"RUNNING", "STOPPING"}
			var err error
			stepping(fakeClock, func() {
				_, err = engine.Stop(ctx, deployment, 5*time.Second)
			})
			Expect(IsTimeout(err)).To(BeTrue())
			Expect(err.Error()).To(HaveSuffix("await_stopped"))
			Expect(api.count("state")).To(Equal(2))
		})
	})

	Describe("Save", func() {
		It("should create a deployment without id", func() {
			deployment.Predictor.ID = nil
			Expect(engine.Save(ctx, deployment, time.Minute)).To(Succeed())
			Expect(deployment.ID()).To(Equal(7))
			Expect(api.Calls()).To(Equal([]string{"put"}))
			Expect(deployment.GetURL()).To(HaveSuffix("/deployments/7"))
		})

		It("should adopt an existing deployment of the same model", func() {
			deployment.Predictor.ID = nil
			api.putErr = &client.RestAPIError{StatusCode: http.StatusBadRequest, ErrorCode: constants.ErrorCodeDuplicatedEntry}
			api.existing = testPredictor(ptr.To(5))
			Expect(engine.Save(ctx, deployment, time.Minute)).To(Succeed())
			Expect(deployment.ID()).To(Equal(5))
			Expect(api.Calls()).To(Equal([]string{"put", "getByName"}))
		})

		It("should not adopt a deployment of another model version", func() {
			deployment.Predictor.ID = nil
			api.putErr = &client.RestAPIError{StatusCode: http.StatusBadRequest, ErrorCode: constants.ErrorCodeDuplicatedEntry}
			api.existing = testPredictor(ptr.To(5))
			api.existing.ModelVersion = 2
			err := engine.Save(ctx, deployment, time.Minute)
			Expect(hasReason(err, ReasonConflict)).To(BeTrue())
			Expect(deployment.Predictor.ID).To(BeNil())
		})

		It("should refuse changes while transitioning", func() {
			for _, status := range []string{"STARTING", "UPDATING", "STOPPING"} {
				api.statuses = []string{status}
				err := engine.Save(ctx, deployment, time.Minute)
				Expect(IsPrecondition(err)).To(BeTrue(), status)
			}
			Expect(api.count("put")).To(Equal(0))
		})

		It("should update a stopped deployment without waiting", func() {
			api.statuses = []string{"STOPPED"}
			Expect(engine.Save(ctx, deployment, time.Minute)).To(Succeed())
			Expect(api.Calls()).To(Equal([]string{"state", "put"}))
		})

		It("should wait for a running deployment to be running again", func() {
			api.statuses = []string{"RUNNING", "UPDATING", "RUNNING"}
			var err error
			stepping(fakeClock, func() {
				err = engine.Save(ctx, deployment, time.Minute)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(api.Calls()).To(Equal([]string{"state", "put", "state", "state"}))
		})

		It("should reject an unknown status", func() {
			api.statuses = []string{"MIGRATING"}
			err := engine.Save(ctx, deployment, time.Minute)
			Expect(IsUnknownStatus(err)).To(BeTrue())
			Expect(err.Error()).To(Equal("Unknown deployment status: MIGRATING"))
		})
	})

	Describe("Delete", func() {
		It("should refuse to delete a deployment that is not stopped", func() {
			for _, status := range []string{"RUNNING", "IDLE", "STARTING", "UPDATING", "FAILED", "STOPPING"} {
				api.statuses = []string{status}
				Expect(IsPrecondition(engine.Delete(ctx, deployment, false))).To(BeTrue(), status)
			}
			Expect(api.count("delete")).To(Equal(0))
		})

		It("should delete stopped deployments", func() {
			for _, status := range []string{"STOPPED", "CREATED", "CREATING"} {
				api.statuses = []string{status}
				Expect(engine.Delete(ctx, deployment, false)).To(Succeed())
			}
			Expect(api.count("delete")).To(Equal(3))
		})

		It("should delete any deployment when forced", func() {
			api.statuses = []string{"RUNNING"}
			Expect(engine.Delete(ctx, deployment, true)).To(Succeed())
			Expect(api.Calls()).To(Equal([]string{"state", "delete"}))
		})
	})

	Describe("Predict", func() {
		It("should wrap inputs into instances", func() {
			_, err := engine.Predict(ctx, deployment, nil, []interface{}{1, 2, 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(api.payload).To(Equal(map[string]interface{}{"instances": []interface{}{[]interface{}{1, 2, 3}}}))
			Expect(api.throughHopsworks).To(BeFalse())
		})

		It("should keep a list of lists as instances", func() {
			inputs := [][]float64{{1, 2}, {3, 4}}
			_, err := engine.Predict(ctx, deployment, nil, inputs)
			Expect(err).NotTo(HaveOccurred())
			Expect(api.payload).To(Equal(map[string]interface{}{"instances": inputs}))
		})

		It("should send data through Hopsworks for the default serving tool", func() {
			deployment.Predictor.ServingTool = constants.ServingToolDefault
			data := map[string]interface{}{"instances": []interface{}{1}}
			_, err := engine.Predict(ctx, deployment, data, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(api.throughHopsworks).To(BeTrue())
		})

		It("should reject invalid requests before sending them", func() {
			_, err := engine.Predict(ctx, deployment, map[string]interface{}{"x": 1}, []int{1})
			Expect(hasReason(err, ReasonInvalidRequest)).To(BeTrue())
			_, err = engine.Predict(ctx, deployment, map[string]interface{}{"x": 1}, nil)
			Expect(hasReason(err, ReasonInvalidRequest)).To(BeTrue())
			deployment.Predictor.APIProtocol = constants.APIProtocolGRPC
			_, err = engine.Predict(ctx, deployment, map[string]interface{}{"instances": 1}, nil)
			Expect(hasReason(err, ReasonInvalidRequest)).To(BeTrue())
			Expect(api.Calls()).To(BeEmpty())
		})

		It("should report deployments that are not running", func() {
			for _, restErr := range []*client.RestAPIError{
				{StatusCode: http.StatusNotFound},
				{StatusCode: http.StatusBadRequest, ErrorCode: constants.ErrorCodeServingNotFound},
				{StatusCode: http.StatusBadRequest, ErrorCode: constants.ErrorCodeDeploymentNotRunning},
			} {
				api.inferErr = restErr
				_, err := engine.Predict(ctx, deployment, nil, []int{1})
				Expect(IsNotRunning(err)).To(BeTrue())
			}
		})

		It("should point to the server logs on other errors", func() {
			api.inferErr = &client.RestAPIError{StatusCode: http.StatusInternalServerError}
			_, err := engine.Predict(ctx, deployment, nil, []int{1})
			restErr, ok := client.AsRestAPIError(err)
			Expect(ok).To(BeTrue())
			Expect(restErr.Hint).To(Equal(msgCheckLogs))
		})
	})

	Describe("GetLogs", func() {
		It("should not fetch logs of a stopped deployment", func() {
			api.statuses = []string{"STOPPED"}
			logs, err := engine.GetLogs(ctx, deployment, "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(BeNil())
			Expect(api.Calls()).To(Equal([]string{"state"}))
		})

		It("should fetch the predictor logs by default", func() {
			api.statuses = []string{"RUNNING"}
			api.logs = []servingapis.ComponentLogs{{InstanceName: "mnist-0", Content: "ready"}}
			logs, err := engine.GetLogs(ctx, deployment, "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(1))
			Expect(api.Calls()).To(Equal([]string{"state", "logs:predictor"}))
		})

		It("should require a transformer for transformer logs", func() {
			_, err := engine.GetLogs(ctx, deployment, constants.Transformer, 10)
			Expect(hasReason(err, ReasonInvalidRequest)).To(BeTrue())
			_, err = engine.GetLogs(ctx, deployment, "sidecar", 10)
			Expect(hasReason(err, ReasonInvalidRequest)).To(BeTrue())
			Expect(api.Calls()).To(BeEmpty())
		})
	})

	Describe("DownloadArtifact", func() {
		It("should fail without an artifact version before any request", func() {
			downloader := &fakeDownloader{}
			engine.artifacts = downloader
			deployment.Predictor.ArtifactVersion = constants.ArtifactVersionCreate
			_, err := engine.DownloadArtifact(ctx, deployment)
			Expect(hasReason(err, ReasonInvalidRequest)).To(BeTrue())
			Expect(downloader.remotePaths).To(BeEmpty())
			Expect(api.Calls()).To(BeEmpty())
		})

		It("should download and extract the artifact", func() {
			downloader := &fakeDownloader{files: map[string]string{"predictor.py": "print('hi')"}}
			engine.artifacts = downloader
			engine.workDir = GinkgoT().TempDir()
			dir, err := engine.DownloadArtifact(ctx, deployment)
			Expect(err).NotTo(HaveOccurred())
			Expect(downloader.remotePaths).To(Equal([]string{"/Projects/demo_ml/Models/mnist/1/Artifacts/2/mnist_1_2.zip"}))
			Expect(filepath.Join(dir, "predictor.py")).To(BeAnExistingFile())
			Expect(filepath.Join(dir, "mnist_1_2.zip")).NotTo(BeAnExistingFile())
			Expect(dir).To(HaveSuffix(filepath.Join("mnist", "1", "Artifacts", "2")))
		})
	})
})
