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
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/utils/ptr"

	registryapis "github.com/logicalclocks/hsml/pkg/apis/registry"
	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/constants"
	"github.com/logicalclocks/hsml/pkg/platform"
)

var _ = Describe("ModelServing", func() {
	var (
		ctx context.Context
		api *fakeServingAPI
		ms  *ModelServing
	)

	BeforeEach(func() {
		ctx = context.Background()
		api = &fakeServingAPI{}
		ms = NewModelServing(api, platform.Default(), "demo_ml")
	})

	It("should return nil for unknown deployments", func() {
		d, err := ms.GetDeploymentByID(ctx, 42)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeNil())

		d, err = ms.GetDeployment(ctx, "mnist")
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeNil())
	})

	It("should wrap stored predictors in deployments", func() {
		api.existing = testPredictor(ptr.To(3))
		d, err := ms.GetDeploymentByID(ctx, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Name).To(Equal("mnist"))
		Expect(d.ID()).To(Equal(3))

		deployments, err := ms.GetDeployments(ctx, "mnist", "running")
		Expect(err).NotTo(HaveOccurred())
		Expect(deployments).To(HaveLen(1))
	})

	It("should reject unknown statuses when listing", func() {
		_, err := ms.GetDeployments(ctx, "", "sleeping")
		Expect(hasReason(err, ReasonInvalidRequest)).To(BeTrue())
		Expect(api.Calls()).To(BeEmpty())
	})

	It("should build a predictor from a registry model", func() {
		model, err := registryapis.NewModel(constants.FrameworkTensorflow, "mnist", registryapis.WithVersion(4))
		Expect(err).NotTo(HaveOccurred())
		p, err := ms.PredictorForModel(model, servingapis.PredictorSpec{})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Name).To(Equal("mnist"))
		Expect(p.ModelPath).To(Equal("/Projects/demo_ml/Models/mnist"))
		Expect(p.ModelVersion).To(Equal(4))
		Expect(p.ModelServer).To(Equal(constants.ModelServerTFServing))
		Expect(p.Resources).NotTo(BeNil())

		d := ms.CreateDeployment(p, "mnistv4")
		Expect(d.Name).To(Equal("mnistv4"))
		Expect(d.Predictor.Name).To(Equal("mnistv4"))
		Expect(d.IsCreated()).To(BeFalse())
	})

	It("should require a registered model version", func() {
		model, err := registryapis.NewModel(constants.FrameworkTensorflow, "mnist")
		Expect(err).NotTo(HaveOccurred())
		_, err = ms.PredictorForModel(model, servingapis.PredictorSpec{})
		Expect(err).To(HaveOccurred())
	})

	It("should create transformers with transformer resources", func() {
		t, err := ms.CreateTransformer("transformer.py", &servingapis.ComponentResources{NumInstances: ptr.To(1)})
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Resources.Kind).To(Equal(constants.Transformer))

		_, err = ms.CreateTransformer("", nil)
		Expect(err).To(HaveOccurred())
	})

	It("should list inference endpoints", func() {
		endpoints, err := ms.GetInferenceEndpoints(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(endpoints[0].Host()).To(Equal("10.0.0.1"))
	})
})
