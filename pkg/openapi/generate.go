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

package openapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/pkg/errors"

	registryapis "github.com/logicalclocks/hsml/pkg/apis/registry"
	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
)

const (
	requestName         = "modelInput"
	responseName        = "modelOutput"
	requestRefTemplate  = "#/components/requestBodies/%s"
	responseRefTemplate = "#/components/responses/%s"
	pathTemplate        = "/v1/models/%s:predict"
)

// Known error messages
const (
	UnmarshallableSpecError = "generated OpenAPI specification is corrupted\n error: %s \n specification: %s"
	UnloadableSpecError     = "generated OpenAPI specification (below) is corrupted\n error: %s \n specification: %s"
	InvalidSpecError        = "generated OpenAPI specification (below) is constructed incorrectly\n error: %s \n specification: %s"
)

// PredictPath is the inference path of a deployment on the model serving ingress.
func PredictPath(name string) string {
	return fmt.Sprintf(pathTemplate, name)
}

// Generate builds the OpenAPI document of the predict endpoint of p. When model carries
// an input schema the request body is typed after it, otherwise instances are free form.
func Generate(p *servingapis.Predictor, model *registryapis.Model) (*openapi3.T, error) {
	var schema *registryapis.ModelSchema
	if model != nil {
		schema = model.ModelSchema
	}
	var inputs, outputs *registryapis.Schema
	if schema != nil {
		inputs, outputs = schema.InputSchema, schema.OutputSchema
	}

	doc := &openapi3.T{
		OpenAPI: "3.0.0",
		Info: &openapi3.Info{
			Title:       p.Name + " Predict Request API",
			Version:     strconv.Itoa(p.ModelVersion),
			Description: fmt.Sprintf("Inference API of deployment %s serving model %s version %d", p.Name, p.ModelName, p.ModelVersion),
		},
		Components: &openapi3.Components{
			Responses: openapi3.ResponseBodies{
				responseName: {
					Value: openapi3.NewResponse().
						WithDescription("Model output").
						WithJSONSchema(openapi3.NewObjectSchema().WithProperty("predictions", instancesSchema(outputs))),
				},
			},
			RequestBodies: openapi3.RequestBodies{
				requestName: {
					Value: openapi3.NewRequestBody().
						WithRequired(true).
						WithJSONSchema(requestSchema(inputs)),
				},
			},
		},
		Paths: openapi3.NewPaths(openapi3.WithPath(PredictPath(p.Name), &openapi3.PathItem{
			Post: &openapi3.Operation{
				OperationID: "predict",
				RequestBody: &openapi3.RequestBodyRef{Ref: fmt.Sprintf(requestRefTemplate, requestName)},
				Responses: openapi3.NewResponses(
					openapi3.WithStatus(200, &openapi3.ResponseRef{Ref: fmt.Sprintf(responseRefTemplate, responseName)}),
				),
			},
		})),
	}
	return validate(doc)
}

// validate round-trips doc through the loader so references are resolved and checked.
func validate(doc *openapi3.T) (*openapi3.T, error) {
	data, err := doc.MarshalJSON()
	if err != nil {
		return nil, errors.Errorf(UnmarshallableSpecError, err.Error(), data)
	}
	loader := openapi3.NewLoader()
	loaded, err := loader.LoadFromData(data)
	if err != nil {
		return nil, errors.Errorf(UnloadableSpecError, err.Error(), data)
	}
	if err := loaded.Validate(context.Background()); err != nil {
		return nil, errors.Errorf(InvalidSpecError, err.Error(), data)
	}
	return loaded, nil
}

func requestSchema(inputs *registryapis.Schema) *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("instances", instancesSchema(inputs)).
		WithRequired([]string{"instances"})
}

// instancesSchema describes a batch of rows.
// e.g. [[val1, val2], [val3, val4]] for columnar schemas or a single tensor,
// [{tensor1: val1, tensor2: val2}, ..] for several tensors.
func instancesSchema(s *registryapis.Schema) *openapi3.Schema {
	if s == nil || len(s.Features()) == 0 {
		return openapi3.NewArraySchema().WithItems(openapi3.NewSchema())
	}
	if len(s.ColumnarSchema) > 0 {
		return openapi3.NewArraySchema().WithItems(columnarRowSchema(s.ColumnarSchema))
	}
	if len(s.TensorSchema) == 1 {
		return openapi3.NewArraySchema().WithItems(tensorRowSchema(s.TensorSchema[0]))
	}
	row := openapi3.NewObjectSchema().WithProperties(make(map[string]*openapi3.Schema))
	for i, t := range s.TensorSchema {
		name := t.Name
		if name == "" {
			name = "tensor" + strconv.Itoa(i)
		}
		row.Properties[name] = tensorRowSchema(t).NewRef()
		row.Required = append(row.Required, name)
	}
	return openapi3.NewArraySchema().WithItems(row)
}

// columnarRowSchema is a fixed length array with one value per column, in column order.
func columnarRowSchema(columns []registryapis.Feature) *openapi3.Schema {
	names := make([]string, 0, len(columns))
	seen := map[string]bool{}
	var types []*openapi3.Schema
	for _, c := range columns {
		names = append(names, fmt.Sprintf("%s (%s)", c.Name, c.Type))
		t := typeSchema(c.Type)
		key := t.Type.Slice()[0] + t.Format
		if !seen[key] {
			seen[key] = true
			types = append(types, t)
		}
	}
	n := int64(len(columns))
	row := openapi3.NewArraySchema().WithMinItems(n).WithMaxItems(n)
	row.Description = "Columns: " + strings.Join(names, ", ")
	if len(types) == 1 {
		return row.WithItems(types[0])
	}
	return row.WithItems(openapi3.NewAnyOfSchema(types...))
}

// tensorRowSchema ignores the first dimension of the shape, which is the batch.
func tensorRowSchema(t registryapis.Feature) *openapi3.Schema {
	if len(t.Shape) == 0 {
		return typeSchema(t.Type)
	}
	return shapeSchema(1, t.Shape, typeSchema(t.Type))
}

func shapeSchema(dim int, shape []int, item *openapi3.Schema) *openapi3.Schema {
	if dim == len(shape) {
		return item
	}
	if shape[dim] < 0 {
		return openapi3.NewArraySchema().WithItems(shapeSchema(dim+1, shape, item))
	}
	size := int64(shape[dim])
	return openapi3.NewArraySchema().WithMinItems(size).WithMaxItems(size).WithItems(shapeSchema(dim+1, shape, item))
}

// typeSchema maps pandas, numpy and Spark type names to JSON schema types.
func typeSchema(t string) *openapi3.Schema {
	switch strings.ToLower(t) {
	case "bool", "boolean":
		return openapi3.NewBoolSchema()
	case "int", "int8", "int16", "int32", "int64", "uint8", "uint16", "uint32", "uint64",
		"integer", "long", "short", "bigint", "tinyint", "smallint":
		return openapi3.NewInt64Schema()
	case "float", "float16", "float32", "float64", "double", "decimal", "number":
		return openapi3.NewFloat64Schema()
	}
	return openapi3.NewStringSchema()
}
