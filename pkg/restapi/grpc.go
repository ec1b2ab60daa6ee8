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
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/constants"
)

// inferenceMessages are the descriptors of the KServe v2 gRPC inference protocol
// messages used by ModelInfer.
type inferenceMessages struct {
	request  protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor
}

var (
	inferenceOnce sync.Once
	inferenceDesc inferenceMessages
	inferenceErr  error
)

// contentsFields maps a tensor datatype to the InferTensorContents field holding it.
var contentsFields = map[string]protoreflect.Name{
	"BOOL":   "bool_contents",
	"INT8":   "int_contents",
	"INT16":  "int_contents",
	"INT32":  "int_contents",
	"INT64":  "int64_contents",
	"UINT8":  "uint_contents",
	"UINT16": "uint_contents",
	"UINT32": "uint_contents",
	"UINT64": "uint64_contents",
	"FP32":   "fp32_contents",
	"FP64":   "fp64_contents",
	"BYTES":  "bytes_contents",
}

func protoField(name string, number int32, repeated bool, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  label.Enum(),
		Type:   typ.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func tensorMessage(name string) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name: proto.String(name),
		Field: []*descriptorpb.FieldDescriptorProto{
			protoField("name", 1, false, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
			protoField("datatype", 2, false, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
			protoField("shape", 3, true, descriptorpb.FieldDescriptorProto_TYPE_INT64, ""),
			protoField("contents", 5, false, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, ".inference.InferTensorContents"),
		},
	}
}

func inferMessage(name, tensorsField, tensorType string) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name: proto.String(name),
		Field: []*descriptorpb.FieldDescriptorProto{
			protoField("model_name", 1, false, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
			protoField("model_version", 2, false, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
			protoField("id", 3, false, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
			protoField(tensorsField, 5, true, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, ".inference."+tensorType),
		},
	}
}

func loadInferenceMessages() (inferenceMessages, error) {
	inferenceOnce.Do(func() {
		contents := &descriptorpb.DescriptorProto{
			Name: proto.String("InferTensorContents"),
			Field: []*descriptorpb.FieldDescriptorProto{
				protoField("bool_contents", 1, true, descriptorpb.FieldDescriptorProto_TYPE_BOOL, ""),
				protoField("int_contents", 2, true, descriptorpb.FieldDescriptorProto_TYPE_INT32, ""),
				protoField("int64_contents", 3, true, descriptorpb.FieldDescriptorProto_TYPE_INT64, ""),
				protoField("uint_contents", 4, true, descriptorpb.FieldDescriptorProto_TYPE_UINT32, ""),
				protoField("uint64_contents", 5, true, descriptorpb.FieldDescriptorProto_TYPE_UINT64, ""),
				protoField("fp32_contents", 6, true, descriptorpb.FieldDescriptorProto_TYPE_FLOAT, ""),
				protoField("fp64_contents", 7, true, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE, ""),
				protoField("bytes_contents", 8, true, descriptorpb.FieldDescriptorProto_TYPE_BYTES, ""),
			},
		}
		fdp := &descriptorpb.FileDescriptorProto{
			Name:    proto.String("grpc_predict_v2.proto"),
			Package: proto.String("inference"),
			Syntax:  proto.String("proto3"),
			MessageType: []*descriptorpb.DescriptorProto{
				contents,
				tensorMessage("InferInputTensor"),
				tensorMessage("InferOutputTensor"),
				inferMessage("ModelInferRequest", "inputs", "InferInputTensor"),
				inferMessage("ModelInferResponse", "outputs", "InferOutputTensor"),
			},
		}
		fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
		if err != nil {
			inferenceErr = errors.Wrap(err, "failed to build inference descriptors")
			return
		}
		inferenceDesc = inferenceMessages{
			request:  fd.Messages().ByName("ModelInferRequest"),
			response: fd.Messages().ByName("ModelInferResponse"),
		}
	})
	return inferenceDesc, inferenceErr
}

// GRPCInferenceClient calls ModelInfer on a KServe deployment through the ingress.
type GRPCInferenceClient struct {
	conn *grpc.ClientConn
	auth client.Authenticator
}

// NewGRPCInferenceClient connects to target. authority is the host the ingress routes on.
func NewGRPCInferenceClient(target, authority string, auth client.Authenticator, opts ...grpc.DialOption) (*GRPCInferenceClient, error) {
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if authority != "" {
		dialOpts = append(dialOpts, grpc.WithAuthority(authority))
	}
	dialOpts = append(dialOpts, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create grpc client for %s", target)
	}
	return &GRPCInferenceClient{conn: conn, auth: auth}, nil
}

// ModelInfer sends payload, shaped like a v2 REST request ({"inputs": [{name, datatype,
// shape, data}]}), and returns the response in the same shape.
func (c *GRPCInferenceClient) ModelInfer(ctx context.Context, modelName string, payload map[string]interface{}) (map[string]interface{}, error) {
	msgs, err := loadInferenceMessages()
	if err != nil {
		return nil, err
	}
	req, err := buildInferRequest(msgs.request, modelName, payload)
	if err != nil {
		return nil, err
	}
	resp := dynamicpb.NewMessage(msgs.response)
	if c.auth != nil {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", c.auth.Scheme())
	}
	if err := c.conn.Invoke(ctx, constants.GRPCModelInferMethod, req, resp); err != nil {
		return nil, grpcToRestError(err)
	}
	return inferResponseToMap(resp), nil
}

func (c *GRPCInferenceClient) Close() error {
	return c.conn.Close()
}

func buildInferRequest(desc protoreflect.MessageDescriptor, modelName string, payload map[string]interface{}) (*dynamicpb.Message, error) {
	req := dynamicpb.NewMessage(desc)
	fields := desc.Fields()
	req.Set(fields.ByName("model_name"), protoreflect.ValueOfString(modelName))
	if v, ok := payload["model_version"].(string); ok {
		req.Set(fields.ByName("model_version"), protoreflect.ValueOfString(v))
	}
	if v, ok := payload["id"].(string); ok {
		req.Set(fields.ByName("id"), protoreflect.ValueOfString(v))
	}
	inputs, ok := payload["inputs"].([]interface{})
	if !ok {
		return nil, errors.New("gRPC inference requests require an 'inputs' list")
	}
	list := req.Mutable(fields.ByName("inputs")).List()
	for i, raw := range inputs {
		input, ok := raw.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("input %d is not an object", i)
		}
		elem := list.NewElement()
		if err := fillInputTensor(elem.Message(), input); err != nil {
			return nil, errors.Wrapf(err, "invalid input %d", i)
		}
		list.Append(elem)
	}
	return req, nil
}

func fillInputTensor(tensor protoreflect.Message, input map[string]interface{}) error {
	fields := tensor.Descriptor().Fields()
	name, _ := input["name"].(string)
	datatype, _ := input["datatype"].(string)
	datatype = strings.ToUpper(datatype)
	tensor.Set(fields.ByName("name"), protoreflect.ValueOfString(name))
	tensor.Set(fields.ByName("datatype"), protoreflect.ValueOfString(datatype))

	shape := tensor.Mutable(fields.ByName("shape")).List()
	for _, dim := range flatten(input["shape"]) {
		n, ok := toFloat64(dim)
		if !ok {
			return errors.Errorf("invalid shape dimension %v", dim)
		}
		shape.Append(protoreflect.ValueOfInt64(int64(n)))
	}

	fieldName, ok := contentsFields[datatype]
	if !ok {
		return errors.Errorf("datatype '%s' is not supported", datatype)
	}
	contents := tensor.Mutable(fields.ByName("contents")).Message()
	values := contents.Mutable(contents.Descriptor().Fields().ByName(fieldName)).List()
	for _, v := range flatten(input["data"]) {
		value, err := toProtoValue(datatype, v)
		if err != nil {
			return err
		}
		values.Append(value)
	}
	return nil
}

func toProtoValue(datatype string, v interface{}) (protoreflect.Value, error) {
	switch datatype {
	case "BOOL":
		b, ok := v.(bool)
		if !ok {
			return protoreflect.Value{}, errors.Errorf("%v is not a boolean", v)
		}
		return protoreflect.ValueOfBool(b), nil
	case "BYTES":
		switch s := v.(type) {
		case string:
			return protoreflect.ValueOfBytes([]byte(s)), nil
		case []byte:
			return protoreflect.ValueOfBytes(s), nil
		}
		return protoreflect.Value{}, errors.Errorf("%v is not a string", v)
	}
	f, ok := toFloat64(v)
	if !ok {
		return protoreflect.Value{}, errors.Errorf("%v is not a number", v)
	}
	switch datatype {
	case "INT8", "INT16", "INT32":
		return protoreflect.ValueOfInt32(int32(f)), nil
	case "INT64":
		return protoreflect.ValueOfInt64(int64(f)), nil
	case "UINT8", "UINT16", "UINT32":
		return protoreflect.ValueOfUint32(uint32(f)), nil
	case "UINT64":
		return protoreflect.ValueOfUint64(uint64(f)), nil
	case "FP32":
		return protoreflect.ValueOfFloat32(float32(f)), nil
	}
	return protoreflect.ValueOfFloat64(f), nil
}

func inferResponseToMap(resp protoreflect.Message) map[string]interface{} {
	fields := resp.Descriptor().Fields()
	out := map[string]interface{}{
		"model_name":    resp.Get(fields.ByName("model_name")).String(),
		"model_version": resp.Get(fields.ByName("model_version")).String(),
		"id":            resp.Get(fields.ByName("id")).String(),
	}
	outputs := []interface{}{}
	list := resp.Get(fields.ByName("outputs")).List()
	for i := 0; i < list.Len(); i++ {
		tensor := list.Get(i).Message()
		tf := tensor.Descriptor().Fields()
		datatype := tensor.Get(tf.ByName("datatype")).String()
		shape := []interface{}{}
		shapeList := tensor.Get(tf.ByName("shape")).List()
		for j := 0; j < shapeList.Len(); j++ {
			shape = append(shape, shapeList.Get(j).Int())
		}
		data := []interface{}{}
		if fieldName, ok := contentsFields[datatype]; ok {
			contents := tensor.Get(tf.ByName("contents")).Message()
			values := contents.Get(contents.Descriptor().Fields().ByName(fieldName)).List()
			for j := 0; j < values.Len(); j++ {
				v := values.Get(j).Interface()
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				data = append(data, v)
			}
		}
		outputs = append(outputs, map[string]interface{}{
			"name":     tensor.Get(tf.ByName("name")).String(),
			"datatype": datatype,
			"shape":    shape,
			"data":     data,
		})
	}
	out["outputs"] = outputs
	return out
}

// grpcToRestError maps a gRPC status to the equivalent RestAPIError so callers handle
// both transports the same way.
func grpcToRestError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.Wrap(err, "grpc inference request failed")
	}
	code := http.StatusInternalServerError
	switch st.Code() {
	case codes.NotFound:
		code = http.StatusNotFound
	case codes.Unavailable:
		code = http.StatusServiceUnavailable
	case codes.Unauthenticated:
		code = http.StatusUnauthorized
	case codes.PermissionDenied:
		code = http.StatusForbidden
	case codes.InvalidArgument:
		code = http.StatusBadRequest
	case codes.DeadlineExceeded:
		code = http.StatusGatewayTimeout
	}
	return &client.RestAPIError{
		URL:        constants.GRPCModelInferMethod,
		Method:     "gRPC",
		StatusCode: code,
		Reason:     st.Code().String(),
		Body:       st.Message(),
	}
}

func flatten(v interface{}) []interface{} {
	list, ok := v.([]interface{})
	if !ok {
		switch typed := v.(type) {
		case []float64:
			out := make([]interface{}, len(typed))
			for i := range typed {
				out[i] = typed[i]
			}
			return out
		case []int:
			out := make([]interface{}, len(typed))
			for i := range typed {
				out[i] = typed[i]
			}
			return out
		case nil:
			return nil
		}
		return []interface{}{v}
	}
	var out []interface{}
	for _, item := range list {
		out = append(out, flatten(item)...)
	}
	return out
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
