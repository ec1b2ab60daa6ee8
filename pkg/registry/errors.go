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
	"fmt"

	"github.com/pkg/errors"
)

// Reason classifies a ModelRegistryError.
type Reason string

const (
	ReasonRegistrationTimeout Reason = "RegistrationTimeout"
	ReasonAlreadyExists       Reason = "AlreadyExists"
	ReasonInvalidSource       Reason = "InvalidSource"
	ReasonNotFound            Reason = "NotFound"
)

// ModelRegistryError is returned by the registry engine for failures that are not
// plain transport errors.
type ModelRegistryError struct {
	Reason  Reason
	Message string
}

func (e *ModelRegistryError) Error() string {
	return e.Message
}

func newError(reason Reason, format string, args ...interface{}) error {
	return &ModelRegistryError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func hasReason(err error, reason Reason) bool {
	var registryErr *ModelRegistryError
	return errors.As(err, &registryErr) && registryErr.Reason == reason
}

// IsRegistrationTimeout reports whether the model was not retrievable within the await budget.
func IsRegistrationTimeout(err error) bool {
	return hasReason(err, ReasonRegistrationTimeout)
}

func IsAlreadyExists(err error) bool {
	return hasReason(err, ReasonAlreadyExists)
}

func IsNotFound(err error) bool {
	return hasReason(err, ReasonNotFound)
}
