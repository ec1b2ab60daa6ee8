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
	"fmt"

	"github.com/pkg/errors"
)

// Reason classifies a ModelServingError.
type Reason string

const (
	// ReasonPrecondition: the observed status does not allow the requested transition.
	ReasonPrecondition Reason = "Precondition"
	// ReasonTimeout: polling ran out of budget before the target status was observed.
	ReasonTimeout        Reason = "Timeout"
	ReasonNotRunning     Reason = "NotRunning"
	ReasonNotFound       Reason = "NotFound"
	ReasonInvalidRequest Reason = "InvalidRequest"
	ReasonUnknownStatus  Reason = "UnknownStatus"
	ReasonConflict       Reason = "Conflict"
	// ReasonFailed: the deployment reported FAILED while starting.
	ReasonFailed Reason = "Failed"
)

const (
	msgTimeout = "Deployment has not reached the desired status within the expected awaiting time. " +
		"Check the current status by using `.get_state()`, explore the server logs using `.get_logs()` " +
		"or set a higher value for await_"
	msgNotRunning = "Deployment not created or running. If it is already created, start it by using `.start()` " +
		"or check its status with .get_state()"
	msgCheckLogs = "Check the model server logs by using `.get_logs()`"
)

// ModelServingError is returned by the serving engine for guard failures, timeouts and
// translated remote errors.
type ModelServingError struct {
	Reason  Reason
	Message string
}

func (e *ModelServingError) Error() string {
	return e.Message
}

func newError(reason Reason, format string, args ...interface{}) error {
	return &ModelServingError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func timeoutError(status string) error {
	return &ModelServingError{Reason: ReasonTimeout, Message: msgTimeout + status}
}

func hasReason(err error, reason Reason) bool {
	var servingErr *ModelServingError
	return errors.As(err, &servingErr) && servingErr.Reason == reason
}

func IsTimeout(err error) bool {
	return hasReason(err, ReasonTimeout)
}

func IsPrecondition(err error) bool {
	return hasReason(err, ReasonPrecondition)
}

func IsNotRunning(err error) bool {
	return hasReason(err, ReasonNotRunning)
}

func IsNotFound(err error) bool {
	return hasReason(err, ReasonNotFound)
}

func IsUnknownStatus(err error) bool {
	return hasReason(err, ReasonUnknownStatus)
}
