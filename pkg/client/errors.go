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

package client

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// RestAPIError is returned for every non-2xx response of the backend.
type RestAPIError struct {
	URL        string
	Method     string
	StatusCode int
	Reason     string
	Body       string
	ErrorCode  int
	ErrorMsg   string
	UserMsg    string
	DevMsg     string
	// Hint is appended to the message to guide the caller.
	Hint string
}

func newRestAPIError(method, url string, statusCode int, body []byte) *RestAPIError {
	e := &RestAPIError{
		URL:        url,
		Method:     method,
		StatusCode: statusCode,
		Reason:     http.StatusText(statusCode),
		Body:       string(body),
	}
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		e.ErrorCode = int(parsed.Get("errorCode").Int())
		e.ErrorMsg = parsed.Get("errorMsg").String()
		e.UserMsg = parsed.Get("usrMsg").String()
		e.DevMsg = parsed.Get("devMsg").String()
	}
	return e
}

func (e *RestAPIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Metadata operation error: (url: %s). Server response: \nHTTP code: %d, HTTP reason: %s",
		e.URL, e.StatusCode, e.Reason)
	if e.ErrorCode != 0 {
		fmt.Fprintf(&b, ", error code: %d, error msg: %s, user msg: %s", e.ErrorCode, e.ErrorMsg, e.UserMsg)
	} else if e.Body != "" {
		fmt.Fprintf(&b, ", body: %s", e.Body)
	}
	if e.Hint != "" {
		b.WriteString("\n\n")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// AsRestAPIError unwraps err looking for a RestAPIError.
func AsRestAPIError(err error) (*RestAPIError, bool) {
	var restErr *RestAPIError
	if errors.As(err, &restErr) {
		return restErr, true
	}
	return nil, false
}

// HasErrorCode reports whether err is a RestAPIError carrying the given backend error code.
func HasErrorCode(err error, code int) bool {
	restErr, ok := AsRestAPIError(err)
	return ok && restErr.ErrorCode == code
}

// IsNotFound reports whether err is a RestAPIError with HTTP status 404.
func IsNotFound(err error) bool {
	restErr, ok := AsRestAPIError(err)
	return ok && restErr.StatusCode == http.StatusNotFound
}
