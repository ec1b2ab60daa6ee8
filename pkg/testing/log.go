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

package testing

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-logr/logr"
)

// testingT is the part of testing.T the logger writes to. GinkgoT() satisfies it too.
type testingT interface {
	Log(args ...interface{})
	Helper()
}

// NewTestLogger returns a logr.Logger writing to t, so engine logs only show up for
// failing tests.
func NewTestLogger(t testingT) logr.Logger {
	return logr.New(&testLogSink{t: t})
}

type testLogSink struct {
	t      testingT
	name   string
	values []interface{}
}

var _ logr.LogSink = &testLogSink{}

func (s *testLogSink) Init(logr.RuntimeInfo) {}

// Enabled logs every verbosity, polling progress included.
func (s *testLogSink) Enabled(int) bool {
	return true
}

func (s *testLogSink) Info(level int, msg string, keysAndValues ...interface{}) {
	s.t.Helper()
	s.t.Log(s.format(fmt.Sprintf("V(%d) %s", level, msg), keysAndValues))
}

func (s *testLogSink) Error(err error, msg string, keysAndValues ...interface{}) {
	s.t.Helper()
	s.t.Log(s.format("ERROR "+msg, append(keysAndValues, "error", err)))
}

func (s *testLogSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	c := s.clone()
	c.values = append(c.values, keysAndValues...)
	return c
}

func (s *testLogSink) WithName(name string) logr.LogSink {
	c := s.clone()
	if c.name != "" {
		c.name += "."
	}
	c.name += name
	return c
}

func (s *testLogSink) format(msg string, keysAndValues []interface{}) string {
	kvs := append(slices.Clone(s.values), keysAndValues...)
	parts := make([]string, 0, len(kvs)/2+1)
	for i := 0; i < len(kvs); i += 2 {
		var val interface{} = "(no-value)"
		if i+1 < len(kvs) {
			val = kvs[i+1]
		}
		parts = append(parts, fmt.Sprintf("%v=%+v", kvs[i], val))
	}
	if s.name != "" {
		msg = "[" + s.name + "] " + msg
	}
	return fmt.Sprintf("%s (%s)", msg, strings.Join(parts, " "))
}

func (s *testLogSink) clone() *testLogSink {
	return &testLogSink{t: s.t, name: s.name, values: slices.Clone(s.values)}
}
