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

package logging

import (
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the SDK logger.
type Options struct {
	// Level is a zap level name: debug, info, warn or error.
	Level       string
	Development bool
	// Output defaults to stderr.
	Output io.Writer
}

// NewLogger builds a zap logger and the logr.Logger handed to the SDK engines.
// Debug level enables V(1) messages such as polling progress.
func NewLogger(opts Options) (*zap.Logger, logr.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(opts.Level); err != nil {
			return nil, logr.Discard(), errors.Wrapf(err, "invalid log level %q", opts.Level)
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	if opts.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if opts.Output != nil {
		sink = zapcore.AddSync(opts.Output)
	}

	zapOpts := []zap.Option{zap.AddCaller()}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}
	zapLogger := zap.New(zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level)), zapOpts...)
	return zapLogger, zapr.NewLogger(zapLogger).WithName("hsml"), nil
}
