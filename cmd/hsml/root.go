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

package main

import (
	"context"
	"io"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/logicalclocks/hsml/pkg/client"
	"github.com/logicalclocks/hsml/pkg/hsml"
	"github.com/logicalclocks/hsml/pkg/logging"
	"github.com/logicalclocks/hsml/pkg/registry"
	"github.com/logicalclocks/hsml/pkg/serving"
)

// session is what the commands need from a project connection.
type session struct {
	serving  *serving.ModelServing
	registry *registry.ModelRegistry
	close    func() error
}

type connectFunc func(ctx context.Context, a *app) (*session, error)

// connectionFlags override the HOPSWORKS_ environment when set.
type connectionFlags struct {
	host          string
	port          int
	project       string
	apiKey        string
	apiKeyFile    string
	trustStore    string
	istioEndpoint string
	insecure      bool
}

type app struct {
	out      io.Writer
	errOut   io.Writer
	flags    connectionFlags
	logLevel string
	devLogs  bool
	zlog     *zap.Logger
	log      logr.Logger
	connect  connectFunc
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	return newApp(out, errOut, connectHopsworks).command()
}

func newApp(out, errOut io.Writer, connect connectFunc) *app {
	return &app{out: out, errOut: errOut, connect: connect, log: logr.Discard()}
}

func (a *app) command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hsml",
		Short: "hsml manages the models and deployments of a Hopsworks project",
		Long: `hsml registers model versions in the Hopsworks model registry and drives
			their deployments: create, start, stop, predict and inspect them. Connection
			settings are read from HOPSWORKS_ environment variables and can be overridden
			with flags.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setupLogging,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.zlog != nil {
				_ = a.zlog.Sync()
			}
		},
	}
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	flags := rootCmd.PersistentFlags()
	a.addConnectionFlags(flags)
	flags.StringVar(&a.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.BoolVar(&a.devLogs, "dev-logs", false, "Human readable logs")

	rootCmd.AddCommand(a.deploymentCommand(), a.modelCommand())
	return rootCmd
}

func (a *app) addConnectionFlags(flags *pflag.FlagSet) {
	flags.StringVar(&a.flags.host, "host", "", "Hopsworks host")
	flags.IntVar(&a.flags.port, "port", 0, "Hopsworks port")
	flags.StringVarP(&a.flags.project, "project", "p", "", "Project name")
	flags.StringVar(&a.flags.apiKey, "api-key", "", "Hopsworks api key")
	flags.StringVar(&a.flags.apiKeyFile, "api-key-file", "", "File containing the Hopsworks api key")
	flags.StringVar(&a.flags.trustStore, "trust-store", "", "PEM bundle trusted for the Hopsworks certificate")
	flags.StringVar(&a.flags.istioEndpoint, "istio-endpoint", "", "Model serving ingress as host:port")
	flags.BoolVar(&a.flags.insecure, "insecure", false, "Skip hostname verification")
}

// apply overlays the flags set on the command line onto cfg.
func (f *connectionFlags) apply(cfg *client.Config) {
	if f.host != "" {
		cfg.Host = f.host
	}
	if f.port != 0 {
		cfg.Port = f.port
	}
	if f.project != "" {
		cfg.Project = f.project
	}
	if f.apiKey != "" {
		cfg.APIKey = f.apiKey
	}
	if f.apiKeyFile != "" {
		cfg.APIKeyFile = f.apiKeyFile
	}
	if f.trustStore != "" {
		cfg.TrustStorePath = f.trustStore
	}
	if f.istioEndpoint != "" {
		cfg.IstioEndpoint = f.istioEndpoint
	}
	if f.insecure {
		cfg.HostnameVerification = false
	}
}

func (a *app) setupLogging(cmd *cobra.Command, args []string) error {
	zlog, log, err := logging.NewLogger(logging.Options{Level: a.logLevel, Development: a.devLogs, Output: a.errOut})
	if err != nil {
		return err
	}
	a.zlog = zlog
	a.log = log
	return nil
}

func connectHopsworks(ctx context.Context, a *app) (*session, error) {
	cfg, err := client.LoadConfig()
	if err != nil {
		return nil, err
	}
	a.flags.apply(cfg)
	conn, err := hsml.Connect(ctx, cfg, hsml.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	return &session{serving: conn.ModelServing, registry: conn.ModelRegistry, close: conn.Close}, nil
}

// withSession connects to the project before running f and closes the connection after.
func (a *app) withSession(f func(ctx context.Context, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := a.connect(ctx, a)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.close(); err != nil {
				a.log.Error(err, "Failed to close connection")
			}
		}()
		return f(ctx, s, args)
	}
}
