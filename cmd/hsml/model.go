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
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	registryapis "github.com/logicalclocks/hsml/pkg/apis/registry"
	"github.com/logicalclocks/hsml/pkg/constants"
)

func (a *app) modelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "model",
		Aliases: []string{"models"},
		Short:   "Manage models of the model registry",
	}
	cmd.AddCommand(
		a.modelGetCommand(),
		a.modelListCommand(),
		a.modelBestCommand(),
		a.modelRegisterCommand(),
		a.modelDownloadCommand(),
		a.modelDeleteCommand(),
		a.modelTagCommand(),
	)
	return cmd
}

func getModel(ctx context.Context, s *session, name string, version int) (*registryapis.Model, error) {
	model, err := s.registry.GetModel(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.Errorf("model %s version %d not found", name, version)
	}
	return model, nil
}

func (a *app) modelGetCommand() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Print a model version",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			model, err := getModel(ctx, s, args[0], version)
			if err != nil {
				return err
			}
			return writeJSON(a.out, model)
		}),
	}
	cmd.Flags().IntVarP(&version, "version", "v", 1, "Model version")
	return cmd
}

func (a *app) modelListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list NAME",
		Short: "List the versions of a model",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			models, err := s.registry.GetModels(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(a.out, models)
		}),
	}
}

func (a *app) modelBestCommand() *cobra.Command {
	var metric, direction string
	cmd := &cobra.Command{
		Use:   "best NAME",
		Short: "Print the version of a model with the best metric value",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			model, err := s.registry.GetBestModel(ctx, args[0], metric, registryapis.SortDirection(direction))
			if err != nil {
				return err
			}
			if model == nil {
				return errors.Errorf("no version of model %s has metric %s", args[0], metric)
			}
			return writeJSON(a.out, model)
		}),
	}
	cmd.Flags().StringVar(&metric, "metric", "", "Metric to compare")
	_ = cmd.MarkFlagRequired("metric")
	cmd.Flags().StringVar(&direction, "direction", string(registryapis.SortMax), "max or min")
	return cmd
}

func (a *app) modelRegisterCommand() *cobra.Command {
	var (
		name, framework, path, description string
		version                            int
		metrics                            map[string]string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a model version from a local directory, a dataset path or an object store uri",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			opts := []registryapis.ModelOption{registryapis.WithDescription(description)}
			if version > 0 {
				opts = append(opts, registryapis.WithVersion(version))
			}
			if len(metrics) > 0 {
				parsed, err := parseMetrics(metrics)
				if err != nil {
					return err
				}
				opts = append(opts, registryapis.WithMetrics(parsed))
			}
			model, err := s.registry.CreateModel(constants.ModelFramework(framework), name, opts...)
			if err != nil {
				return err
			}
			saved, err := s.registry.Engine().Save(ctx, model, path, constants.DefaultAwaitRegistration)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "model %s version %d registered\n", saved.Name, saved.VersionNumber())
			return nil
		}),
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Model name")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&framework, "framework", string(constants.FrameworkPython), "Model framework")
	cmd.Flags().StringVar(&path, "path", "", "Model files: local directory, dataset path or object store uri")
	_ = cmd.MarkFlagRequired("path")
	cmd.Flags().IntVarP(&version, "version", "v", 0, "Model version, the next free version by default")
	cmd.Flags().StringVar(&description, "description", "", "Model description")
	cmd.Flags().StringToStringVar(&metrics, "metric", nil, "Training metric as name=value, repeatable")
	return cmd
}

func parseMetrics(metrics map[string]string) (map[string]float64, error) {
	parsed := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Errorf("metric %s has a non numeric value %q", k, v)
		}
		parsed[k] = f
	}
	return parsed, nil
}

func (a *app) modelDownloadCommand() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "download NAME",
		Short: "Download the files of a model version",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			model, err := getModel(ctx, s, args[0], version)
			if err != nil {
				return err
			}
			dir, err := s.registry.Engine().Download(ctx, model)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, dir)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&version, "version", "v", 1, "Model version")
	return cmd
}

func (a *app) modelDeleteCommand() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a model version",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			model, err := getModel(ctx, s, args[0], version)
			if err != nil {
				return err
			}
			if err := s.registry.Engine().Delete(ctx, model); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "model %s version %d deleted\n", model.Name, version)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&version, "version", "v", 1, "Model version")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func (a *app) modelTagCommand() *cobra.Command {
	var (
		version int
		set     map[string]string
		remove  []string
	)
	cmd := &cobra.Command{
		Use:   "tags NAME",
		Short: "Print, set or delete the tags of a model version",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			model, err := getModel(ctx, s, args[0], version)
			if err != nil {
				return err
			}
			engine := s.registry.Engine()
			for k, v := range set {
				var value interface{} = v
				// Values that parse as json are stored as such.
				var decoded interface{}
				if err := json.Unmarshal([]byte(v), &decoded); err == nil {
					value = decoded
				}
				if err := engine.SetTag(ctx, model, k, value); err != nil {
					return err
				}
			}
			for _, k := range remove {
				if err := engine.DeleteTag(ctx, model, k); err != nil {
					return err
				}
			}
			tags, err := engine.GetTags(ctx, model)
			if err != nil {
				return err
			}
			return writeJSON(a.out, tags)
		}),
	}
	cmd.Flags().IntVarP(&version, "version", "v", 1, "Model version")
	cmd.Flags().StringToStringVar(&set, "set", nil, "Tag to set as name=value, repeatable")
	cmd.Flags().StringSliceVar(&remove, "delete", nil, "Tags to delete")
	return cmd
}
