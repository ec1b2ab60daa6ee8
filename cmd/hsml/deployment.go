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
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	servingapis "github.com/logicalclocks/hsml/pkg/apis/serving"
	"github.com/logicalclocks/hsml/pkg/constants"
	"github.com/logicalclocks/hsml/pkg/openapi"
	"github.com/logicalclocks/hsml/pkg/serving"
)

func (a *app) deploymentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployment",
		Aliases: []string{"deployments"},
		Short:   "Manage model deployments",
	}
	cmd.AddCommand(
		a.deploymentListCommand(),
		a.deploymentGetCommand(),
		a.deploymentStartCommand(),
		a.deploymentStopCommand(),
		a.deploymentDeleteCommand(),
		a.deploymentStateCommand(),
		a.deploymentLogsCommand(),
		a.deploymentPredictCommand(),
		a.deploymentApplyCommand(),
		a.deploymentDownloadArtifactCommand(),
		a.deploymentOpenAPICommand(),
	)
	return cmd
}

func getDeployment(ctx context.Context, s *session, name string) (*serving.Deployment, error) {
	d, err := s.serving.GetDeployment(ctx, name)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errors.Errorf("deployment %q not found", name)
	}
	return d, nil
}

func (a *app) deploymentListCommand() *cobra.Command {
	var modelName, status, output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the deployments of the project",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			deployments, err := s.serving.GetDeployments(ctx, modelName, status)
			if err != nil {
				return err
			}
			rows := make([]deploymentRow, 0, len(deployments))
			for _, d := range deployments {
				if _, err := d.GetState(ctx); err != nil {
					a.log.Error(err, "Failed to get deployment state", "deployment", d.Name)
				}
				rows = append(rows, newDeploymentRow(d))
			}
			return writeDeploymentRows(a.out, format, rows)
		}),
	}
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "Only deployments serving this model")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only deployments in this status")
	cmd.Flags().StringVarP(&output, "output", "o", string(outputTable), "Output format: table, json or csv")
	return cmd
}

func (a *app) deploymentGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Print a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			d, err := getDeployment(ctx, s, args[0])
			if err != nil {
				return err
			}
			return writeJSON(a.out, d.Predictor)
		}),
	}
}

func (a *app) deploymentStartCommand() *cobra.Command {
	var await time.Duration
	cmd := &cobra.Command{
		Use:   "start NAME",
		Short: "Start a deployment and wait until it is running",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			d, err := getDeployment(ctx, s, args[0])
			if err != nil {
				return err
			}
			state, err := d.Start(ctx, await)
			if err != nil {
				return err
			}
			return a.printStatus(d, state)
		}),
	}
	cmd.Flags().DurationVar(&await, "await", constants.DefaultAwaitRunning, "How long to wait for the deployment to be running, 0 to return immediately")
	return cmd
}

func (a *app) deploymentStopCommand() *cobra.Command {
	var await time.Duration
	cmd := &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop a deployment and wait until it is stopped",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			d, err := getDeployment(ctx, s, args[0])
			if err != nil {
				return err
			}
			state, err := d.Stop(ctx, await)
			if err != nil {
				return err
			}
			return a.printStatus(d, state)
		}),
	}
	cmd.Flags().DurationVar(&await, "await", constants.DefaultAwaitStopped, "How long to wait for the deployment to be stopped, 0 to return immediately")
	return cmd
}

func (a *app) deploymentDeleteCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a stopped deployment",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			d, err := getDeployment(ctx, s, args[0])
			if err != nil {
				return err
			}
			if err := d.Delete(ctx, force); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deployment %s deleted\n", d.Name)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete the deployment even if it is not stopped")
	return cmd
}

func (a *app) deploymentStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state NAME",
		Short: "Print the current state of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			d, err := getDeployment(ctx, s, args[0])
			if err != nil {
				return err
			}
			state, err := d.GetState(ctx)
			if err != nil {
				return err
			}
			return writeJSON(a.out, state)
		}),
	}
}

func (a *app) deploymentLogsCommand() *cobra.Command {
	var component string
	var tail int
	cmd := &cobra.Command{
		Use:   "logs NAME",
		Short: "Print the server logs of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			d, err := getDeployment(ctx, s, args[0])
			if err != nil {
				return err
			}
			logs, err := d.GetLogs(ctx, constants.Component(component), tail)
			if err != nil {
				return err
			}
			if logs == nil {
				fmt.Fprintf(a.out, "deployment %s is stopped, no logs available\n", d.Name)
				return nil
			}
			for _, l := range logs {
				fmt.Fprintf(a.out, "instance name: %s\n%s\n", l.InstanceName, l.Content)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&component, "component", "c", string(constants.Predictor), "Component to read logs from: predictor or transformer")
	cmd.Flags().IntVar(&tail, "tail", constants.DefaultLogsTail, "Number of lines per instance")
	return cmd
}

func (a *app) deploymentPredictCommand() *cobra.Command {
	var data, inputs, csvFile string
	var csvHeader bool
	cmd := &cobra.Command{
		Use:   "predict NAME",
		Short: "Send an inference request to a running deployment",
		Long: `The request is either a complete payload given with --data, a list of instances
			given with --inputs, or the rows of a csv file given with --csv.`,
		Args: cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			var payload map[string]interface{}
			var instances interface{}
			switch {
			case data != "":
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return errors.Wrap(err, "invalid --data")
				}
			case inputs != "":
				if err := json.Unmarshal([]byte(inputs), &instances); err != nil {
					return errors.Wrap(err, "invalid --inputs")
				}
			case csvFile != "":
				rows, err := readCSVInstances(csvFile, csvHeader)
				if err != nil {
					return err
				}
				instances = rows
			default:
				return errors.New("one of --data, --inputs or --csv is required")
			}
			d, err := getDeployment(ctx, s, args[0])
			if err != nil {
				return err
			}
			resp, err := d.Predict(ctx, payload, instances)
			if err != nil {
				return err
			}
			return writeJSON(a.out, resp)
		}),
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Inference payload as json")
	cmd.Flags().StringVarP(&inputs, "inputs", "i", "", "Instances as a json list")
	cmd.Flags().StringVar(&csvFile, "csv", "", "CSV file with one instance per row")
	cmd.Flags().BoolVar(&csvHeader, "csv-header", true, "The first row of the csv file is a header")
	return cmd
}

// readCSVInstances reads one instance per row. Numeric cells are sent as numbers.
func readCSVInstances(path string, header bool) ([][]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCSVInstances(f, header)
}

func parseCSVInstances(r io.Reader, header bool) ([][]interface{}, error) {
	records, err := gocsv.DefaultCSVReader(r).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv")
	}
	if header && len(records) > 0 {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, errors.New("csv file has no rows")
	}
	instances := make([][]interface{}, 0, len(records))
	for _, record := range records {
		row := make([]interface{}, len(record))
		for i, cell := range record {
			cell = strings.TrimSpace(cell)
			if n, err := strconv.ParseFloat(cell, 64); err == nil {
				row[i] = n
			} else {
				row[i] = cell
			}
		}
		instances = append(instances, row)
	}
	return instances, nil
}

func (a *app) deploymentApplyCommand() *cobra.Command {
	var file string
	var await time.Duration
	var start, watch bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update a deployment from a predictor manifest",
		Long: `The manifest is a yaml or json predictor. Memory and cpu can be written as
			kubernetes quantities, e.g. "2Gi" or "500m". With --watch the manifest is
			applied again every time the file changes.`,
		Args: cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			apply := func() error {
				return a.applyManifest(ctx, s, file, await, start)
			}
			if watch {
				return watchFile(ctx, file, a.log, apply)
			}
			return apply()
		}),
	}
	cmd.Flags().StringVarP(&file, "filename", "f", "", "Predictor manifest")
	_ = cmd.MarkFlagRequired("filename")
	cmd.Flags().DurationVar(&await, "await", constants.DefaultAwaitUpdate, "How long to wait for a running deployment to be updated")
	cmd.Flags().BoolVar(&start, "start", false, "Start the deployment once saved")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Apply the manifest again when it changes")
	return cmd
}

func readPredictorManifest(path string) (servingapis.PredictorSpec, error) {
	var spec servingapis.PredictorSpec
	b, err := os.ReadFile(path)
	if err != nil {
		return spec, err
	}
	if err := yaml.UnmarshalStrict(b, &spec); err != nil {
		return spec, errors.Wrapf(err, "invalid predictor manifest %s", path)
	}
	return spec, nil
}

// applyManifest saves the predictor of the manifest, updating the deployment of the same
// name when there is one.
func (a *app) applyManifest(ctx context.Context, s *session, path string, await time.Duration, start bool) error {
	spec, err := readPredictorManifest(path)
	if err != nil {
		return err
	}
	p, err := s.serving.CreatePredictor(spec)
	if err != nil {
		return err
	}
	existing, err := s.serving.GetDeployment(ctx, p.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		p.ID = existing.Predictor.ID
	}
	d := s.serving.CreateDeployment(p, "")
	if err := d.Save(ctx, await); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deployment %s saved (id %d)\n", d.Name, d.ID())
	if !start {
		return nil
	}
	state, err := d.Start(ctx, constants.DefaultAwaitRunning)
	if err != nil {
		return err
	}
	return a.printStatus(d, state)
}

func (a *app) deploymentDownloadArtifactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download-artifact NAME",
		Short: "Download and extract the artifact of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			d, err := getDeployment(ctx, s, args[0])
			if err != nil {
				return err
			}
			dir, err := d.DownloadArtifact(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, dir)
			return nil
		}),
	}
}

func (a *app) deploymentOpenAPICommand() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "openapi NAME",
		Short: "Generate the OpenAPI document of the predict endpoint of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, s *session, args []string) error {
			d, err := getDeployment(ctx, s, args[0])
			if err != nil {
				return err
			}
			model, err := s.registry.GetModel(ctx, d.Predictor.ModelName, d.Predictor.ModelVersion)
			if err != nil {
				return err
			}
			if model == nil {
				return errors.Errorf("model %s version %d not found", d.Predictor.ModelName, d.Predictor.ModelVersion)
			}
			doc, err := openapi.Generate(d.Predictor, model)
			if err != nil {
				return err
			}
			if outFile == "" {
				return writeJSON(a.out, doc)
			}
			f, err := os.Create(outFile)
			if err != nil {
				return err
			}
			defer f.Close()
			return writeJSON(f, doc)
		}),
	}
	cmd.Flags().StringVarP(&outFile, "output-file", "o", "", "File to write the document to, stdout by default")
	return cmd
}

func (a *app) printStatus(d *serving.Deployment, state *servingapis.PredictorState) error {
	status := "UNKNOWN"
	if state != nil {
		status = string(state.Phase())
	}
	_, err := fmt.Fprintf(a.out, "deployment %s is %s\n", d.Name, status)
	return err
}
