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
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/gocarina/gocsv"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/logicalclocks/hsml/pkg/serving"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type outputFormat string

const (
	outputTable outputFormat = "table"
	outputJSON  outputFormat = "json"
	outputCSV   outputFormat = "csv"
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch f := outputFormat(s); f {
	case outputTable, outputJSON, outputCSV:
		return f, nil
	}
	return "", errors.Errorf("unknown output format %q, expected one of table, json or csv", s)
}

// deploymentRow is a deployment as listed on the command line.
type deploymentRow struct {
	ID           int    `csv:"id" json:"id"`
	Name         string `csv:"name" json:"name"`
	ModelName    string `csv:"model_name" json:"modelName"`
	ModelVersion int    `csv:"model_version" json:"modelVersion"`
	ServingTool  string `csv:"serving_tool" json:"servingTool"`
	Status       string `csv:"status" json:"status"`
}

func newDeploymentRow(d *serving.Deployment) deploymentRow {
	row := deploymentRow{
		ID:           d.ID(),
		Name:         d.Name,
		ModelName:    d.Predictor.ModelName,
		ModelVersion: d.Predictor.ModelVersion,
		ServingTool:  string(d.Predictor.ServingTool),
	}
	if state := d.Predictor.State(); state != nil {
		row.Status = string(state.Phase())
	}
	return row
}

func writeJSON(out io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func writeDeploymentRows(out io.Writer, format outputFormat, rows []deploymentRow) error {
	switch format {
	case outputJSON:
		return writeJSON(out, rows)
	case outputCSV:
		return gocsv.Marshal(rows, out)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODEL\tVERSION\tTOOL\tSTATUS")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.Name, r.ModelName, r.ModelVersion, r.ServingTool, r.Status)
	}
	return w.Flush()
}
