// Copyright 2023 the fmcmdd Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Binary counter computes the number of valid configurations of a
// feature model and appends one result line per run to a CSV file, so
// that batches of models can be measured by repeated invocations.
package main

import (
	"fmt"
	"os"
	"time"

	log "github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fmselab/fmcmdd/fmgen"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "counter",
		Short:         "counter computes the number of valid products of a feature model",
		RunE:          runCount,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fl := cmd.Flags()
	fl.String("m", "", "Path of the feature model file.")
	fl.String("o", "", "Path of the result CSV file; the result line is appended.")
	fl.Int("r", 1, "Number of cross-tree constraints to merge before application.")
	fl.Bool("mergeAnd", false, "Merge and-groups of leaf features into a single variable.")
	fl.Int("nMergeAnd", 5, "Child-count threshold for merging and-groups.")
	fl.Bool("dr", false, "Dynamically reorder variables while applying constraints.")
	fl.Bool("ignoreHidden", true, "Exclude hidden features from the count.")
	fl.Bool("sortConstraints", false, "Apply cross-tree constraints from the smallest diagram to the largest.")
	fl.Bool("shuffleConstraints", false, "Shuffle the constraints before merging instead of interleaving by size.")
	fl.Int64("shuffleSeed", 0, "Seed for the constraint shuffle; 0 draws from the clock.")
	fl.Bool("printMdd", false, "Write the final diagram in Graphviz form.")
	fl.String("dot", "MDD.dot", "Path of the Graphviz output when printMdd is set.")
	fl.Bool("strictUnresolved", false, "Fail on constraint references to unknown features instead of warning.")

	cfgFile := cmd.PersistentFlags().String("config_file", "", "Path to config file.")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if *cfgFile != "" {
			viper.SetConfigFile(*cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("error reading config: %w", err)
			}
		}
		viper.BindPFlags(cmd.Flags())
		viper.AutomaticEnv()
		return nil
	}
	return cmd
}

func runCount(cmd *cobra.Command, args []string) error {
	model := viper.GetString("m")
	if model == "" {
		return fmt.Errorf("please specify the model of interest (--m)")
	}
	output := viper.GetString("o")
	if output == "" {
		return fmt.Errorf("please specify the output path (--o)")
	}

	cfg := fmgen.DefaultConfig()
	cfg.IgnoreHidden = viper.GetBool("ignoreHidden")
	cfg.ReductionFactor = viper.GetInt("r")
	cfg.CompressAnd = viper.GetBool("mergeAnd")
	cfg.CompressThreshold = viper.GetInt("nMergeAnd")
	cfg.ReorderVariables = viper.GetBool("dr")
	cfg.SortWhenApplying = viper.GetBool("sortConstraints")
	cfg.ShuffleConstraints = viper.GetBool("shuffleConstraints")
	cfg.ShuffleSeed = viper.GetInt64("shuffleSeed")
	cfg.PrintMdd = viper.GetBool("printMdd")
	cfg.DotPath = viper.GetString("dot")
	cfg.StrictUnresolved = viper.GetBool("strictUnresolved")

	start := time.Now()
	res, err := fmgen.CountProductsFromFile(model, cfg)
	if err != nil {
		return err
	}
	elapsed := time.Since(start).Seconds()
	for _, w := range res.Warnings {
		log.Warning(w)
	}

	out, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error in locating output file: %w", err)
	}
	defer out.Close()
	if _, err := out.WriteString(resultLine(model, res, cfg, elapsed)); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Count)
	return nil
}

// resultLine renders the CSV record of one run:
// path;products;seconds;ctcToMerge;mergeAnd;nMergeAnd;reorder;maxEdges;maxNodes.
func resultLine(model string, res *fmgen.Result, cfg *fmgen.Config, seconds float64) string {
	return fmt.Sprintf("%s;%s;%g;%d;%t;%d;%t;%d;%d\n",
		model, res.Count, seconds, cfg.ReductionFactor,
		cfg.CompressAnd, cfg.CompressThreshold, cfg.ReorderVariables,
		res.MaxEdges, res.MaxNodes)
}
