package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/churnscope/artifact"
	"github.com/YuminosukeSato/churnscope/config"
	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pipeline"
)

func (a *app) edaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eda <input.csv>",
		Short: "Profile the raw table and render charts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := pipeline.Load(args[0], a.cfg)
			if err != nil {
				return err
			}
			res, err := pipeline.RunEDA(raw, a.cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rows: %d raw, %d cleaned\n", res.Raw.Rows, res.Cleaned.Rows)
			for _, name := range res.Raw.WithMissing() {
				c := res.Raw.Column(name)
				fmt.Fprintf(out, "missing: %s %d (%.2f%%)\n", name, c.Missing, c.MissingPercent)
			}
			if o := res.Outliers; o != nil {
				fmt.Fprintf(out, "outliers: %s %d outside [%.2f, %.2f]\n", o.Column, o.Count, o.Fence.Lower, o.Fence.Upper)
			}
			fmt.Fprintf(out, "charts: %d written under %s\n", len(res.Charts), a.cfg.Path(a.cfg.Output.Charts))
			fmt.Fprintf(out, "profile: %s\n", res.ProfilePath)
			return nil
		},
	}
}

func (a *app) prepareCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "prepare <input.csv>",
		Short: "Clean, encode, score and scale; write the scaled table and preprocessor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("apply-selection") {
				a.cfg.Selection.Apply = apply
			}
			raw, err := pipeline.Load(args[0], a.cfg)
			if err != nil {
				return err
			}
			prep, err := pipeline.Prepare(raw, a.cfg, pipeline.NewTracker(), true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rows: %d in, %d out\n", prep.CleanReport.RowsIn, prep.CleanReport.RowsOut)
			fmt.Fprintf(out, "features: %d\n", len(prep.Preprocessor.Features))
			fmt.Fprintf(out, "chi2 top %d: %v\n", len(prep.Selection.Selected), prep.Selection.Selected)
			fmt.Fprintf(out, "lasso kept: %v\n", prep.Selection.LassoKept)
			fmt.Fprintf(out, "scaled table: %s\n", prep.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply-selection", false, "keep only the chi2 top-k features (overrides selection.apply)")
	return cmd
}

func (a *app) trainCmd() *cobra.Command {
	var preprocessor string
	cmd := &cobra.Command{
		Use:   "train <scaled.csv>",
		Short: "Train and evaluate the candidates on a scaled table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if preprocessor == "" {
				preprocessor = a.cfg.Path(a.cfg.Output.Preprocessor)
			}
			res, err := pipeline.TrainFromFile(args[0], preprocessor, a.cfg)
			if err != nil {
				return err
			}
			printTraining(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&preprocessor, "preprocessor", "", "preprocessor written by prepare (default <out>/preprocessor.gob)")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <input.csv>",
		Short: "Run the whole pipeline and save the best model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := pipeline.Run(args[0], a.cfg)
			if err != nil {
				return err
			}
			printTraining(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func (a *app) predictCmd() *cobra.Command {
	var (
		output   string
		idColumn string
	)
	cmd := &cobra.Command{
		Use:   "predict <model.gob> <input.csv>",
		Short: "Score raw customers with a saved model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := artifact.Load(args[0])
			if err != nil {
				return err
			}
			raw, err := pipeline.Load(args[1], a.cfg)
			if err != nil {
				return err
			}
			pred, err := pipeline.Predict(bundle, raw)
			if err != nil {
				return err
			}
			t, err := pred.Table(raw, idColumn)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return dataset.WriteCSV(cmd.OutOrStdout(), t)
			}
			return dataset.SaveCSV(output, t)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write predictions to this CSV instead of stdout")
	cmd.Flags().StringVar(&idColumn, "id-column", "customerID", "raw column copied into the output")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the effective configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML",
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := yaml.Marshal(a.cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			},
		},
		&cobra.Command{
			Use:   "init <path>",
			Short: "Write the effective configuration to a file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := os.Stat(args[0]); err == nil {
					return fmt.Errorf("%s already exists", args[0])
				}
				if err := config.Save(a.cfg, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func printTraining(w io.Writer, res *pipeline.Result) {
	tr := res.Training
	fmt.Fprintf(w, "rows: %d train, %d test (minority share %.3f, rebalanced %v)\n",
		tr.TrainRows, tr.TestRows, tr.MinorityShare, tr.Rebalanced)
	fmt.Fprint(w, tr.Summary())
	fmt.Fprintf(w, "best: %s (score %.4f)\n", tr.Best.Model, tr.Best.Score)
	fmt.Fprintf(w, "model: %s\n", res.ModelPath)
}
