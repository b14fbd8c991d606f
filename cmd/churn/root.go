package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/YuminosukeSato/churnscope/config"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "churn",
		Short: "Customer churn batch pipeline",
		Long: `churn cleans a customer table, encodes and scales it, scores the features,
trains classifiers with optional SMOTE-ENN rebalancing and saves the best model
together with everything needed to score new customers.

Configuration precedence: flags > CHURN_* environment > --config file > defaults.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	f.String("log-level", "", "log level: debug, info, warn, error")
	f.String("out", "", "output directory (overrides output.dir)")
	f.Uint64("seed", 0, "random seed for splitting, resampling and models (overrides train.seed)")
	_ = a.v.BindPFlag("log_level", f.Lookup("log-level"))
	_ = a.v.BindPFlag("output.dir", f.Lookup("out"))
	_ = a.v.BindPFlag("train.seed", f.Lookup("seed"))

	root.AddCommand(
		a.edaCmd(),
		a.prepareCmd(),
		a.trainCmd(),
		a.runCmd(),
		a.predictCmd(),
		a.configCmd(),
	)
	return root
}

// load resolves the configuration and installs the zerolog provider at the
// configured level.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	c, err := config.LoadWith(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	provider := log.NewZerologProvider(level)
	provider.RouteWarnings()
	log.SetGlobalProvider(provider)
	a.cfg = c
	return nil
}

// Execute runs the root command and reports a failure on stderr.
func Execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		// 最終エラーはスタックトレース付きで slog に流す
		log.SetupLogger("error")
		slog.Error("churn failed", log.ErrAttr(err))
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}
