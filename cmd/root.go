// Package cmd provides the root command and CLI setup for aflcov.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"aflcov.dev/pkg/aflcov/internal/adapter"
	"aflcov.dev/pkg/aflcov/internal/controller"
	"aflcov.dev/pkg/aflcov/internal/domain"
	m "aflcov.dev/pkg/aflcov/internal/model"
)

var fsAdapter adapter.CorpusFSAdapter
var procRunner adapter.ProcessRunner
var reportStore adapter.ReportStore

// coverageCmdFlag is the instrumented target invocation; @@ (or AFL_FILE)
// marks where the test case path is substituted.
var coverageCmdFlag string

// fuzzingDirFlag is the afl-fuzz output directory holding the queue(s).
var fuzzingDirFlag string

// outputDirFlag overrides the default <afl-fuzzing-dir>/cov location.
var outputDirFlag string

var overwriteFlag bool
var keepIntermediateFlag bool
var timeoutFlag time.Duration
var jobsFlag int
var extraEnvFlag []string
var noProgressFlag bool
var noEnvCheckFlag bool
var verboseFlag bool

func init() {
	configureRootFlags(rootCmd)

	// Initialize shared dependencies.
	fsAdapter = adapter.NewLocalCorpusFSAdapter()
	procRunner = adapter.NewLocalProcessRunner()
	reportStore = adapter.NewYAMLReportStore()
}

const rootLongDescription = `aflcov replays an AFL fuzzing corpus against a coverage-instrumented build
of the target and reports which lines and functions the whole campaign
never reached.

Point it at the afl-fuzz output directory (-d) and give it the command
that runs the instrumented target (-e), with @@ marking where the test
case file path goes:

  aflcov gcc -d ./out -e "./target @@" -c ./src`

// rootCmd represents the base command when called without any subcommands.
var rootCmd = baseRootCmd()

func baseRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aflcov",
		Short: "AFL fuzzing corpus coverage reporter",
		Long:  rootLongDescription,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&coverageCmdFlag, coverageCmdFlagName, "e", "", "command running the instrumented target; @@ is replaced with the test case path")
	cmd.PersistentFlags().StringVarP(&fuzzingDirFlag, fuzzingDirFlagName, "d", "", "afl-fuzz output directory containing the queue(s)")
	cmd.PersistentFlags().StringVarP(&outputDirFlag, outputDirFlagName, "o", "", "coverage output directory (default <afl-fuzzing-dir>/cov)")
	cmd.PersistentFlags().BoolVarP(&overwriteFlag, overwriteFlagName, "O", false, "overwrite an existing coverage output directory")
	cmd.PersistentFlags().BoolVarP(&keepIntermediateFlag, keepIntermediateFlagName, "k", false, "keep per-run coverage artifacts instead of deleting them after merge")

	// The timeout flag is seeded from config but not bound back: viper cannot
	// round-trip a duration flag against the seconds-based config value.
	cmd.PersistentFlags().DurationVarP(&timeoutFlag, timeoutFlagName, "t", time.Duration(viper.GetInt64(timeoutConfigKey))*time.Second, "per-run timeout for the target (0 means no limit)")

	cmd.PersistentFlags().IntVarP(&jobsFlag, jobsFlagName, "j", viper.GetInt(jobsConfigKey), "number of test cases replayed in parallel")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(jobsFlagName), jobsConfigKey)

	cmd.PersistentFlags().StringArrayVar(&extraEnvFlag, envFlagName, nil, "extra KEY=VALUE environment for the target (can be repeated)")
	cmd.PersistentFlags().BoolVar(&noProgressFlag, noProgressFlagName, false, "disable the progress bar")
	cmd.PersistentFlags().BoolVar(&noEnvCheckFlag, noEnvCheckFlagName, false, "skip toolchain checks and the did-coverage-appear validation")
	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", false, "log at debug level")
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// campaignOptions validates the shared flags and assembles the backend
// options every mode needs.
func campaignOptions() (domain.Options, error) {
	if fuzzingDirFlag == "" {
		return domain.Options{}, fmt.Errorf("--%s is required", fuzzingDirFlagName)
	}

	if coverageCmdFlag == "" {
		return domain.Options{}, fmt.Errorf("--%s is required", coverageCmdFlagName)
	}

	command, err := domain.NewCoverageCommand(coverageCmdFlag)
	if err != nil {
		return domain.Options{}, err
	}

	outputDir := outputDirFlag
	if outputDir == "" {
		outputDir = filepath.Join(fuzzingDirFlag, "cov")
	}

	return domain.Options{
		Command:          command,
		FuzzingDir:       m.Path(fuzzingDirFlag),
		OutputDir:        m.Path(outputDir),
		ExtraEnv:         extraEnvFlag,
		Timeout:          timeoutFlag,
		Overwrite:        overwriteFlag,
		KeepIntermediate: keepIntermediateFlag,
		NoEnvCheck:       noEnvCheckFlag,
		MergeBatch:       viper.GetInt(mergeBatchConfigKey),
	}, nil
}

// collect runs a whole campaign for the given backend: signal-aware context,
// UI selection, engine orchestration.
func collect(cmd *cobra.Command, backend domain.Backend, opts domain.Options) error {
	configureLogger(verboseFlag)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := controller.NewUI(cmd, controller.IsTTY(os.Stdout), noProgressFlag)
	engine := domain.NewEngine(fsAdapter, reportStore, ui)

	_, err := engine.Collect(ctx, backend, opts, viper.GetInt(jobsConfigKey))

	return err
}
