package cmd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// withCampaignFlags sets the shared flag globals for one test and restores
// them afterwards.
func withCampaignFlags(t *testing.T, coverageCmd, fuzzingDir, outputDir string) {
	t.Helper()

	prevCmd, prevDir, prevOut := coverageCmdFlag, fuzzingDirFlag, outputDirFlag

	coverageCmdFlag = coverageCmd
	fuzzingDirFlag = fuzzingDir
	outputDirFlag = outputDir

	t.Cleanup(func() {
		coverageCmdFlag, fuzzingDirFlag, outputDirFlag = prevCmd, prevDir, prevOut
	})
}

func TestCampaignOptions(t *testing.T) {
	t.Run("requires the fuzzing dir", func(t *testing.T) {
		withCampaignFlags(t, "./target @@", "", "")

		_, err := campaignOptions()
		require.Error(t, err)
		assert.Contains(t, err.Error(), fuzzingDirFlagName)
	})

	t.Run("requires the coverage command", func(t *testing.T) {
		withCampaignFlags(t, "", "./out", "")

		_, err := campaignOptions()
		require.Error(t, err)
		assert.Contains(t, err.Error(), coverageCmdFlagName)
	})

	t.Run("rejects an unparseable command", func(t *testing.T) {
		withCampaignFlags(t, `./target "broken`, "./out", "")

		_, err := campaignOptions()
		require.Error(t, err)
	})

	t.Run("defaults the output dir under the fuzzing dir", func(t *testing.T) {
		withCampaignFlags(t, "./target @@", "./out", "")

		opts, err := campaignOptions()
		require.NoError(t, err)
		assert.Equal(t, m.Path(filepath.Join("./out", "cov")), opts.OutputDir)
	})

	t.Run("explicit output dir wins", func(t *testing.T) {
		withCampaignFlags(t, "./target @@", "./out", "/tmp/custom-cov")

		opts, err := campaignOptions()
		require.NoError(t, err)
		assert.Equal(t, m.Path("/tmp/custom-cov"), opts.OutputDir)
	})

	t.Run("carries the shared flags", func(t *testing.T) {
		withCampaignFlags(t, "./target @@", "./out", "")

		prevTimeout, prevEnv := timeoutFlag, extraEnvFlag
		timeoutFlag = 30 * time.Second
		extraEnvFlag = []string{"ASAN_OPTIONS=abort_on_error=1"}

		t.Cleanup(func() { timeoutFlag, extraEnvFlag = prevTimeout, prevEnv })

		opts, err := campaignOptions()
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, opts.Timeout)
		assert.Equal(t, []string{"ASAN_OPTIONS=abort_on_error=1"}, opts.ExtraEnv)
		assert.False(t, opts.Command.UsesStdin())
	})
}

func TestRootCommandWiring(t *testing.T) {
	t.Run("all subcommands are registered", func(t *testing.T) {
		names := map[string]bool{}
		for _, sub := range rootCmd.Commands() {
			names[sub.Name()] = true
		}

		for _, want := range []string{"gcc", "llvm", "qemu", "frida", "list", "view", "init", "version"} {
			assert.True(t, names[want], "missing subcommand %s", want)
		}
	})

	t.Run("shared flags are persistent", func(t *testing.T) {
		for _, name := range []string{
			coverageCmdFlagName, fuzzingDirFlagName, outputDirFlagName,
			overwriteFlagName, keepIntermediateFlagName, timeoutFlagName,
			jobsFlagName, envFlagName, noProgressFlagName, noEnvCheckFlagName,
		} {
			assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing flag %s", name)
		}
	})

	t.Run("mode flags stay local", func(t *testing.T) {
		require.NotNil(t, gccCmd.Flags().Lookup("code-dir"))
		require.NotNil(t, llvmCmd.Flags().Lookup("binary-path"))
		require.NotNil(t, qemuCmd.Flags().Lookup("afl-path"))
		require.NotNil(t, fridaCmd.Flags().Lookup("afl-path"))
		assert.Nil(t, rootCmd.PersistentFlags().Lookup("code-dir"))
	})
}
