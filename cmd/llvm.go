package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"aflcov.dev/pkg/aflcov/internal/domain"
	m "aflcov.dev/pkg/aflcov/internal/model"
)

var llvmCodeDirFlag string
var llvmBinaryPathFlag string
var llvmToolsPathFlag string

// llvmCmd represents the llvm command.
var llvmCmd = newLLVMCmd()

func newLLVMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "llvm",
		Short: "Collect coverage from a clang source-based instrumented target",
		Long: `Replay the corpus against a target built with -fprofile-instr-generate
-fcoverage-mapping. Raw profiles are batch-merged with llvm-profdata and
exported to an lcov tracefile with llvm-cov.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := campaignOptions()
			if err != nil {
				return err
			}

			if llvmBinaryPathFlag == "" {
				return fmt.Errorf("--binary-path is required in llvm mode")
			}

			backend := domain.NewLLVMBackend(
				fsAdapter, procRunner, opts,
				m.Path(llvmCodeDirFlag), m.Path(llvmBinaryPathFlag), m.Path(llvmToolsPathFlag),
			)

			return collect(cmd, backend, opts)
		},
	}

	cmd.Flags().StringVarP(&llvmCodeDirFlag, "code-dir", "c", "", "source directory used to filter the coverage export")
	cmd.Flags().StringVarP(&llvmBinaryPathFlag, "binary-path", "b", "", "instrumented binary the profiles are exported against")
	cmd.Flags().StringVar(&llvmToolsPathFlag, "llvm-path", "", "directory holding llvm-profdata and llvm-cov (default: PATH lookup)")

	return cmd
}

func init() {
	rootCmd.AddCommand(llvmCmd)
}
