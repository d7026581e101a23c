package domain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aflcov.dev/pkg/aflcov/internal/adapter"
	m "aflcov.dev/pkg/aflcov/internal/model"
	"aflcov.dev/pkg/aflcov/pkg"
)

func engineCorpus(t *testing.T, ids ...string) m.Path {
	t.Helper()

	root := t.TempDir()
	queue := filepath.Join(root, "queue")
	require.NoError(t, os.MkdirAll(queue, 0o755))

	for _, id := range ids {
		require.NoError(t, os.WriteFile(filepath.Join(queue, id), []byte(id), 0o644))
	}

	return m.Path(root)
}

func TestEngine_Collect(t *testing.T) {
	t.Run("runs the corpus and persists report and journal", func(t *testing.T) {
		fuzzingDir := engineCorpus(t, "id:000000", "id:000001")
		outputDir := filepath.Join(t.TempDir(), "cov")
		require.NoError(t, os.MkdirAll(outputDir, 0o755))

		backend := &fakeBackend{outcomes: map[string]m.Outcome{
			"default/id:000000": m.Completed,
			"default/id:000001": m.Crashed,
		}}

		engine := NewEngine(adapter.NewLocalCorpusFSAdapter(), adapter.NewYAMLReportStore(), nopUI{})

		report, err := engine.Collect(context.Background(), backend, Options{
			FuzzingDir: fuzzingDir,
			OutputDir:  m.Path(outputDir),
		}, 2)
		require.NoError(t, err)

		assert.Equal(t, "fake", report.Mode)
		assert.Equal(t, 1, report.Summary.Completed)
		assert.Equal(t, 1, report.Summary.Crashed)

		saved, err := adapter.NewYAMLReportStore().LoadReport(m.Path(filepath.Join(outputDir, "zero_coverage.yaml")))
		require.NoError(t, err)
		assert.Equal(t, report.Mode, saved.Mode)

		journal, err := pkg.ReadRunJournal(filepath.Join(outputDir, "runs.gob"))
		require.NoError(t, err)
		assert.Len(t, journal, 2)
	})

	t.Run("cancellation still finalizes and saves the report", func(t *testing.T) {
		fuzzingDir := engineCorpus(t, "id:000000", "id:000001")
		outputDir := filepath.Join(t.TempDir(), "cov")
		require.NoError(t, os.MkdirAll(outputDir, 0o755))

		backend := &fakeBackend{}
		engine := NewEngine(adapter.NewLocalCorpusFSAdapter(), adapter.NewYAMLReportStore(), nopUI{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := engine.Collect(ctx, backend, Options{
			FuzzingDir: fuzzingDir,
			OutputDir:  m.Path(outputDir),
		}, 1)
		require.NoError(t, err)
		require.NotNil(t, report)

		assert.Equal(t, 2, report.Summary.Skipped)

		// The final batch merge and report must run to completion even
		// though the campaign context is already dead.
		assert.NoError(t, backend.finalizeCtxErr)

		_, err = adapter.NewYAMLReportStore().LoadReport(m.Path(filepath.Join(outputDir, "zero_coverage.yaml")))
		require.NoError(t, err)
	})

	t.Run("empty corpus is fatal", func(t *testing.T) {
		engine := NewEngine(adapter.NewLocalCorpusFSAdapter(), adapter.NewYAMLReportStore(), nopUI{})

		_, err := engine.Collect(context.Background(), &fakeBackend{}, Options{
			FuzzingDir: m.Path(t.TempDir()),
			OutputDir:  m.Path(t.TempDir()),
		}, 1)
		require.ErrorIs(t, err, adapter.ErrCorpusNotFound)
	})

	t.Run("prepare failure skips the campaign", func(t *testing.T) {
		fuzzingDir := engineCorpus(t, "id:000000")

		backend := &prepareFailBackend{}
		engine := NewEngine(adapter.NewLocalCorpusFSAdapter(), adapter.NewYAMLReportStore(), nopUI{})

		_, err := engine.Collect(context.Background(), backend, Options{
			FuzzingDir: fuzzingDir,
			OutputDir:  m.Path(t.TempDir()),
		}, 1)

		var setupErr *SetupError
		require.ErrorAs(t, err, &setupErr)
	})
}

type prepareFailBackend struct{ fakeBackend }

func (b *prepareFailBackend) Prepare(context.Context) error {
	return &SetupError{Backend: "fake", Reason: "toolchain missing"}
}
