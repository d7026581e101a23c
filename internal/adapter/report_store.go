package adapter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// ReportStore persists the zero-coverage report so `aflcov view` can
// re-render it without redoing the campaign replay.
type ReportStore interface {
	SaveReport(path m.Path, report *m.ZeroCoverageReport) error
	LoadReport(path m.Path) (*m.ZeroCoverageReport, error)
}

// YAMLReportStore stores reports as a single YAML document.
type YAMLReportStore struct{}

// NewYAMLReportStore constructs a YAMLReportStore.
func NewYAMLReportStore() *YAMLReportStore {
	return &YAMLReportStore{}
}

// SaveReport writes the report to path.
func (s *YAMLReportStore) SaveReport(path m.Path, report *m.ZeroCoverageReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := os.WriteFile(string(path), data, 0o640); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}

	return nil
}

// LoadReport reads a previously saved report from path.
func (s *YAMLReportStore) LoadReport(path m.Path) (*m.ZeroCoverageReport, error) {
	data, err := os.ReadFile(string(path))
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", path, err)
	}

	var report m.ZeroCoverageReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}

	return &report, nil
}
