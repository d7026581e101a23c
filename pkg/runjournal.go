// Package pkg provides reusable helpers for aflcov.
package pkg

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// RunJournal is an append-only on-disk log of RunResults. The engine records
// every replay outcome as it happens, so a crashing campaign still leaves a
// traceable record of which test case produced which artifact.
type RunJournal struct {
	path    string
	file    *os.File
	encoder *gob.Encoder
	mu      sync.Mutex
	length  uint64
}

// NewRunJournal creates (or truncates) the journal at path.
func NewRunJournal(path string) (*RunJournal, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create run journal: %w", err)
	}

	return &RunJournal{
		path:    path,
		file:    file,
		encoder: gob.NewEncoder(file),
	}, nil
}

// Append records one run result.
func (j *RunJournal) Append(res m.RunResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.New("run journal is closed")
	}

	if err := j.encoder.Encode(res); err != nil {
		slog.Error("failed to encode run result", "path", j.path, "testcase", res.TestCaseID, "error", err)
		return fmt.Errorf("encode run result: %w", err)
	}

	j.length++

	return nil
}

// Len returns the number of recorded results.
func (j *RunJournal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.length
}

// Path returns the journal's file path.
func (j *RunJournal) Path() string {
	return j.path
}

// Close flushes and closes the journal. Idempotent.
func (j *RunJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}

	err := j.file.Close()
	j.file = nil

	return err
}

// ReadRunJournal decodes every result recorded in the journal at path.
func ReadRunJournal(path string) ([]m.RunResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}

	defer func() { _ = file.Close() }()

	var results []m.RunResult

	decoder := gob.NewDecoder(file)

	for {
		var res m.RunResult

		if err := decoder.Decode(&res); err != nil {
			if errors.Is(err, io.EOF) {
				return results, nil
			}

			return nil, fmt.Errorf("decode run journal: %w", err)
		}

		results = append(results, res)
	}
}
