// Package domain implements the coverage collection engine: backends,
// scheduling, accumulation and zero-coverage reduction.
package domain

import (
	"errors"
	"fmt"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// aflFilePlaceholder is the token AFL-family tools substitute with the test
// case path. "@@" is its historical spelling.
const aflFilePlaceholder = "AFL_FILE"

// CoverageCommand is the templated target invocation, built once at startup.
// The template may reference the test case path via "@@" or "AFL_FILE"; when
// neither token is present the test case bytes are piped to the target's
// standard input instead.
type CoverageCommand struct {
	template string
	useStdin bool
}

// NewCoverageCommand parses and validates the command template.
func NewCoverageCommand(template string) (CoverageCommand, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return CoverageCommand{}, errors.New("coverage command is empty")
	}

	normalized := strings.ReplaceAll(template, "@@", aflFilePlaceholder)

	// Validate lexing up front so per-run failures cannot stem from the
	// template itself.
	if _, err := shellwords.Parse(normalized); err != nil {
		return CoverageCommand{}, fmt.Errorf("parse coverage command: %w", err)
	}

	return CoverageCommand{
		template: normalized,
		useStdin: !strings.Contains(normalized, aflFilePlaceholder),
	}, nil
}

// UsesStdin reports whether test case bytes go to the target's stdin.
func (c CoverageCommand) UsesStdin() bool {
	return c.useStdin
}

// Build returns the argv for one test case, substituting the input path into
// the placeholder tokens.
func (c CoverageCommand) Build(input m.Path) ([]string, error) {
	cmd := strings.ReplaceAll(c.template, aflFilePlaceholder, string(input))

	argv, err := shellwords.Parse(cmd)
	if err != nil {
		return nil, fmt.Errorf("parse coverage command: %w", err)
	}

	if len(argv) == 0 {
		return nil, errors.New("coverage command is empty")
	}

	return argv, nil
}
