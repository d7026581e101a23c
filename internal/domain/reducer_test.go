package domain

import (
	"testing"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

func TestReduceZeroCoverage(t *testing.T) {
	cov := m.Coverage{}

	fc := cov.File(m.Path("/src/parser.c"))
	for ln := 1; ln <= 10; ln++ {
		fc.Lines[ln] = 0
	}
	fc.Lines[3] = 7
	fc.Lines[4] = 2
	fc.Functions["parse"] = 9
	fc.Functions["dump"] = 0

	covered := cov.File(m.Path("/src/ok.c"))
	covered.Lines[1] = 1
	covered.Functions["main"] = 1

	report := ReduceZeroCoverage("gcc", cov, m.Path("/out/trace.lcov_total"), m.RunSummary{Completed: 5})

	if report.Mode != "gcc" {
		t.Fatalf("Mode = %q, want gcc", report.Mode)
	}

	if report.TotalLines != 11 || report.CoveredLines != 3 {
		t.Fatalf("line totals = %d/%d, want 3/11 covered", report.CoveredLines, report.TotalLines)
	}

	if report.TotalFunctions != 3 || report.CoveredFunctions != 2 {
		t.Fatalf("function totals = %d/%d, want 2/3 covered", report.CoveredFunctions, report.TotalFunctions)
	}

	// Fully covered files carry no entry.
	if len(report.Files) != 1 {
		t.Fatalf("Files has %d entries, want 1", len(report.Files))
	}

	entry := report.Files[0]
	if entry.File != m.Path("/src/parser.c") {
		t.Fatalf("entry file = %s", entry.File)
	}

	wantRanges := []m.LineRange{{Start: 1, End: 2}, {Start: 5, End: 10}}
	if len(entry.UncoveredLines) != len(wantRanges) {
		t.Fatalf("UncoveredLines = %v, want %v", entry.UncoveredLines, wantRanges)
	}

	for i, r := range wantRanges {
		if entry.UncoveredLines[i] != r {
			t.Fatalf("range %d = %v, want %v", i, entry.UncoveredLines[i], r)
		}
	}

	if len(entry.UncoveredFunctions) != 1 || entry.UncoveredFunctions[0] != "dump" {
		t.Fatalf("UncoveredFunctions = %v, want [dump]", entry.UncoveredFunctions)
	}

	if report.Summary.Completed != 5 {
		t.Fatalf("summary not carried: %+v", report.Summary)
	}
}

func TestUncoveredRanges(t *testing.T) {
	tests := []struct {
		name  string
		lines map[int]uint64
		want  []m.LineRange
	}{
		{"nothing uncovered", map[int]uint64{1: 5, 2: 1}, nil},
		{"single line", map[int]uint64{4: 0, 5: 1}, []m.LineRange{{Start: 4, End: 4}}},
		{
			"adjacent lines coalesce",
			map[int]uint64{1: 0, 2: 0, 3: 0, 7: 0},
			[]m.LineRange{{Start: 1, End: 3}, {Start: 7, End: 7}},
		},
		{
			"covered line splits a range",
			map[int]uint64{1: 0, 2: 9, 3: 0},
			[]m.LineRange{{Start: 1, End: 1}, {Start: 3, End: 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := uncoveredRanges(tt.lines)

			if len(got) != len(tt.want) {
				t.Fatalf("uncoveredRanges() = %v, want %v", got, tt.want)
			}

			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("range %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
