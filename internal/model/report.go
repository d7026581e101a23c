package model

// LineRange is an inclusive range of uncovered source lines.
type LineRange struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// FileZeroCoverage lists the never-executed portions of one source file.
type FileZeroCoverage struct {
	File               Path        `yaml:"file"`
	UncoveredLines     []LineRange `yaml:"uncovered_lines,omitempty"`
	UncoveredFunctions []string    `yaml:"uncovered_functions,omitempty"`
}

// ZeroCoverageReport is the final never-covered delta. For text backends the
// per-file breakdown is populated; for binary-only backends only the merged
// trace and block counts are available and the breakdown stays empty.
type ZeroCoverageReport struct {
	Mode string `yaml:"mode"`

	Files []FileZeroCoverage `yaml:"files,omitempty"`

	TotalLines       int `yaml:"total_lines,omitempty"`
	CoveredLines     int `yaml:"covered_lines,omitempty"`
	TotalFunctions   int `yaml:"total_functions,omitempty"`
	CoveredFunctions int `yaml:"covered_functions,omitempty"`

	// MergedTracefile points at the artifact the external renderer consumes:
	// the lcov info file for gcc/llvm, the merged drcov trace for qemu/frida.
	MergedTracefile Path `yaml:"merged_tracefile"`

	// Binary-only summary, filled when the merged drcov trace is readable.
	BlocksHit int `yaml:"blocks_hit,omitempty"`
	Modules   int `yaml:"modules,omitempty"`

	Summary RunSummary `yaml:"summary"`
}

// UncoveredLineCount returns the number of lines listed as never executed.
func (r *ZeroCoverageReport) UncoveredLineCount() int {
	n := 0

	for _, f := range r.Files {
		for _, lr := range f.UncoveredLines {
			n += lr.End - lr.Start + 1
		}
	}

	return n
}
