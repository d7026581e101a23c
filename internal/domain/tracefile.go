package domain

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// ParseTracefile parses an lcov info document into a Coverage map. Only line
// (DA), function (FN/FNDA) and section (SF) records matter for accumulation;
// branch records and summaries are skipped. Malformed records fail the whole
// artifact so a truncated capture is skipped instead of merged half-read.
func ParseTracefile(data []byte) (m.Coverage, error) {
	cov := m.Coverage{}

	var current *m.FileCoverage

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "SF:"):
			current = cov.File(m.Path(line[len("SF:"):]))

		case strings.HasPrefix(line, "DA:"):
			if current == nil {
				return nil, fmt.Errorf("line %d: DA record before SF", lineNo)
			}

			// DA:<line>,<count>[,<checksum>]
			fields := strings.Split(line[len("DA:"):], ",")
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: malformed DA record", lineNo)
			}

			ln, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: DA line number: %w", lineNo, err)
			}

			count, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: DA count: %w", lineNo, err)
			}

			current.Lines[ln] += count

		case strings.HasPrefix(line, "FN:"):
			if current == nil {
				return nil, fmt.Errorf("line %d: FN record before SF", lineNo)
			}

			// FN:<line>,<name>; names may contain commas in mangled form,
			// so split once only.
			fields := strings.SplitN(line[len("FN:"):], ",", 2)
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: malformed FN record", lineNo)
			}

			ln, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: FN line number: %w", lineNo, err)
			}

			current.FunctionLine[fields[1]] = ln

			if _, ok := current.Functions[fields[1]]; !ok {
				current.Functions[fields[1]] = 0
			}

		case strings.HasPrefix(line, "FNDA:"):
			if current == nil {
				return nil, fmt.Errorf("line %d: FNDA record before SF", lineNo)
			}

			fields := strings.SplitN(line[len("FNDA:"):], ",", 2)
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: malformed FNDA record", lineNo)
			}

			count, err := strconv.ParseUint(fields[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: FNDA count: %w", lineNo, err)
			}

			current.Functions[fields[1]] += count

		case line == "end_of_record":
			current = nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan tracefile: %w", err)
	}

	return cov, nil
}

// WriteTracefile renders a Coverage map back into lcov info format, one
// section per source file in path order. Output is deterministic so repeated
// finalization of the same state produces identical files.
func WriteTracefile(cov m.Coverage) []byte {
	paths := make([]m.Path, 0, len(cov))
	for path := range cov {
		paths = append(paths, path)
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	var buf bytes.Buffer

	buf.WriteString("TN:\n")

	for _, path := range paths {
		fc := cov[path]

		fmt.Fprintf(&buf, "SF:%s\n", path)

		fns := make([]string, 0, len(fc.Functions))
		for fn := range fc.Functions {
			fns = append(fns, fn)
		}

		sort.Slice(fns, func(i, j int) bool {
			li, lj := fc.FunctionLine[fns[i]], fc.FunctionLine[fns[j]]
			if li != lj {
				return li < lj
			}

			return fns[i] < fns[j]
		})

		fnHit := 0

		for _, fn := range fns {
			fmt.Fprintf(&buf, "FN:%d,%s\n", fc.FunctionLine[fn], fn)
		}

		for _, fn := range fns {
			count := fc.Functions[fn]
			if count > 0 {
				fnHit++
			}

			fmt.Fprintf(&buf, "FNDA:%d,%s\n", count, fn)
		}

		fmt.Fprintf(&buf, "FNF:%d\n", len(fns))
		fmt.Fprintf(&buf, "FNH:%d\n", fnHit)

		lines := make([]int, 0, len(fc.Lines))
		for ln := range fc.Lines {
			lines = append(lines, ln)
		}

		sort.Ints(lines)

		lineHit := 0

		for _, ln := range lines {
			count := fc.Lines[ln]
			if count > 0 {
				lineHit++
			}

			fmt.Fprintf(&buf, "DA:%d,%d\n", ln, count)
		}

		fmt.Fprintf(&buf, "LF:%d\n", len(lines))
		fmt.Fprintf(&buf, "LH:%d\n", lineHit)
		buf.WriteString("end_of_record\n")
	}

	return buf.Bytes()
}
