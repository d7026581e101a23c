package domain

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// DrcovStats summarizes a drcov trace file: how many modules were observed
// and how many distinct basic blocks the merged trace records. Block
// semantics (which code the offsets map to) are resolved by an external
// disassembly-aware viewer, not here.
type DrcovStats struct {
	Version int
	Modules int
	Blocks  int
}

// ReadDrcovStats reads the textual header of a drcov trace. The binary BB
// table that follows the header is not decoded; its length is declared in the
// header and cross-checked against the file size.
func ReadDrcovStats(path m.Path) (DrcovStats, error) {
	f, err := os.Open(string(path))
	if err != nil {
		return DrcovStats{}, fmt.Errorf("open drcov trace: %w", err)
	}

	defer func() { _ = f.Close() }()

	var stats DrcovStats

	reader := bufio.NewReader(f)
	headerBytes := 0

	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF && line == "" {
			return DrcovStats{}, fmt.Errorf("drcov trace %s: truncated header", path)
		} else if err != nil && err != io.EOF {
			return DrcovStats{}, fmt.Errorf("read drcov header: %w", err)
		}

		headerBytes += len(line)
		line = strings.TrimRight(line, "\n")

		switch {
		case strings.HasPrefix(line, "DRCOV VERSION: "):
			if _, err := fmt.Sscanf(line, "DRCOV VERSION: %d", &stats.Version); err != nil {
				return DrcovStats{}, fmt.Errorf("drcov trace %s: bad version line", path)
			}

		case strings.HasPrefix(line, "Module Table: "):
			// "Module Table: version 2, count N" (v2) or "Module Table: N" (v1).
			var tableVersion int
			if _, err := fmt.Sscanf(line, "Module Table: version %d, count %d", &tableVersion, &stats.Modules); err != nil {
				if _, err := fmt.Sscanf(line, "Module Table: %d", &stats.Modules); err != nil {
					return DrcovStats{}, fmt.Errorf("drcov trace %s: bad module table line", path)
				}
			}

		case strings.HasPrefix(line, "BB Table: "):
			if _, err := fmt.Sscanf(line, "BB Table: %d bbs", &stats.Blocks); err != nil {
				return DrcovStats{}, fmt.Errorf("drcov trace %s: bad bb table line", path)
			}

			// Each BB entry is 8 bytes: u32 start offset, u16 size, u16
			// module id.
			info, err := f.Stat()
			if err != nil {
				return DrcovStats{}, fmt.Errorf("stat drcov trace: %w", err)
			}

			want := int64(headerBytes) + int64(stats.Blocks)*8
			if info.Size() < want {
				return DrcovStats{}, fmt.Errorf("drcov trace %s: bb table truncated (%d bytes, want %d)", path, info.Size(), want)
			}

			return stats, nil
		}
	}
}
