package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

const sampleTracefile = `TN:
SF:/src/parser.c
FN:10,parse_header
FN:42,parse_body
FNDA:3,parse_header
FNDA:0,parse_body
FNF:2
FNH:1
DA:10,3
DA:11,3
DA:42,0
DA:43,0
LF:4
LH:2
end_of_record
SF:/src/util.c
DA:5,1
LF:1
LH:1
end_of_record
`

func TestParseTracefile(t *testing.T) {
	t.Run("parses sections lines and functions", func(t *testing.T) {
		cov, err := ParseTracefile([]byte(sampleTracefile))
		require.NoError(t, err)
		require.Len(t, cov, 2)

		parser := cov[m.Path("/src/parser.c")]
		require.NotNil(t, parser)
		assert.Equal(t, uint64(3), parser.Lines[10])
		assert.Equal(t, uint64(0), parser.Lines[42])
		assert.Equal(t, uint64(3), parser.Functions["parse_header"])
		assert.Equal(t, uint64(0), parser.Functions["parse_body"])
		assert.Equal(t, 42, parser.FunctionLine["parse_body"])
	})

	t.Run("branch records are skipped", func(t *testing.T) {
		cov, err := ParseTracefile([]byte("SF:/a.c\nBRDA:1,0,0,1\nDA:1,1\nend_of_record\n"))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), cov[m.Path("/a.c")].Lines[1])
	})

	t.Run("mangled names with commas survive", func(t *testing.T) {
		cov, err := ParseTracefile([]byte("SF:/a.cc\nFN:7,foo<int, long>\nFNDA:2,foo<int, long>\nend_of_record\n"))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), cov[m.Path("/a.cc")].Functions["foo<int, long>"])
	})

	t.Run("DA before SF fails", func(t *testing.T) {
		_, err := ParseTracefile([]byte("DA:1,1\n"))
		require.Error(t, err)
	})

	t.Run("malformed DA fails the artifact", func(t *testing.T) {
		_, err := ParseTracefile([]byte("SF:/a.c\nDA:banana\nend_of_record\n"))
		require.Error(t, err)
	})
}

func TestCoverageMerge(t *testing.T) {
	parse := func(t *testing.T, doc string) m.Coverage {
		t.Helper()

		cov, err := ParseTracefile([]byte(doc))
		require.NoError(t, err)

		return cov
	}

	t.Run("gain counts newly covered lines only", func(t *testing.T) {
		total := parse(t, "SF:/a.c\nDA:1,0\nDA:2,0\nend_of_record\n")

		gain := total.Merge(parse(t, "SF:/a.c\nDA:1,5\nend_of_record\n"))
		assert.Equal(t, 1, gain)

		// Same line again: counts grow, no new coverage.
		gain = total.Merge(parse(t, "SF:/a.c\nDA:1,2\nend_of_record\n"))
		assert.Equal(t, 0, gain)
		assert.Equal(t, uint64(7), total[m.Path("/a.c")].Lines[1])
	})

	t.Run("merging the same artifact twice doubles its counts", func(t *testing.T) {
		doc := "SF:/a.c\nFN:3,parse\nFNDA:2,parse\nDA:3,5\nDA:4,0\nend_of_record\n"

		total := parse(t, doc)

		gain := total.Merge(parse(t, doc))
		assert.Equal(t, 0, gain)

		// No dedup: counts sum, they do not saturate.
		assert.Equal(t, uint64(10), total[m.Path("/a.c")].Lines[3])
		assert.Equal(t, uint64(4), total[m.Path("/a.c")].Functions["parse"])
	})

	t.Run("merge order does not matter", func(t *testing.T) {
		a := "SF:/a.c\nDA:1,1\nDA:2,0\nend_of_record\n"
		b := "SF:/a.c\nDA:2,4\nend_of_record\nSF:/b.c\nDA:9,1\nend_of_record\n"

		ab := parse(t, a)
		ab.Merge(parse(t, b))

		ba := parse(t, b)
		ba.Merge(parse(t, a))

		assert.Equal(t, string(WriteTracefile(ab)), string(WriteTracefile(ba)))
	})
}

func TestWriteTracefile(t *testing.T) {
	t.Run("round trip is stable", func(t *testing.T) {
		cov, err := ParseTracefile([]byte(sampleTracefile))
		require.NoError(t, err)

		out := WriteTracefile(cov)

		reparsed, err := ParseTracefile(out)
		require.NoError(t, err)
		assert.Equal(t, string(out), string(WriteTracefile(reparsed)))
	})

	t.Run("sections are path ordered", func(t *testing.T) {
		cov := m.Coverage{}
		cov.File(m.Path("/z.c")).Lines[1] = 1
		cov.File(m.Path("/a.c")).Lines[1] = 1

		out := string(WriteTracefile(cov))
		assert.Less(t, strings.Index(out, "SF:/a.c"), strings.Index(out, "SF:/z.c"))
	})

	t.Run("summaries match the records", func(t *testing.T) {
		cov, err := ParseTracefile([]byte(sampleTracefile))
		require.NoError(t, err)

		out := string(WriteTracefile(cov))
		assert.Contains(t, out, "LF:4\nLH:2\n")
		assert.Contains(t, out, "FNF:2\nFNH:1\n")
	})
}
