package adapter

import (
	"os"
	"path/filepath"
	"testing"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()

	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll(%s) error = %v", path, err)
	}
}

func TestLocalCorpusFSAdapter_ListQueue(t *testing.T) {
	t.Run("single instance layout", func(t *testing.T) {
		adapter := NewLocalCorpusFSAdapter()

		root := t.TempDir()
		queue := filepath.Join(root, "queue")
		mustMkdir(t, queue)
		writeTestFile(t, filepath.Join(queue, "id:000001,orig:seed"), "b")
		writeTestFile(t, filepath.Join(queue, "id:000000,orig:seed"), "a")

		cases, err := adapter.ListQueue(m.Path(root))
		if err != nil {
			t.Fatalf("ListQueue() error = %v", err)
		}

		if len(cases) != 2 {
			t.Fatalf("ListQueue() returned %d cases, want 2", len(cases))
		}

		if cases[0].ID >= cases[1].ID {
			t.Fatalf("ListQueue() not sorted: %s before %s", cases[0].ID, cases[1].ID)
		}

		for i, tc := range cases {
			if tc.Order != i {
				t.Fatalf("case %s Order = %d, want %d", tc.ID, tc.Order, i)
			}
		}
	})

	t.Run("multi instance layout", func(t *testing.T) {
		adapter := NewLocalCorpusFSAdapter()

		root := t.TempDir()
		for _, instance := range []string{"fuzzer02", "fuzzer01"} {
			queue := filepath.Join(root, instance, "queue")
			mustMkdir(t, queue)
			writeTestFile(t, filepath.Join(queue, "id:000000,orig:seed"), instance)
		}

		cases, err := adapter.ListQueue(m.Path(root))
		if err != nil {
			t.Fatalf("ListQueue() error = %v", err)
		}

		if len(cases) != 2 {
			t.Fatalf("ListQueue() returned %d cases, want 2", len(cases))
		}

		if cases[0].Instance != "fuzzer01" || cases[1].Instance != "fuzzer02" {
			t.Fatalf("instances not sorted: %s, %s", cases[0].Instance, cases[1].Instance)
		}
	})

	t.Run("metadata files are excluded", func(t *testing.T) {
		adapter := NewLocalCorpusFSAdapter()

		root := t.TempDir()
		queue := filepath.Join(root, "queue")
		mustMkdir(t, queue)
		writeTestFile(t, filepath.Join(queue, "id:000000,orig:seed"), "a")
		writeTestFile(t, filepath.Join(queue, ".state"), "")
		writeTestFile(t, filepath.Join(queue, "README.txt"), "not a test case")
		mustMkdir(t, filepath.Join(queue, ".state_dir"))

		cases, err := adapter.ListQueue(m.Path(root))
		if err != nil {
			t.Fatalf("ListQueue() error = %v", err)
		}

		if len(cases) != 1 {
			t.Fatalf("ListQueue() returned %d cases, want 1", len(cases))
		}
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		adapter := NewLocalCorpusFSAdapter()

		root := t.TempDir()
		queue := filepath.Join(root, "queue")
		mustMkdir(t, queue)

		names := []string{"id:000002", "id:000000", "id:000001"}
		for _, name := range names {
			writeTestFile(t, filepath.Join(queue, name), name)
		}

		first, err := adapter.ListQueue(m.Path(root))
		if err != nil {
			t.Fatalf("ListQueue() error = %v", err)
		}

		second, err := adapter.ListQueue(m.Path(root))
		if err != nil {
			t.Fatalf("ListQueue() error = %v", err)
		}

		for i := range first {
			if first[i].ID != second[i].ID {
				t.Fatalf("ListQueue() not deterministic at %d: %s vs %s", i, first[i].ID, second[i].ID)
			}
		}
	})

	t.Run("missing queue", func(t *testing.T) {
		adapter := NewLocalCorpusFSAdapter()

		_, err := adapter.ListQueue(m.Path(t.TempDir()))
		if err == nil {
			t.Fatal("ListQueue() expected error for directory without queue")
		}
	})
}

func TestLocalCorpusFSAdapter_InitOutputDir(t *testing.T) {
	t.Run("creates fresh directory", func(t *testing.T) {
		adapter := NewLocalCorpusFSAdapter()
		target := filepath.Join(t.TempDir(), "cov")

		if err := adapter.InitOutputDir(m.Path(target), false); err != nil {
			t.Fatalf("InitOutputDir() error = %v", err)
		}

		if !adapter.DirExists(m.Path(target)) {
			t.Fatal("InitOutputDir() did not create the directory")
		}
	})

	t.Run("refuses existing directory without overwrite", func(t *testing.T) {
		adapter := NewLocalCorpusFSAdapter()
		target := t.TempDir()

		if err := adapter.InitOutputDir(m.Path(target), false); err == nil {
			t.Fatal("InitOutputDir() expected error for existing directory")
		}
	})

	t.Run("overwrite clears previous contents", func(t *testing.T) {
		adapter := NewLocalCorpusFSAdapter()
		target := t.TempDir()
		stale := filepath.Join(target, "stale.lcov")
		writeTestFile(t, stale, "old")

		if err := adapter.InitOutputDir(m.Path(target), true); err != nil {
			t.Fatalf("InitOutputDir() error = %v", err)
		}

		if adapter.FileExists(m.Path(stale)) {
			t.Fatal("InitOutputDir() kept stale file under overwrite")
		}
	})
}

func TestLocalCorpusFSAdapter_WalkSuffix(t *testing.T) {
	adapter := NewLocalCorpusFSAdapter()

	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	mustMkdir(t, nested)
	writeTestFile(t, filepath.Join(nested, "main.gcda"), "")
	writeTestFile(t, filepath.Join(root, "other.txt"), "")

	found, err := adapter.WalkSuffix(m.Path(root), ".gcda")
	if err != nil {
		t.Fatalf("WalkSuffix() error = %v", err)
	}

	if len(found) != 1 {
		t.Fatalf("WalkSuffix() found %d files, want 1", len(found))
	}

	if filepath.Base(string(found[0])) != "main.gcda" {
		t.Fatalf("WalkSuffix() found %s, want main.gcda", found[0])
	}
}
