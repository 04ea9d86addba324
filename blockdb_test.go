package blockdb_test

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/oda/blockdb"
)

func writeDataFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.txt")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

// S1: create + find.
func TestCreateAndFind(t *testing.T) {
	dataPath := writeDataFile(t, "AAAhello\nBBBworld\nCCCfoo\n")
	indexPath := filepath.Join(t.TempDir(), "index.db")

	idx, err := blockdb.BuildFromDataFile(dataPath, indexPath, 3, nil)
	if err != nil {
		t.Fatalf("BuildFromDataFile failed: %v", err)
	}
	defer idx.Close()

	offset, line, err := idx.Find([]byte("BBB"))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if offset != 9 {
		t.Errorf("expected offset 9, got %d", offset)
	}
	if line != "BBBworld" {
		t.Errorf("expected %q, got %q", "BBBworld", line)
	}
}

// S2: duplicate rejection during bulk build.
func TestBuildReportsDuplicates(t *testing.T) {
	dataPath := writeDataFile(t, "KEYone\nKEYtwo\n")
	indexPath := filepath.Join(t.TempDir(), "index.db")

	var duplicates []string
	idx, err := blockdb.BuildFromDataFile(dataPath, indexPath, 3, func(key []byte, line string) {
		duplicates = append(duplicates, line)
	})
	if err != nil {
		t.Fatalf("BuildFromDataFile failed: %v", err)
	}
	defer idx.Close()

	if len(duplicates) != 1 || duplicates[0] != "KEYtwo" {
		t.Fatalf("expected exactly one duplicate (KEYtwo), got %v", duplicates)
	}

	offset, _, err := idx.Find([]byte("KEY"))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if offset != 0 {
		t.Errorf("expected first line's offset 0, got %d", offset)
	}
}

// S3: insert + persistence across reopen.
func TestInsertPersistsAcrossReopen(t *testing.T) {
	dataPath := writeDataFile(t, "AAAhello\nBBBworld\nCCCfoo\n")
	indexPath := filepath.Join(t.TempDir(), "index.db")

	idx, err := blockdb.BuildFromDataFile(dataPath, indexPath, 3, nil)
	if err != nil {
		t.Fatalf("BuildFromDataFile failed: %v", err)
	}

	offset, err := idx.InsertNewRecord("DDDbar")
	if err != nil {
		t.Fatalf("InsertNewRecord failed: %v", err)
	}
	if offset != int64(len("AAAhello\nBBBworld\nCCCfoo\n")) {
		t.Errorf("expected append offset %d, got %d", len("AAAhello\nBBBworld\nCCCfoo\n"), offset)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := blockdb.Open(indexPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close()

	gotOffset, line, err := reopened.Find([]byte("DDD"))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if gotOffset != offset {
		t.Errorf("expected offset %d, got %d", offset, gotOffset)
	}
	if line != "DDDbar" {
		t.Errorf("expected %q, got %q", "DDDbar", line)
	}
}

// S4: range-list.
func TestListRangeScan(t *testing.T) {
	dataPath := writeDataFile(t, "AAAhello\nBBBworld\nCCCfoo\n")
	indexPath := filepath.Join(t.TempDir(), "index.db")

	idx, err := blockdb.BuildFromDataFile(dataPath, indexPath, 3, nil)
	if err != nil {
		t.Fatalf("BuildFromDataFile failed: %v", err)
	}
	defer idx.Close()

	for _, rec := range []string{"AABextra", "BBAextra", "DDDextra"} {
		if _, err := idx.InsertNewRecord(rec); err != nil {
			t.Fatalf("InsertNewRecord(%s) failed: %v", rec, err)
		}
	}

	var lines []string
	err = idx.List([]byte("BBA"), 3, func(offset int64, line string) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []string{"BBAextra", "BBBworld", "CCCfoo"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("position %d: got %q want %q", i, lines[i], w)
		}
	}
}

// S5: split + root promotion, keySize=1, M=113.
func TestSplitAndRootPromotionThroughIndex(t *testing.T) {
	dataPath := writeDataFile(t, "")
	indexPath := filepath.Join(t.TempDir(), "index.db")

	idx, err := blockdb.Create(dataPath, indexPath, 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer idx.Close()

	if idx.Height() != 0 {
		t.Fatalf("expected initial height 0, got %d", idx.Height())
	}

	for i := 0; i < 113; i++ {
		rec := fmt.Sprintf("%c-%d", byte('A'+i%26), i)
		if _, err := idx.InsertNewRecord(string(byte(i)) + rec); err != nil {
			t.Fatalf("InsertNewRecord %d failed: %v", i, err)
		}
	}
	if idx.Height() != 1 {
		t.Fatalf("expected height 1 after split, got %d", idx.Height())
	}
}

// S6: reopen after close with many keys.
func TestReopenWithManyKeys(t *testing.T) {
	const n = 2000

	var lines string
	keys := make([]string, n)
	rng := rand.New(rand.NewSource(1))
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		var k string
		for {
			b := make([]byte, 8)
			for j := range b {
				b[j] = byte('a' + rng.Intn(26))
			}
			k = string(b)
			if !seen[k] {
				seen[k] = true
				break
			}
		}
		keys[i] = k
		lines += k + fmt.Sprintf("-%d\n", i)
	}

	dataPath := writeDataFile(t, lines)
	indexPath := filepath.Join(t.TempDir(), "index.db")

	idx, err := blockdb.BuildFromDataFile(dataPath, indexPath, 8, func(key []byte, line string) {
		t.Fatalf("unexpected duplicate: %s", line)
	})
	if err != nil {
		t.Fatalf("BuildFromDataFile failed: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := blockdb.Open(indexPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close()

	for _, k := range keys {
		if _, _, err := reopened.Find([]byte(k)); err != nil {
			t.Fatalf("Find(%s) failed: %v", k, err)
		}
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var got []string
	err = reopened.List([]byte(sorted[0]), n, func(offset int64, line string) error {
		got = append(got, line[:8])
		return nil
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d entries, got %d", n, len(got))
	}
	for i, k := range sorted {
		if got[i] != k {
			t.Fatalf("position %d: got %q want %q", i, got[i], k)
		}
	}
}

// Duplicate insert via InsertNewRecord leaves the index unchanged.
func TestInsertNewRecordRejectsDuplicate(t *testing.T) {
	dataPath := writeDataFile(t, "AAAhello\n")
	indexPath := filepath.Join(t.TempDir(), "index.db")

	idx, err := blockdb.BuildFromDataFile(dataPath, indexPath, 3, nil)
	if err != nil {
		t.Fatalf("BuildFromDataFile failed: %v", err)
	}
	defer idx.Close()

	_, err = idx.InsertNewRecord("AAAduplicate")
	if !blockdb.Is(err, blockdb.DuplicateKey) {
		t.Fatalf("expected DuplicateKey error, got %v", err)
	}

	offset, line, err := idx.Find([]byte("AAA"))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if offset != 0 || line != "AAAhello" {
		t.Errorf("expected unchanged entry AAAhello@0, got %q@%d", line, offset)
	}
}

// Find on a key never inserted reports ErrNotFound.
func TestFindMissingKey(t *testing.T) {
	dataPath := writeDataFile(t, "AAAhello\n")
	indexPath := filepath.Join(t.TempDir(), "index.db")

	idx, err := blockdb.BuildFromDataFile(dataPath, indexPath, 3, nil)
	if err != nil {
		t.Fatalf("BuildFromDataFile failed: %v", err)
	}
	defer idx.Close()

	_, _, err = idx.Find([]byte("ZZZ"))
	if !blockdb.Is(err, blockdb.NotFound) {
		t.Fatalf("expected NotFound error, got %v", err)
	}
}
