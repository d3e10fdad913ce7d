package eventstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestIndex(t *testing.T, cfg Config, metadata map[string]string) *Index {
	t.Helper()
	dir := t.TempDir()
	x := NewIndex(filepath.Join(dir, "test.index"), cfg)
	if err := x.Open(metadata); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { x.Close() })
	return x
}

func TestIndexAddGet(t *testing.T) {
	x := openTestIndex(t, Config{}, nil)

	for i := uint32(1); i <= 3; i++ {
		if _, ok, err := x.Add(Entry{Number: i, Position: uint64(i * 10), Size: 5, Partition: 0}, nil); err != nil || !ok {
			t.Fatalf("Add(%d): ok=%v err=%v", i, ok, err)
		}
	}

	e, ok, err := x.Get(1)
	if err != nil || !ok {
		t.Fatalf("Get(1): ok=%v err=%v", ok, err)
	}
	if e.Number != 1 || e.Position != 10 {
		t.Fatalf("got %+v", e)
	}

	last, ok, err := x.Get(-1)
	if err != nil || !ok {
		t.Fatalf("Get(-1): ok=%v err=%v", ok, err)
	}
	if last.Number != 3 {
		t.Fatalf("got %+v, want Number=3", last)
	}
}

func TestIndexGetOutOfRange(t *testing.T) {
	x := openTestIndex(t, Config{}, nil)
	x.Add(Entry{Number: 1, Position: 0, Size: 1, Partition: 0}, nil)

	if _, ok, _ := x.Get(0); ok {
		t.Fatal("Get(0) should be out of range")
	}
	if _, ok, _ := x.Get(2); ok {
		t.Fatal("Get(2) should be out of range with only one entry")
	}
	if _, ok, _ := x.Get(-2); ok {
		t.Fatal("Get(-2) should be out of range with only one entry")
	}
}

func TestIndexAddEncodedValidation(t *testing.T) {
	x := openTestIndex(t, Config{}, nil)

	if _, _, err := x.AddEncoded([]byte("short"), nil); !errors.Is(err, ErrInvalidEntrySize) {
		t.Fatalf("got %v, want ErrInvalidEntrySize", err)
	}

	zero := Entry{Number: 0, Position: 1, Size: 1, Partition: 0}.encode()
	if _, _, err := x.AddEncoded(zero[:], nil); !errors.Is(err, ErrWrongEntryObject) {
		t.Fatalf("got %v, want ErrWrongEntryObject", err)
	}
}

func TestIndexLastEntryEmpty(t *testing.T) {
	x := openTestIndex(t, Config{}, nil)
	if _, ok, err := x.LastEntry(); err != nil || ok {
		t.Fatalf("LastEntry on empty index: ok=%v err=%v", ok, err)
	}
}

func TestIndexRangeInclusive(t *testing.T) {
	x := openTestIndex(t, Config{}, nil)
	for i := uint32(1); i <= 5; i++ {
		x.Add(Entry{Number: i, Position: 0, Size: 1, Partition: 0}, nil)
	}

	entries, ok, err := x.Range(2, 4)
	if err != nil || !ok {
		t.Fatalf("Range: ok=%v err=%v", ok, err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Number != 2 || entries[2].Number != 4 {
		t.Fatalf("got %+v", entries)
	}
}

func TestIndexRangeNegativeEndpoints(t *testing.T) {
	x := openTestIndex(t, Config{}, nil)
	for i := uint32(1); i <= 5; i++ {
		x.Add(Entry{Number: i, Position: 0, Size: 1, Partition: 0}, nil)
	}

	entries, ok, err := x.Range(-2, -1)
	if err != nil || !ok {
		t.Fatalf("Range: ok=%v err=%v", ok, err)
	}
	if len(entries) != 2 || entries[0].Number != 4 || entries[1].Number != 5 {
		t.Fatalf("got %+v", entries)
	}
}

func TestIndexFind(t *testing.T) {
	x := openTestIndex(t, Config{}, nil)
	numbers := []uint32{10, 20, 20, 30, 50}
	for _, n := range numbers {
		x.Add(Entry{Number: n, Position: 0, Size: 1, Partition: 0}, nil)
	}

	if slot, e, ok, err := x.Find(30, false); err != nil || !ok || e.Number != 30 || slot != 4 {
		t.Fatalf("Find(30, false): slot=%d e=%+v ok=%v err=%v", slot, e, ok, err)
	}

	if slot, e, ok, err := x.Find(25, false); err != nil || !ok || e.Number != 20 || slot != 3 {
		t.Fatalf("Find(25, false) floor: slot=%d e=%+v ok=%v err=%v", slot, e, ok, err)
	}

	if slot, e, ok, err := x.Find(25, true); err != nil || !ok || e.Number != 30 || slot != 4 {
		t.Fatalf("Find(25, true) ceil: slot=%d e=%+v ok=%v err=%v", slot, e, ok, err)
	}

	if slot, _, ok, err := x.Find(5, false); err != nil || ok || slot != 0 {
		t.Fatalf("Find(5, false) below all: slot=%d ok=%v err=%v", slot, ok, err)
	}

	if slot, _, ok, err := x.Find(100, true); err != nil || ok || slot != 0 {
		t.Fatalf("Find(100, true) above all: slot=%d ok=%v err=%v", slot, ok, err)
	}

	if slot, e, ok, _ := x.Find(20, false); !ok || e.Number != 20 || slot != 3 {
		t.Fatalf("Find(20, false) exact with duplicates: slot=%d e=%+v ok=%v", slot, e, ok)
	}
}

func TestIndexTruncate(t *testing.T) {
	x := openTestIndex(t, Config{}, nil)
	for i := uint32(1); i <= 5; i++ {
		x.Add(Entry{Number: i, Position: 0, Size: 1, Partition: 0}, nil)
	}

	if err := x.Truncate(2); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if got := x.Length(); got != 2 {
		t.Fatalf("Length() = %d, want 2", got)
	}
	if _, ok, _ := x.Get(3); ok {
		t.Fatal("slot 3 should be gone after Truncate(2)")
	}
}

func TestIndexReopenMetadataMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.index")

	x1 := NewIndex(path, Config{})
	if err := x1.Open(map[string]string{"matcher": "a"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	x1.Close()

	x2 := NewIndex(path, Config{})
	err := x2.Open(map[string]string{"matcher": "b"})
	if !errors.Is(err, ErrIndexMetadataMismatch) {
		t.Fatalf("got %v, want ErrIndexMetadataMismatch", err)
	}
}

func TestIndexReopenMetadataMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.index")
	meta := map[string]string{"matcher": "same"}

	x1 := NewIndex(path, Config{})
	if err := x1.Open(meta); err != nil {
		t.Fatalf("Open: %v", err)
	}
	x1.Add(Entry{Number: 1, Position: 0, Size: 1, Partition: 0}, nil)
	x1.Close()

	x2 := NewIndex(path, Config{})
	if err := x2.Open(meta); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer x2.Close()

	if got := x2.Length(); got != 1 {
		t.Fatalf("Length() = %d, want 1 after reopen", got)
	}
}

func TestIndexAllRestartable(t *testing.T) {
	x := openTestIndex(t, Config{}, nil)
	for i := uint32(1); i <= 3; i++ {
		x.Add(Entry{Number: i, Position: 0, Size: 1, Partition: 0}, nil)
	}

	for pass := 0; pass < 2; pass++ {
		var count int
		for range x.All() {
			count++
		}
		if count != 3 {
			t.Fatalf("pass %d: got %d entries, want 3", pass, count)
		}
	}
}

func TestIndexDestroyRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.index")
	x := NewIndex(path, Config{})
	if err := x.Open(nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := x.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, stat err = %v", err)
	}
}
