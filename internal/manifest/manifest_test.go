package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestOwnerKey(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"b", "a"}, "a,b"},
		{[]string{"a", " a ", "b", ""}, "a,b"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := OwnerKey(tt.in); got != tt.want {
			t.Errorf("OwnerKey(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidKindAndLabel(t *testing.T) {
	if !ValidKind(KindChunkSet) {
		t.Error("ValidKind(chunk_set) = false, want true")
	}
	if ValidKind("embedding") {
		t.Error("ValidKind(embedding) = true, want false")
	}
	if !ValidLabel(LabelTextbook) || ValidLabel("novel") {
		t.Error("ValidLabel mismatch")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"./notes/ch1.txt", "notes/ch1.txt"},
		{"notes//week1/../ch1.txt", "notes/ch1.txt"},
		{" book.pdf ", "book.pdf"},
		{".", ""},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestListDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.txt", "beta")
	writeFile(t, root, "a/ch1.txt", "alpha")
	writeFile(t, root, ".hidden/secret.txt", "x")
	writeFile(t, root, ".DS_Store", "x")
	writeFile(t, root, "scratch.tmp", "x")

	files, err := ListDir(context.Background(), root, []string{"*.tmp"})
	if err != nil {
		t.Fatalf("ListDir() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ListDir() returned %d files, want 2: %+v", len(files), files)
	}
	if files[0].Path != "a/ch1.txt" || files[1].Path != "b.txt" {
		t.Errorf("paths = [%q %q], want [a/ch1.txt b.txt]", files[0].Path, files[1].Path)
	}
	sum := sha256.Sum256([]byte("beta"))
	if want := hex.EncodeToString(sum[:]); files[1].Fingerprint != want {
		t.Errorf("Fingerprint = %q, want %q", files[1].Fingerprint, want)
	}
	if files[1].Size != 4 {
		t.Errorf("Size = %d, want 4", files[1].Size)
	}
}

func TestListDir_SameContentSameFingerprint(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "one.txt", "same bytes")
	writeFile(t, root, "two.txt", "same bytes")
	writeFile(t, root, "three.txt", "other bytes")

	files, err := ListDir(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("ListDir() error = %v", err)
	}
	byPath := map[string]string{}
	for _, f := range files {
		byPath[f.Path] = f.Fingerprint
	}
	if byPath["one.txt"] != byPath["two.txt"] {
		t.Error("identical content produced different fingerprints")
	}
	if byPath["one.txt"] == byPath["three.txt"] {
		t.Error("different content produced equal fingerprints")
	}
}

func TestListDir_NotADirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file.txt", "x")
	if _, err := ListDir(context.Background(), filepath.Join(root, "file.txt"), nil); err == nil {
		t.Error("ListDir(file) expected error, got nil")
	}
}

func TestListDir_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ListDir(ctx, root, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("ListDir() error = %v, want context.Canceled", err)
	}
}

func TestComputeDiff(t *testing.T) {
	known := []SourceRecord{
		{ID: "S1", Path: "same.txt", Fingerprint: "f1", Status: StatusProcessed},
		{ID: "S2", Path: "edited.txt", Fingerprint: "f2", Status: StatusProcessed},
		{ID: "S3", Path: "gone.txt", Fingerprint: "f3", Status: StatusProcessed},
		{ID: "S4", Path: "back.txt", Fingerprint: "f4", Status: StatusStale, Missing: true},
		{ID: "S5", Path: "long-gone.txt", Fingerprint: "f5", Status: StatusStale, Missing: true},
	}
	current := []FileState{
		{Path: "back.txt", Fingerprint: "f4"},
		{Path: "broken.txt", Err: errors.New("permission denied")},
		{Path: "edited.txt", Fingerprint: "f2b"},
		{Path: "new.txt", Fingerprint: "f6"},
		{Path: "same.txt", Fingerprint: "f1"},
	}

	d := ComputeDiff(known, current)

	if len(d.Added) != 2 {
		t.Fatalf("Added = %d, want 2", len(d.Added))
	}
	if d.Added[0].File.Path != "back.txt" || d.Added[0].Existing == nil || d.Added[0].Existing.ID != "S4" {
		t.Errorf("Added[0] = %+v, want reappeared back.txt keeping S4", d.Added[0])
	}
	if d.Added[1].File.Path != "new.txt" || d.Added[1].Existing != nil {
		t.Errorf("Added[1] = %+v, want brand new new.txt", d.Added[1])
	}
	if len(d.Changed) != 1 || d.Changed[0].Existing.ID != "S2" {
		t.Errorf("Changed = %+v, want [S2]", d.Changed)
	}
	if len(d.Removed) != 1 || d.Removed[0].ID != "S3" {
		t.Errorf("Removed = %+v, want [S3] (S5 already missing)", d.Removed)
	}
	if len(d.Errored) != 1 || d.Errored[0].File.Path != "broken.txt" {
		t.Errorf("Errored = %+v, want [broken.txt]", d.Errored)
	}
	if d.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1", d.Unchanged)
	}
}

func TestComputeDiff_RenameIsRemovePlusAdd(t *testing.T) {
	known := []SourceRecord{{ID: "S1", Path: "old.txt", Fingerprint: "f1", Status: StatusProcessed}}
	current := []FileState{{Path: "new.txt", Fingerprint: "f1"}}

	d := ComputeDiff(known, current)

	if len(d.Removed) != 1 || d.Removed[0].ID != "S1" {
		t.Errorf("Removed = %+v, want [S1]", d.Removed)
	}
	if len(d.Added) != 1 || d.Added[0].Existing != nil {
		t.Errorf("Added = %+v, want one new record", d.Added)
	}
}

func TestComputeDiff_RepeatedErrorIsNotNew(t *testing.T) {
	known := []SourceRecord{{ID: "S1", Path: "bad.bin", Status: StatusError, Error: "permission denied"}}
	current := []FileState{{Path: "bad.bin", Err: errors.New("permission denied")}}

	d := ComputeDiff(known, current)
	if !d.Empty() {
		t.Errorf("diff = %+v, want empty", d)
	}
}

func TestComputeDiff_UnreadableDirIsNotRemoval(t *testing.T) {
	readErr := errors.New("open notes: permission denied")
	known := []SourceRecord{
		{ID: "S1", Path: "notes/ch1.txt", Fingerprint: "f1", Status: StatusProcessed, ModifiedAt: 42},
		{ID: "S2", Path: "notes/deep/ch2.txt", Fingerprint: "f2", Status: StatusProcessed},
		{ID: "S3", Path: "notesextra.txt", Fingerprint: "f3", Status: StatusProcessed},
		{ID: "S4", Path: "notes/ch3.txt", Status: StatusError, Error: readErr.Error()},
	}
	current := []FileState{{Path: "notes", Err: readErr, Dir: true}}

	d := ComputeDiff(known, current)

	if len(d.Removed) != 1 || d.Removed[0].ID != "S3" {
		t.Errorf("Removed = %+v, want only [S3] outside the unreadable directory", d.Removed)
	}
	if len(d.Errored) != 2 {
		t.Fatalf("Errored = %+v, want S1 and S2", d.Errored)
	}
	for i, want := range []string{"S1", "S2"} {
		c := d.Errored[i]
		if c.Existing == nil || c.Existing.ID != want || c.File.Err != readErr {
			t.Errorf("Errored[%d] = %+v, want %s with the directory error", i, c, want)
		}
	}
	if d.Errored[0].File.ModifiedAt != 42 {
		t.Errorf("ModifiedAt = %d, want the recorded 42", d.Errored[0].File.ModifiedAt)
	}
	if d.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1 (S4 already records the failure)", d.Unchanged)
	}
}

func TestListDir_UnreadableDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not apply to root")
	}
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "locked/b.txt", "beta")
	locked := filepath.Join(root, "locked")
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	files, err := ListDir(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("ListDir() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ListDir() returned %+v, want a.txt and the locked directory", files)
	}
	if dir := files[1]; dir.Path != "locked" || !dir.Dir || dir.Err == nil {
		t.Errorf("files[1] = %+v, want an errored directory entry", dir)
	}
}

func graph(edges map[string][]string) NeighborFunc {
	return func(node string) ([]string, error) {
		return append([]string(nil), edges[node]...), nil
	}
}

func TestWalk(t *testing.T) {
	edges := map[string][]string{
		"src":      {"text", "chunks"},
		"text":     {"chunks"},
		"chunks":   {"coverage"},
		"coverage": {"schedule"},
		"other":    {"unrelated"},
	}

	res, err := Walk([]string{"src"}, graph(edges), 32)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	want := []string{"chunks", "text", "coverage", "schedule"}
	if len(res.Reached) != len(want) {
		t.Fatalf("Reached = %v, want %v", res.Reached, want)
	}
	for i := range want {
		if res.Reached[i] != want[i] {
			t.Errorf("Reached[%d] = %q, want %q", i, res.Reached[i], want[i])
		}
	}
	if res.Depth["schedule"] != 3 {
		t.Errorf("Depth[schedule] = %d, want 3", res.Depth["schedule"])
	}
	if res.Truncated {
		t.Error("Truncated = true, want false")
	}
}

func TestWalk_CycleTerminates(t *testing.T) {
	edges := map[string][]string{
		"src": {"a"},
		"a":   {"b"},
		"b":   {"a", "src"},
	}

	res, err := Walk([]string{"src"}, graph(edges), 100)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(res.Reached) != 2 {
		t.Errorf("Reached = %v, want [a b]", res.Reached)
	}
}

func TestWalk_DepthBound(t *testing.T) {
	edges := map[string][]string{"n0": {"n1"}, "n1": {"n2"}, "n2": {"n3"}}

	res, err := Walk([]string{"n0"}, graph(edges), 2)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(res.Reached) != 2 {
		t.Errorf("Reached = %v, want [n1 n2]", res.Reached)
	}
	if !res.Truncated {
		t.Error("Truncated = false, want true")
	}
}

func TestWalk_NeighborError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Walk([]string{"x"}, func(string) ([]string, error) { return nil, boom }, 3)
	if !errors.Is(err, boom) {
		t.Errorf("Walk() error = %v, want boom", err)
	}
}

func TestEvaluateFreshness(t *testing.T) {
	sources := map[string]SourceRecord{
		"S1": {ID: "S1", Status: StatusProcessed, Fingerprint: "f1"},
		"S2": {ID: "S2", Status: StatusProcessed, Fingerprint: "f2-new"},
		"S3": {ID: "S3", Status: StatusError},
		"S4": {ID: "S4", Status: StatusStale, Missing: true},
		"S5": {ID: "S5", Status: StatusNew, Fingerprint: "f5"},
	}

	tests := []struct {
		name   string
		art    ArtifactRef
		fresh  bool
		reason string
	}{
		{"fresh", ArtifactRef{Fresh: true, Owners: []Owner{{"S1", "f1"}}}, true, ""},
		{"flag cleared", ArtifactRef{Fresh: false, Owners: []Owner{{"S1", "f1"}}}, false, ReasonFlagged},
		{"fingerprint moved", ArtifactRef{Fresh: true, Owners: []Owner{{"S1", "f1"}, {"S2", "f2"}}}, false, ReasonFingerprintChanged},
		{"owner error", ArtifactRef{Fresh: true, Owners: []Owner{{"S3", ""}}}, false, ReasonSourceError},
		{"owner missing", ArtifactRef{Fresh: true, Owners: []Owner{{"S4", ""}}}, false, ReasonSourceMissing},
		{"owner new", ArtifactRef{Fresh: true, Owners: []Owner{{"S5", "f5"}}}, false, ReasonSourceUnprocessed},
		{"owner unknown", ArtifactRef{Fresh: true, Owners: []Owner{{"S9", ""}}}, false, ReasonUnknownSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateFreshness(tt.art, sources)
			if got.Fresh != tt.fresh {
				t.Errorf("Fresh = %v, want %v", got.Fresh, tt.fresh)
			}
			if got.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.reason)
			}
		})
	}
}

func TestKeyLocks_SerializesSameKey(t *testing.T) {
	locks := NewKeyLocks()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("S1")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
	if locks.Len() != 0 {
		t.Errorf("Len() = %d after release, want 0", locks.Len())
	}
}

func TestKeyLocks_IndependentKeys(t *testing.T) {
	locks := NewKeyLocks()
	unlockA := locks.Lock("A")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("B")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Lock(B) blocked while A was held")
	}
}

func TestKeyLocks_LockAll(t *testing.T) {
	locks := NewKeyLocks()
	unlock := locks.LockAll([]string{"b", "a", "b"})
	if locks.Len() != 2 {
		t.Errorf("Len() = %d, want 2", locks.Len())
	}
	unlock()
	if locks.Len() != 0 {
		t.Errorf("Len() = %d after unlock, want 0", locks.Len())
	}
}
