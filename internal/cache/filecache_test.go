package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/miruml/agent/internal/fsutil"
)

func newTestCache(t *testing.T, capacity int) *FileCache[InstanceKey, string] {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "instances")
	fc, err := New[InstanceKey, string](dir, capacity, NeverDirty[InstanceKey, string], ParseInstanceKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fc
}

func TestWrite_ThenRead_RoundTrips(t *testing.T) {
	fc := newTestCache(t, 10)
	k := InstanceKey{ID: "a"}

	if err := fc.Write(k, "v1", false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, ok := fc.Read(k)
	if !ok {
		t.Fatal("expected Read to find the entry")
	}
	if got != "v1" {
		t.Errorf("Read = %q, want v1", got)
	}
}

func TestWrite_MarkDirtyTrue_StaysDirtyUntilFlushed(t *testing.T) {
	fc := newTestCache(t, 10)
	k := InstanceKey{ID: "a"}

	if err := fc.Write(k, "v1", true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	dirty := fc.DirtyEntries()
	if len(dirty) != 1 || dirty[0].Key != k {
		t.Fatalf("expected one dirty entry for %v, got %v", k, dirty)
	}
}

func TestMarkClean_NoopIfValueChanged(t *testing.T) {
	fc := newTestCache(t, 10)
	k := InstanceKey{ID: "a"}

	if err := fc.Write(k, "v1", true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Simulate a race: the value changes after the flush snapshot was taken.
	if err := fc.Write(k, "v2", true); err != nil {
		t.Fatalf("Write: %v", err)
	}

	changed, err := fc.MarkClean(k, "v1")
	if err != nil {
		t.Fatalf("MarkClean: %v", err)
	}
	if changed {
		t.Error("expected MarkClean to no-op when current value differs from snapshot")
	}
	dirty := fc.DirtyEntries()
	if len(dirty) != 1 {
		t.Errorf("expected entry to remain dirty, got %d dirty entries", len(dirty))
	}
}

func TestMarkClean_ClearsDirtyWhenValueMatches(t *testing.T) {
	fc := newTestCache(t, 10)
	k := InstanceKey{ID: "a"}

	if err := fc.Write(k, "v1", true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	changed, err := fc.MarkClean(k, "v1")
	if err != nil {
		t.Fatalf("MarkClean: %v", err)
	}
	if !changed {
		t.Fatal("expected MarkClean to succeed")
	}
	if len(fc.DirtyEntries()) != 0 {
		t.Error("expected no dirty entries after MarkClean")
	}
}

func TestCapacity_EvictsCleanEntriesOnly(t *testing.T) {
	fc := newTestCache(t, 2)

	if err := fc.Write(InstanceKey{ID: "a"}, "va", false); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := fc.Write(InstanceKey{ID: "b"}, "vb", false); err != nil {
		t.Fatalf("Write b: %v", err)
	}
	time.Sleep(time.Millisecond)
	// Touch a so it becomes more recently accessed than b.
	if _, ok := fc.Read(InstanceKey{ID: "a"}); !ok {
		t.Fatal("expected a to be present")
	}
	time.Sleep(time.Millisecond)

	if err := fc.Write(InstanceKey{ID: "c"}, "vc", false); err != nil {
		t.Fatalf("Write c: %v", err)
	}

	if fc.Size() != 2 {
		t.Fatalf("expected capacity to be respected, got size %d", fc.Size())
	}
	if _, ok := fc.Read(InstanceKey{ID: "b"}); ok {
		t.Error("expected b (least recently accessed clean entry) to be evicted")
	}
	if _, ok := fc.Read(InstanceKey{ID: "a"}); !ok {
		t.Error("expected a to survive eviction")
	}
	if _, ok := fc.Read(InstanceKey{ID: "c"}); !ok {
		t.Error("expected newly written c to be present")
	}
}

func TestCapacity_DirtyEntriesExemptFromEviction(t *testing.T) {
	fc := newTestCache(t, 1)

	if err := fc.Write(InstanceKey{ID: "a"}, "va", true); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := fc.Write(InstanceKey{ID: "b"}, "vb", true); err != nil {
		t.Fatalf("Write b: %v", err)
	}

	if fc.Size() != 2 {
		t.Fatalf("expected cache to exceed capacity when all entries are dirty, got size %d", fc.Size())
	}
}

func TestNew_ReloadsFromDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "instances")
	fc, err := New[InstanceKey, string](dir, 10, NeverDirty[InstanceKey, string], ParseInstanceKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fc.Write(InstanceKey{ID: "a"}, "persisted", true); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reopened, err := New[InstanceKey, string](dir, 10, NeverDirty[InstanceKey, string], ParseInstanceKey)
	if err != nil {
		t.Fatalf("reopen New: %v", err)
	}
	got, ok := reopened.Read(InstanceKey{ID: "a"})
	if !ok || got != "persisted" {
		t.Fatalf("expected reload to recover persisted entry, got %q, %v", got, ok)
	}
	dirty := reopened.DirtyEntries()
	if len(dirty) != 1 {
		t.Errorf("expected reloaded entry to still be dirty, got %d", len(dirty))
	}
}

func TestNew_QuarantinesCorruptedChecksum(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "instances")
	fc, err := New[InstanceKey, string](dir, 10, NeverDirty[InstanceKey, string], ParseInstanceKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	k := InstanceKey{ID: "a"}
	if err := fc.Write(k, "v1", false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, k.Render())
	data, err := fsutil.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	corrupted := append([]byte{}, data...)
	corrupted[len(corrupted)-2] ^= 0xFF
	if err := fsutil.WriteFileAtomic(path, corrupted); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	reopened, err := New[InstanceKey, string](dir, 10, NeverDirty[InstanceKey, string], ParseInstanceKey)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Size() != 0 {
		t.Errorf("expected checksum-mismatched file to be quarantined, not loaded, size=%d", reopened.Size())
	}
}

func TestNew_QuarantinesUndecodableFilename(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "schemas")
	fc, err := New[SchemaKey, string](dir, 10, NeverDirty[SchemaKey, string], ParseSchemaKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// SchemaKey requires a SEP-joined pair; write a garbage file directly.
	badPath := filepath.Join(dir, "not-a-valid-key")
	if err := fsutil.WriteFileAtomic(badPath, []byte("garbage")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	reopened, err := New[SchemaKey, string](dir, 10, NeverDirty[SchemaKey, string], ParseSchemaKey)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Size() != 0 {
		t.Errorf("expected undecodable file to be quarantined, not loaded, size=%d", reopened.Size())
	}
	_ = fc
}

func TestShutdown_FlushesAndClosesOperations(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "instances")
	fc, err := New[InstanceKey, string](dir, 10, AlwaysDirty[InstanceKey, string], ParseInstanceKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	k := InstanceKey{ID: "a"}
	if err := fc.Write(k, "v1", true); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := fc.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, ok := fc.Read(k); ok {
		t.Error("expected Read to fail after Shutdown")
	}
	if err := fc.Write(k, "v2", false); err != ErrClosed {
		t.Errorf("Write after Shutdown = %v, want ErrClosed", err)
	}
	if _, err := fc.MarkClean(k, "v1"); err != ErrClosed {
		t.Errorf("MarkClean after Shutdown = %v, want ErrClosed", err)
	}
	if entries := fc.DirtyEntries(); entries != nil {
		t.Errorf("DirtyEntries after Shutdown = %v, want nil", entries)
	}
	// Shutdown must be idempotent.
	if err := fc.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}

	reopened, err := New[InstanceKey, string](dir, 10, AlwaysDirty[InstanceKey, string], ParseInstanceKey)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.Read(k)
	if !ok || got != "v1" {
		t.Errorf("expected Shutdown to have flushed the dirty entry to disk, got %q, ok=%v", got, ok)
	}
}
