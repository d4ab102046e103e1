package receipt

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()

	r := New("libtsl-dev", "1.2.3", "abc")
	r.Add(File{Path: "/opt/bin/select_flavor.sh", Target: "bin", SHA256: "x", Mode: 0755, Size: 10})
	r.Add(File{Path: "/opt/lib/tsl.tar.gz", Target: "lib", SHA256: "y", Mode: 0644, Size: 20})

	if _, err := uuid.Parse(r.ID); err != nil {
		t.Errorf("ID is not a UUID: %v", err)
	}

	if err := r.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(Path(dir, "libtsl-dev") + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	got, err := Load(dir, "libtsl-dev")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ID != r.ID || got.FormulaVersion != "1.2.3" || got.State != StateInstalled {
		t.Errorf("Load() = %+v", got)
	}
	if !reflect.DeepEqual(got.Files, r.Files) {
		t.Errorf("Files = %+v, want %+v", got.Files, r.Files)
	}
	if !got.InstalledAt.Equal(r.InstalledAt) {
		t.Errorf("InstalledAt = %v, want %v", got.InstalledAt, r.InstalledAt)
	}
}

func TestLoad_NotInstalled(t *testing.T) {
	if _, err := Load(t.TempDir(), "libtsl-dev"); err != ErrNotInstalled {
		t.Errorf("Load() error = %v, want ErrNotInstalled", err)
	}
}

func TestLoad_NewerSchema(t *testing.T) {
	dir := t.TempDir()
	data := []byte("version: 99\nformula: libtsl-dev\n")
	if err := os.WriteFile(Path(dir, "libtsl-dev"), data, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, "libtsl-dev"); err == nil {
		t.Error("expected error for newer schema version")
	}
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir, "libtsl-dev"), []byte("files: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, "libtsl-dev"); err == nil {
		t.Error("expected error for corrupt receipt")
	}
}

func TestStale(t *testing.T) {
	r := New("libtsl-dev", "1", "x")
	r.Add(File{Path: "/b/old.sh"})
	r.Add(File{Path: "/b/keep.sh"})
	r.Add(File{Path: "/l/old.tar.gz"})

	got := r.Stale([]string{"/b/keep.sh", "/b/new.sh"})
	want := []string{"/b/old.sh", "/l/old.tar.gz"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Stale() = %v, want %v", got, want)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	r := New("libtsl-dev", "1", "x")
	if err := r.Save(dir); err != nil {
		t.Fatal(err)
	}
	if err := Remove(dir, "libtsl-dev"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "libtsl-dev.receipt.yaml")); !os.IsNotExist(err) {
		t.Error("receipt still exists")
	}
	if err := Remove(dir, "libtsl-dev"); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}
}
