// Package receipt records what an install put on disk, so re-installs can
// clean up after themselves and uninstall knows what to remove.
package receipt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is written into every receipt.
const SchemaVersion = 1

// State is the outcome of the install a receipt describes.
type State string

const (
	StateInstalled          State = "installed"
	StateVerificationFailed State = "verification_failed"
)

// ErrNotInstalled is returned by Load when no receipt exists for a formula.
var ErrNotInstalled = errors.New("formula is not installed")

// File is one installed file.
type File struct {
	Path   string      `yaml:"path"`
	Target string      `yaml:"target"`
	SHA256 string      `yaml:"sha256"`
	Mode   os.FileMode `yaml:"mode"`
	Size   int64       `yaml:"size"`
}

// Receipt describes one installed formula.
type Receipt struct {
	Version        int       `yaml:"version"`
	ID             string    `yaml:"id"`
	Formula        string    `yaml:"formula"`
	FormulaVersion string    `yaml:"formula_version"`
	SHA256         string    `yaml:"sha256"`
	InstalledAt    time.Time `yaml:"installed_at"`
	State          State     `yaml:"state"`
	Files          []File    `yaml:"files"`
}

// New returns a receipt with a fresh ID and no files.
func New(formula, version, checksum string) *Receipt {
	return &Receipt{
		Version:        SchemaVersion,
		ID:             uuid.New().String(),
		Formula:        formula,
		FormulaVersion: version,
		SHA256:         checksum,
		InstalledAt:    time.Now().UTC(),
		State:          StateInstalled,
		Files:          []File{},
	}
}

// Add records an installed file.
func (r *Receipt) Add(f File) {
	r.Files = append(r.Files, f)
}

// Paths returns the recorded file paths, sorted.
func (r *Receipt) Paths() []string {
	paths := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}

// Stale returns the paths recorded in r that are not in keep.
func (r *Receipt) Stale(keep []string) []string {
	set := make(map[string]bool, len(keep))
	for _, p := range keep {
		set[p] = true
	}
	var stale []string
	for _, p := range r.Paths() {
		if !set[p] {
			stale = append(stale, p)
		}
	}
	return stale
}

// Path returns the receipt file location for a formula.
func Path(dir, formula string) string {
	return filepath.Join(dir, formula+".receipt.yaml")
}

// Save writes the receipt to dir atomically.
func (r *Receipt) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create receipt directory: %w", err)
	}

	finalPath := Path(dir, r.Formula)
	tmpPath := finalPath + ".tmp"

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temporary receipt file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename receipt file: %w", err)
	}

	// Sync directory for durability
	df, err := os.Open(dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}

// Load reads the receipt for formula from dir. It returns ErrNotInstalled
// when none exists.
func Load(dir, formula string) (*Receipt, error) {
	data, err := os.ReadFile(Path(dir, formula))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInstalled
		}
		return nil, fmt.Errorf("read receipt file: %w", err)
	}

	var r Receipt
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal receipt: %w", err)
	}
	if r.Version > SchemaVersion {
		return nil, fmt.Errorf("receipt schema version %d is newer than supported version %d", r.Version, SchemaVersion)
	}

	return &r, nil
}

// Remove deletes the receipt for formula. A missing receipt is not an error.
func Remove(dir, formula string) error {
	if err := os.Remove(Path(dir, formula)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove receipt file: %w", err)
	}
	return nil
}
