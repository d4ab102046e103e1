package recipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/archive"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/formula"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/logging"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/receipt"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/verify"
)

// DefaultTestTimeout bounds the smoke test when Config leaves it unset.
const DefaultTestTimeout = 30 * time.Second

// Config holds configuration for the installer
type Config struct {
	// BinDir receives executable members
	BinDir string
	// LibDir receives library members
	LibDir string
	// StateDir holds receipts and the install lock
	StateDir string
	// KeyringPath is the OpenPGP keyring used for formulas that declare a signature
	KeyringPath string
	// Rollback removes the installed files when the smoke test fails
	Rollback    bool
	TestTimeout time.Duration
	Logger      logging.Logger
}

// Options tune a single install.
type Options struct {
	// SignaturePath is the local detached signature for formulas that declare one.
	SignaturePath string
	SkipTest      bool
}

// Result describes a finished install.
type Result struct {
	Receipt    *receipt.Receipt
	Verified   []verify.Method
	Removed    []string // stale files from a previous install
	TestOutput string
}

// Installer runs install recipes against one set of target directories.
type Installer struct {
	cfg Config
	log logging.Logger
}

// NewInstaller creates an installer
func NewInstaller(cfg Config) (*Installer, error) {
	if cfg.BinDir == "" {
		return nil, fmt.Errorf("BinDir is required")
	}
	if cfg.LibDir == "" {
		return nil, fmt.Errorf("LibDir is required")
	}
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("StateDir is required")
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = DefaultTestTimeout
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}

	return &Installer{cfg: cfg, log: log}, nil
}

// Dir returns the directory a target installs into.
func (i *Installer) Dir(t formula.Target) string {
	if t == formula.TargetBin {
		return i.cfg.BinDir
	}
	return i.cfg.LibDir
}

// Install verifies sourcePath against f and stages its payload.
func (i *Installer) Install(ctx context.Context, f *formula.Formula, sourcePath string, opts Options) (*Result, error) {
	lock, err := receipt.AcquireLock(ctx, i.cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("acquire install lock: %w", err)
	}
	defer lock.Release()

	result := &Result{}

	verified, err := i.checkIntegrity(f, sourcePath, opts)
	if err != nil {
		return nil, err
	}
	result.Verified = verified
	i.log.Info("source verified", "formula", f.Name, "methods", verified)

	for _, dir := range []string{i.cfg.BinDir, i.cfg.LibDir} {
		if err := requireDir(dir); err != nil {
			return nil, &FilesystemError{Op: "stat", Path: dir, Err: err}
		}
	}

	a, err := archive.Open(sourcePath)
	if err != nil {
		return nil, &FilesystemError{Op: "open archive", Path: sourcePath, Err: err}
	}

	steps := f.Steps()
	members := make([]archive.Member, len(steps))
	for n, step := range steps {
		m, err := a.Lookup(step.Member)
		if err != nil {
			return nil, &FilesystemError{Op: "lookup", Path: step.Member, Err: err}
		}
		members[n] = m
	}

	previous, err := receipt.Load(i.cfg.StateDir, f.Name)
	if err != nil && !errors.Is(err, receipt.ErrNotInstalled) {
		i.log.Warn("ignoring unreadable receipt", "formula", f.Name, "error", err)
		previous = nil
	}

	rec := receipt.New(f.Name, f.Version, strings.ToLower(f.SHA256))
	for n, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m := members[n]
		dest := filepath.Join(i.Dir(step.Target), path.Base(step.Member))
		mode := installMode(m, step.Target)

		if err := a.Extract(m.Name, dest, mode); err != nil {
			return nil, &FilesystemError{Op: "copy", Path: dest, Err: unwrapPathError(err)}
		}

		sum, err := verify.Digest(dest)
		if err != nil {
			return nil, &FilesystemError{Op: "read", Path: dest, Err: err}
		}
		rec.Add(receipt.File{Path: dest, Target: string(step.Target), SHA256: sum, Mode: mode, Size: m.Size})
		i.log.Debug("installed file", "member", m.Name, "path", dest, "mode", fmt.Sprintf("%04o", mode))
	}

	if previous != nil {
		for _, stale := range previous.Stale(rec.Paths()) {
			if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
				return nil, &FilesystemError{Op: "remove", Path: stale, Err: err}
			}
			result.Removed = append(result.Removed, stale)
			i.log.Info("removed stale file", "path", stale)
		}
	}

	if err := rec.Save(i.cfg.StateDir); err != nil {
		return nil, &FilesystemError{Op: "save receipt", Path: receipt.Path(i.cfg.StateDir, f.Name), Err: err}
	}
	result.Receipt = rec

	if opts.SkipTest {
		return result, nil
	}

	out, err := i.runTest(ctx, f)
	result.TestOutput = out
	if err != nil {
		if rerr := i.failVerification(rec); rerr != nil {
			i.log.Error("cleanup after failed smoke test", "formula", f.Name, "error", rerr)
		}
		return result, err
	}

	i.log.Info("installed", "formula", f.Name, "version", f.Version, "files", len(rec.Files))
	return result, nil
}

// Test re-runs the smoke test of an installed formula. A passing run marks a
// receipt left in the verification_failed state as installed.
func (i *Installer) Test(ctx context.Context, f *formula.Formula) (string, error) {
	lock, err := receipt.AcquireLock(ctx, i.cfg.StateDir)
	if err != nil {
		return "", fmt.Errorf("acquire install lock: %w", err)
	}
	defer lock.Release()

	rec, err := receipt.Load(i.cfg.StateDir, f.Name)
	if err != nil {
		return "", err
	}

	out, err := i.runTest(ctx, f)
	if err != nil {
		return out, err
	}

	if rec.State != receipt.StateInstalled {
		rec.State = receipt.StateInstalled
		if err := rec.Save(i.cfg.StateDir); err != nil {
			return out, &FilesystemError{Op: "save receipt", Path: receipt.Path(i.cfg.StateDir, f.Name), Err: err}
		}
		i.log.Info("smoke test passed, receipt marked installed", "formula", f.Name)
	}
	return out, nil
}

// Installed returns the receipt of an installed formula.
func (i *Installer) Installed(name string) (*receipt.Receipt, error) {
	return receipt.Load(i.cfg.StateDir, name)
}

// Uninstall removes every file recorded for name and its receipt.
func (i *Installer) Uninstall(ctx context.Context, name string) ([]string, error) {
	lock, err := receipt.AcquireLock(ctx, i.cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("acquire install lock: %w", err)
	}
	defer lock.Release()

	rec, err := receipt.Load(i.cfg.StateDir, name)
	if err != nil {
		return nil, err
	}

	removed, err := removeFiles(rec)
	if err != nil {
		return removed, err
	}
	if err := receipt.Remove(i.cfg.StateDir, name); err != nil {
		return removed, &FilesystemError{Op: "remove", Path: receipt.Path(i.cfg.StateDir, name), Err: err}
	}

	i.log.Info("uninstalled", "formula", name, "files", len(removed))
	return removed, nil
}

func (i *Installer) checkIntegrity(f *formula.Formula, sourcePath string, opts Options) ([]verify.Method, error) {
	if err := verify.CheckSHA256(sourcePath, f.SHA256); err != nil {
		return nil, &IntegrityError{Formula: f.Name, Err: err}
	}
	methods := []verify.Method{verify.MethodSHA256}

	if f.Signature == "" {
		return methods, nil
	}
	if opts.SignaturePath == "" || i.cfg.KeyringPath == "" {
		return nil, &IntegrityError{
			Formula: f.Name,
			Err:     &verify.IntegrityError{Path: sourcePath, Method: verify.MethodGPG, Err: fmt.Errorf("formula declares a signature but no signature or keyring was provided")},
		}
	}
	if err := verify.CheckSignature(sourcePath, opts.SignaturePath, i.cfg.KeyringPath); err != nil {
		return nil, &IntegrityError{Formula: f.Name, Err: err}
	}
	return append(methods, verify.MethodGPG), nil
}

func (i *Installer) runTest(ctx context.Context, f *formula.Formula) (string, error) {
	if f.Test.Command == "" {
		return "", nil
	}

	command := filepath.Join(i.cfg.BinDir, path.Base(f.Test.Command))
	verr := &VerificationError{Command: f.Test.Command, Args: f.Test.Args, ExitCode: -1}

	ctx, cancel := context.WithTimeout(ctx, i.cfg.TestTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, f.Test.Args...)
	cmd.Dir = i.cfg.BinDir
	out, err := cmd.CombinedOutput()
	verr.Output = string(out)

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			verr.Err = fmt.Errorf("timed out after %s", i.cfg.TestTimeout)
		case errors.As(err, &exitErr):
			verr.ExitCode = exitErr.ExitCode()
		default:
			verr.Err = err
		}
		return verr.Output, verr
	}

	if f.Test.Expect != "" && !strings.Contains(verr.Output, f.Test.Expect) {
		verr.ExitCode = 0
		verr.Err = fmt.Errorf("output does not contain %q", f.Test.Expect)
		return verr.Output, verr
	}

	i.log.Debug("smoke test passed", "command", command, "args", f.Test.Args)
	return verr.Output, nil
}

// failVerification records a failed smoke test, or undoes the install when
// rollback is enabled.
func (i *Installer) failVerification(rec *receipt.Receipt) error {
	if !i.cfg.Rollback {
		rec.State = receipt.StateVerificationFailed
		return rec.Save(i.cfg.StateDir)
	}

	if _, err := removeFiles(rec); err != nil {
		return err
	}
	i.log.Info("rolled back install", "formula", rec.Formula)
	return receipt.Remove(i.cfg.StateDir, rec.Formula)
}

func removeFiles(rec *receipt.Receipt) ([]string, error) {
	var removed []string
	for _, p := range rec.Paths() {
		if err := os.Remove(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, &FilesystemError{Op: "remove", Path: p, Err: err}
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// installMode keeps the member's permission bits. Bin members that carry no
// execute bit are made executable; lib members without bits get 0644.
func installMode(m archive.Member, t formula.Target) os.FileMode {
	mode := m.Mode.Perm()
	if t == formula.TargetBin && mode&0o111 == 0 {
		return 0o755
	}
	if mode == 0 {
		return 0o644
	}
	return mode
}

func requireDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	return nil
}

// unwrapPathError returns the innermost *os.PathError or *os.LinkError
// so callers see the OS error unchanged.
func unwrapPathError(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return le
	}
	return err
}
