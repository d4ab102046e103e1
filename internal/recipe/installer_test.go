package recipe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/formula"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/receipt"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/testutil"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/verify"
)

func libtslFormula(sum string) *formula.Formula {
	return &formula.Formula{
		Name:    "libtsl-dev",
		URL:     "file:///tsl/brew/libtsl-dev.tar.gz",
		SHA256:  sum,
		Version: "1.2.3",
		License: "Apache-2.0",
		Install: formula.Install{
			Bin: []string{"select_flavor.sh", "detect_flags.sh"},
			Lib: []string{"tsl.tar.gz"},
		},
		Test: formula.Test{Command: "select_flavor.sh", Args: []string{"--help"}},
	}
}

type fixture struct {
	env       *testutil.Env
	installer *Installer
	archive   string
	sum       string
	files     []testutil.File
}

func newFixture(t *testing.T, script string, mutate func(*Config)) *fixture {
	t.Helper()

	env := testutil.SetupTestEnv(t)
	files := testutil.LibTSLFiles(script)
	archivePath, sum := testutil.WriteTarGz(t, env.Root, "libtsl-dev.tar.gz", files)

	cfg := Config{BinDir: env.BinDir, LibDir: env.LibDir, StateDir: env.StateDir}
	if mutate != nil {
		mutate(&cfg)
	}
	inst, err := NewInstaller(cfg)
	require.NoError(t, err)

	return &fixture{env: env, installer: inst, archive: archivePath, sum: sum, files: files}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestNewInstaller(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid_config", Config{BinDir: "/b", LibDir: "/l", StateDir: "/s"}, false},
		{"missing_bin_dir", Config{LibDir: "/l", StateDir: "/s"}, true},
		{"missing_lib_dir", Config{BinDir: "/b", StateDir: "/s"}, true},
		{"missing_state_dir", Config{BinDir: "/b", LibDir: "/l"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := NewInstaller(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultTestTimeout, inst.cfg.TestTimeout)
			assert.Equal(t, "/b", inst.Dir(formula.TargetBin))
			assert.Equal(t, "/l", inst.Dir(formula.TargetLib))
		})
	}
}

func TestInstall_Success(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)

	result, err := fx.installer.Install(context.Background(), libtslFormula(fx.sum), fx.archive, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"detect_flags.sh", "select_flavor.sh"}, listDir(t, fx.env.BinDir))
	assert.Equal(t, []string{"tsl.tar.gz"}, listDir(t, fx.env.LibDir))

	targets := map[string]string{
		"select_flavor.sh": fx.env.BinDir,
		"detect_flags.sh":  fx.env.BinDir,
		"tsl.tar.gz":       fx.env.LibDir,
	}
	for _, f := range fx.files {
		dest := filepath.Join(targets[f.Name], f.Name)
		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, f.Body, string(data), "%s must be byte-identical", f.Name)

		info, err := os.Stat(dest)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(f.Mode), info.Mode().Perm(), "%s mode", f.Name)
	}

	assert.Equal(t, []verify.Method{verify.MethodSHA256}, result.Verified)
	assert.Contains(t, result.TestOutput, "usage: select_flavor.sh")
	assert.Empty(t, result.Removed)

	rec, err := fx.installer.Installed("libtsl-dev")
	require.NoError(t, err)
	assert.Equal(t, receipt.StateInstalled, rec.State)
	assert.Equal(t, "1.2.3", rec.FormulaVersion)
	assert.Equal(t, fx.sum, rec.SHA256)
	require.Len(t, rec.Files, 3)
	assert.Equal(t, filepath.Join(fx.env.BinDir, "select_flavor.sh"), rec.Files[0].Path)
	assert.Equal(t, filepath.Join(fx.env.BinDir, "detect_flags.sh"), rec.Files[1].Path)
	assert.Equal(t, filepath.Join(fx.env.LibDir, "tsl.tar.gz"), rec.Files[2].Path)
	assert.Equal(t, "lib", rec.Files[2].Target)
}

func TestInstall_UppercaseChecksum(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)

	_, err := fx.installer.Install(context.Background(), libtslFormula(strings.ToUpper(fx.sum)), fx.archive, Options{})
	require.NoError(t, err)
}

func TestInstall_ChecksumMismatch(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)

	_, err := fx.installer.Install(context.Background(), libtslFormula(strings.Repeat("0", 64)), fx.archive, Options{})
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))

	var vie *verify.IntegrityError
	require.True(t, errors.As(err, &vie))
	assert.Equal(t, fx.sum, vie.Actual)

	assert.Empty(t, listDir(t, fx.env.BinDir))
	assert.Empty(t, listDir(t, fx.env.LibDir))
	_, err = fx.installer.Installed("libtsl-dev")
	assert.ErrorIs(t, err, receipt.ErrNotInstalled)
}

func TestInstall_CorruptedArchive(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)

	data, err := os.ReadFile(fx.archive)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(fx.archive, data, 0644))

	_, err = fx.installer.Install(context.Background(), libtslFormula(fx.sum), fx.archive, Options{})
	assert.True(t, IsIntegrityError(err), "got %v", err)
	assert.Empty(t, listDir(t, fx.env.BinDir))
}

func TestInstall_SignatureRequired(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)

	f := libtslFormula(fx.sum)
	f.Signature = "https://example.com/libtsl-dev.tar.gz.sig"

	_, err := fx.installer.Install(context.Background(), f, fx.archive, Options{})
	assert.True(t, IsIntegrityError(err), "got %v", err)
	assert.Empty(t, listDir(t, fx.env.BinDir))
}

func TestInstall_MissingMember(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)

	f := libtslFormula(fx.sum)
	f.Install.Lib = append(f.Install.Lib, "missing.tar.gz")

	_, err := fx.installer.Install(context.Background(), f, fx.archive, Options{})
	require.Error(t, err)

	var fe *FilesystemError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "lookup", fe.Op)
	assert.Empty(t, listDir(t, fx.env.BinDir), "nothing may be written before all members are found")
}

func TestInstall_MissingTargetDir(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)
	require.NoError(t, os.RemoveAll(fx.env.LibDir))

	_, err := fx.installer.Install(context.Background(), libtslFormula(fx.sum), fx.archive, Options{})
	require.Error(t, err)
	assert.True(t, IsFilesystemError(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInstall_VerificationFailureKeepsFiles(t *testing.T) {
	fx := newFixture(t, testutil.FailingScript, nil)

	result, err := fx.installer.Install(context.Background(), libtslFormula(fx.sum), fx.archive, Options{})
	require.Error(t, err)

	var ve *VerificationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 3, ve.ExitCode)
	assert.Contains(t, ve.Output, "broken")
	assert.Contains(t, result.TestOutput, "broken")

	assert.Equal(t, []string{"detect_flags.sh", "select_flavor.sh"}, listDir(t, fx.env.BinDir))
	assert.Equal(t, []string{"tsl.tar.gz"}, listDir(t, fx.env.LibDir))

	rec, err := fx.installer.Installed("libtsl-dev")
	require.NoError(t, err)
	assert.Equal(t, receipt.StateVerificationFailed, rec.State)
}

func TestInstall_VerificationFailureRollback(t *testing.T) {
	fx := newFixture(t, testutil.FailingScript, func(c *Config) { c.Rollback = true })

	_, err := fx.installer.Install(context.Background(), libtslFormula(fx.sum), fx.archive, Options{})
	assert.True(t, IsVerificationError(err))

	assert.Empty(t, listDir(t, fx.env.BinDir))
	assert.Empty(t, listDir(t, fx.env.LibDir))
	_, err = fx.installer.Installed("libtsl-dev")
	assert.ErrorIs(t, err, receipt.ErrNotInstalled)
}

func TestInstall_SkipTest(t *testing.T) {
	fx := newFixture(t, testutil.FailingScript, nil)

	result, err := fx.installer.Install(context.Background(), libtslFormula(fx.sum), fx.archive, Options{SkipTest: true})
	require.NoError(t, err)
	assert.Empty(t, result.TestOutput)
}

func TestInstall_Expect(t *testing.T) {
	tests := []struct {
		name    string
		expect  string
		wantErr bool
	}{
		{"matches", "1.2.3", false},
		{"does_not_match", "9.9.9", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, testutil.HelpScript, nil)
			f := libtslFormula(fx.sum)
			f.Test.Args = []string{"--version"}
			f.Test.Expect = tt.expect

			_, err := fx.installer.Install(context.Background(), f, fx.archive, Options{})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ve *VerificationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, 0, ve.ExitCode)
		})
	}
}

func TestInstall_TestTimeout(t *testing.T) {
	fx := newFixture(t, "#!/bin/sh\nexec sleep 5\n", func(c *Config) { c.TestTimeout = 100 * time.Millisecond })

	_, err := fx.installer.Install(context.Background(), libtslFormula(fx.sum), fx.archive, Options{})
	var ve *VerificationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Contains(t, ve.Error(), "timed out")
}

func TestInstall_Idempotent(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)
	f := libtslFormula(fx.sum)

	_, err := fx.installer.Install(context.Background(), f, fx.archive, Options{})
	require.NoError(t, err)
	binFirst, libFirst := listDir(t, fx.env.BinDir), listDir(t, fx.env.LibDir)

	result, err := fx.installer.Install(context.Background(), f, fx.archive, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Removed)

	assert.Equal(t, binFirst, listDir(t, fx.env.BinDir))
	assert.Equal(t, libFirst, listDir(t, fx.env.LibDir))
}

func TestInstall_RemovesStaleFiles(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	inst, err := NewInstaller(Config{BinDir: env.BinDir, LibDir: env.LibDir, StateDir: env.StateDir})
	require.NoError(t, err)

	oldFiles := append(testutil.LibTSLFiles(testutil.HelpScript), testutil.File{Name: "legacy.sh", Mode: 0o755, Body: "#!/bin/sh\n"})
	oldArchive, oldSum := testutil.WriteTarGz(t, t.TempDir(), "old.tar.gz", oldFiles)
	oldFormula := libtslFormula(oldSum)
	oldFormula.Install.Bin = append(oldFormula.Install.Bin, "legacy.sh")

	_, err = inst.Install(context.Background(), oldFormula, oldArchive, Options{})
	require.NoError(t, err)
	assert.Contains(t, listDir(t, env.BinDir), "legacy.sh")

	newArchive, newSum := testutil.WriteTarGz(t, t.TempDir(), "new.tar.gz", testutil.LibTSLFiles(testutil.HelpScript))
	result, err := inst.Install(context.Background(), libtslFormula(newSum), newArchive, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(env.BinDir, "legacy.sh")}, result.Removed)
	assert.Equal(t, []string{"detect_flags.sh", "select_flavor.sh"}, listDir(t, env.BinDir))
}

func TestInstall_BinMemberWithoutExecBit(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	inst, err := NewInstaller(Config{BinDir: env.BinDir, LibDir: env.LibDir, StateDir: env.StateDir})
	require.NoError(t, err)

	files := testutil.LibTSLFiles(testutil.HelpScript)
	files[1].Mode = 0o644
	archivePath, sum := testutil.WriteTarGz(t, env.Root, "libtsl-dev.tar.gz", files)

	_, err = inst.Install(context.Background(), libtslFormula(sum), archivePath, Options{})
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(env.BinDir, "detect_flags.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestInstall_NestedMembers(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	inst, err := NewInstaller(Config{BinDir: env.BinDir, LibDir: env.LibDir, StateDir: env.StateDir})
	require.NoError(t, err)

	var files []testutil.File
	for _, f := range testutil.LibTSLFiles(testutil.HelpScript) {
		f.Name = "libtsl-dev/" + f.Name
		files = append(files, f)
	}
	archivePath, sum := testutil.WriteTarGz(t, env.Root, "libtsl-dev.tar.gz", files)

	_, err = inst.Install(context.Background(), libtslFormula(sum), archivePath, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"tsl.tar.gz"}, listDir(t, env.LibDir))
}

func TestInstall_Locked(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)

	lock, err := receipt.AcquireLock(context.Background(), fx.env.StateDir)
	require.NoError(t, err)
	defer lock.Release()

	_, err = fx.installer.Install(context.Background(), libtslFormula(fx.sum), fx.archive, Options{})
	assert.ErrorIs(t, err, receipt.ErrLockExists)
	assert.Empty(t, listDir(t, fx.env.BinDir))
}

func TestTest(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)
	f := libtslFormula(fx.sum)

	_, err := fx.installer.Test(context.Background(), f)
	assert.ErrorIs(t, err, receipt.ErrNotInstalled)

	_, err = fx.installer.Install(context.Background(), f, fx.archive, Options{SkipTest: true})
	require.NoError(t, err)

	out, err := fx.installer.Test(context.Background(), f)
	require.NoError(t, err)
	assert.Contains(t, out, "usage")

	require.NoError(t, os.Remove(filepath.Join(fx.env.BinDir, "select_flavor.sh")))
	_, err = fx.installer.Test(context.Background(), f)
	var ve *VerificationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, -1, ve.ExitCode)
}

func TestTest_MarksFailedInstallInstalled(t *testing.T) {
	fx := newFixture(t, testutil.FailingScript, nil)
	f := libtslFormula(fx.sum)

	_, err := fx.installer.Install(context.Background(), f, fx.archive, Options{})
	require.True(t, IsVerificationError(err))

	rec, err := fx.installer.Installed(f.Name)
	require.NoError(t, err)
	assert.Equal(t, receipt.StateVerificationFailed, rec.State)

	// Replace the broken script with a working one and re-run the test.
	script := filepath.Join(fx.env.BinDir, "select_flavor.sh")
	require.NoError(t, os.WriteFile(script, []byte(testutil.HelpScript), 0755))

	_, err = fx.installer.Test(context.Background(), f)
	require.NoError(t, err)

	rec, err = fx.installer.Installed(f.Name)
	require.NoError(t, err)
	assert.Equal(t, receipt.StateInstalled, rec.State)
}

func TestTest_Locked(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)
	f := libtslFormula(fx.sum)
	_, err := fx.installer.Install(context.Background(), f, fx.archive, Options{SkipTest: true})
	require.NoError(t, err)

	lock, err := receipt.AcquireLock(context.Background(), fx.env.StateDir)
	require.NoError(t, err)
	defer lock.Release()

	_, err = fx.installer.Test(context.Background(), f)
	assert.ErrorIs(t, err, receipt.ErrLockExists)
}

func TestUninstall(t *testing.T) {
	fx := newFixture(t, testutil.HelpScript, nil)

	_, err := fx.installer.Install(context.Background(), libtslFormula(fx.sum), fx.archive, Options{})
	require.NoError(t, err)

	removed, err := fx.installer.Uninstall(context.Background(), "libtsl-dev")
	require.NoError(t, err)
	assert.Len(t, removed, 3)
	assert.Empty(t, listDir(t, fx.env.BinDir))
	assert.Empty(t, listDir(t, fx.env.LibDir))

	_, err = fx.installer.Uninstall(context.Background(), "libtsl-dev")
	assert.ErrorIs(t, err, receipt.ErrNotInstalled)
}
