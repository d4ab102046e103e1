package testutil

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

// File is one entry of a test archive.
type File struct {
	Name string
	Mode int64
	Body string
}

// HelpScript is a shell script that exits 0 for --help and echoes its version.
const HelpScript = "#!/bin/sh\nif [ \"$1\" = \"--help\" ]; then echo \"usage: select_flavor.sh [--help]\"; exit 0; fi\nif [ \"$1\" = \"--version\" ]; then echo \"1.2.3\"; exit 0; fi\nexit 2\n"

// FailingScript always exits 3.
const FailingScript = "#!/bin/sh\necho broken >&2\nexit 3\n"

// LibTSLFiles returns the payload of a libtsl-dev source archive.
func LibTSLFiles(selectFlavor string) []File {
	return []File{
		{Name: "select_flavor.sh", Mode: 0o755, Body: selectFlavor},
		{Name: "detect_flags.sh", Mode: 0o755, Body: "#!/bin/sh\necho avx2 sse2\n"},
		{Name: "tsl.tar.gz", Mode: 0o644, Body: "\x1f\x8bnested-bundle-bytes"},
	}
}

// WriteTarGz writes files, in order, into a gzip compressed tar at
// dir/name and returns the path and its hex SHA-256.
func WriteTarGz(t *testing.T, dir, name string, files []File) (string, string) {
	t.Helper()

	archivePath := filepath.Join(dir, name)
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for _, file := range files {
		mode := file.Mode
		if mode == 0 {
			mode = 0o644
		}
		header := &tar.Header{
			Name:     file.Name,
			Mode:     mode,
			Size:     int64(len(file.Body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("failed to write header for %s: %v", file.Name, err)
		}
		if _, err := tw.Write([]byte(file.Body)); err != nil {
			t.Fatalf("failed to write content for %s: %v", file.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close archive: %v", err)
	}

	data, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("failed to read archive: %v", err)
	}
	sum := sha256.Sum256(data)
	return archivePath, hex.EncodeToString(sum[:])
}
