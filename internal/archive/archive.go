// Package archive reads payload members out of tar based source archives.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ErrMemberNotFound is returned when a requested member is not in the archive.
var ErrMemberNotFound = errors.New("member not found in archive")

// Compression identifies the outer compression of a tar archive.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gzip"
	CompressionXZ    Compression = "xz"
	CompressionZstd  Compression = "zstd"
	CompressionBzip2 Compression = "bzip2"
)

var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicXZ    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicBzip2 = []byte("BZh")
)

// Member is a regular file inside an archive.
type Member struct {
	Name string      // normalized path relative to the archive root
	Raw  string      // name as stored in the tar header
	Mode os.FileMode // permission bits from the header
	Size int64
}

// IsExecutable reports whether any execute bit is set.
func (m Member) IsExecutable() bool {
	return m.Mode.Perm()&0o111 != 0
}

// Archive is an indexed tar archive on disk.
type Archive struct {
	path        string
	compression Compression
	prefix      string // single top-level directory stripped from member names
	members     []Member
}

// Open indexes the archive at path. Compression is taken from the file
// extension, falling back to the leading magic bytes.
func Open(archivePath string) (*Archive, error) {
	compression, err := detectCompression(archivePath)
	if err != nil {
		return nil, err
	}

	a := &Archive{path: archivePath, compression: compression}
	if err := a.index(); err != nil {
		return nil, err
	}
	return a, nil
}

// Path returns the archive location on disk.
func (a *Archive) Path() string {
	return a.path
}

// Compression returns the detected compression.
func (a *Archive) Compression() Compression {
	return a.compression
}

// Members returns the regular-file members sorted by name.
func (a *Archive) Members() []Member {
	out := make([]Member, len(a.members))
	copy(out, a.members)
	return out
}

// Lookup finds a member by normalized path, then by base name when the base
// name is unique in the archive.
func (a *Archive) Lookup(name string) (Member, error) {
	want := cleanName(name)
	for _, m := range a.members {
		if m.Name == want {
			return m, nil
		}
	}

	var found []Member
	for _, m := range a.members {
		if path.Base(m.Name) == want {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return Member{}, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
	default:
		return Member{}, fmt.Errorf("ambiguous member %s: %d matches", name, len(found))
	}
}

// Extract copies member name to destPath with the given mode. The file is
// written to a temporary sibling and renamed into place, so destPath is either
// the old file or the complete new one.
func (a *Archive) Extract(name, destPath string, mode os.FileMode) error {
	member, err := a.Lookup(name)
	if err != nil {
		return err
	}

	tr, closeFn, err := a.reader()
	if err != nil {
		return err
	}
	defer closeFn()

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("%w: %s", ErrMemberNotFound, name)
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		if header.Typeflag != tar.TypeReg || header.Name != member.Raw {
			continue
		}
		return writeAtomic(destPath, tr, mode)
	}
}

// index walks the archive once and records every regular file.
func (a *Archive) index() error {
	tr, closeFn, err := a.reader()
	if err != nil {
		return err
	}
	defer closeFn()

	var members []Member
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if !isSafe(header.Name) {
			return fmt.Errorf("illegal file path: %s", header.Name)
		}
		name := cleanName(header.Name)
		if name == "" {
			continue
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		members = append(members, Member{
			Name: name,
			Raw:  header.Name,
			Mode: os.FileMode(header.Mode).Perm(),
			Size: header.Size,
		})
	}

	a.prefix = commonTopDir(members)
	if a.prefix != "" {
		for i := range members {
			members[i].Name = strings.TrimPrefix(members[i].Name, a.prefix+"/")
		}
	}

	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	a.members = members
	return nil
}

// reader opens the archive and layers the decompressor and tar reader on top.
func (a *Archive) reader() (*tar.Reader, func(), error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}

	var r io.Reader = bufio.NewReader(f)
	closers := []func(){func() { f.Close() }}

	switch a.compression {
	case CompressionGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("create gzip reader: %w", err)
		}
		closers = append(closers, func() { gr.Close() })
		r = gr
	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("create xz reader: %w", err)
		}
		r = xr
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("create zstd reader: %w", err)
		}
		closers = append(closers, zr.Close)
		r = zr
	case CompressionBzip2:
		r = bzip2.NewReader(r)
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return tar.NewReader(r), closeAll, nil
}

func detectCompression(archivePath string) (Compression, error) {
	name := strings.ToLower(filepath.Base(archivePath))
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return CompressionGzip, nil
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return CompressionXZ, nil
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return CompressionZstd, nil
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return CompressionBzip2, nil
	case strings.HasSuffix(name, ".tar"):
		return CompressionNone, nil
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	head := make([]byte, 6)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read archive header: %w", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicGzip):
		return CompressionGzip, nil
	case bytes.HasPrefix(head, magicXZ):
		return CompressionXZ, nil
	case bytes.HasPrefix(head, magicZstd):
		return CompressionZstd, nil
	case bytes.HasPrefix(head, magicBzip2):
		return CompressionBzip2, nil
	default:
		return CompressionNone, nil
	}
}

// cleanName normalizes a tar header name: forward slashes, no leading "./" or
// "/", no trailing slash.
func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}

// isSafe rejects absolute names and names with parent references.
func isSafe(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// commonTopDir returns the single top-level directory shared by every member,
// or "" when members sit at the root or under different directories.
func commonTopDir(members []Member) string {
	if len(members) == 0 {
		return ""
	}
	var top string
	for _, m := range members {
		idx := strings.Index(m.Name, "/")
		if idx < 0 {
			return ""
		}
		dir := m.Name[:idx]
		if top == "" {
			top = dir
		} else if dir != top {
			return ""
		}
	}
	return top
}

func writeAtomic(destPath string, r io.Reader, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanupNeeded := true
	defer func() {
		tmp.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("set mode on %s: %w", destPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	return nil
}
