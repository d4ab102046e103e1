// Package verify checks source archives before anything is installed from them.
//
// SHA-256 digests are always checked. A detached OpenPGP signature is checked
// in addition when the formula declares one.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// Method indicates how an archive was verified.
type Method int

const (
	// MethodNone indicates no verification happened.
	MethodNone Method = iota
	// MethodSHA256 indicates a SHA-256 digest comparison.
	MethodSHA256
	// MethodGPG indicates a detached OpenPGP signature check.
	MethodGPG
)

// String returns the string representation of the method.
func (m Method) String() string {
	switch m {
	case MethodSHA256:
		return "SHA256"
	case MethodGPG:
		return "GPG"
	case MethodNone:
		return "None"
	default:
		return "Unknown"
	}
}

// IntegrityError reports that an archive does not match what the formula declares.
type IntegrityError struct {
	Path     string
	Method   Method
	Expected string
	Actual   string
	Err      error
}

func (e *IntegrityError) Error() string {
	if e.Method == MethodSHA256 && e.Err == nil {
		return fmt.Sprintf("integrity check failed for %s: checksum mismatch\nactual:   %s\nexpected: %s",
			e.Path, e.Actual, e.Expected)
	}
	return fmt.Sprintf("integrity check failed for %s (%s): %v", e.Path, e.Method, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// IsIntegrityError reports whether err is or wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// Digest returns the lowercase hex SHA-256 of the file at path.
func Digest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CheckSHA256 compares the digest of path with expected (hex, any case).
// A mismatch, or an unreadable file, is an *IntegrityError.
func CheckSHA256(path, expected string) error {
	actual, err := Digest(path)
	if err != nil {
		return &IntegrityError{
			Path:     path,
			Method:   MethodSHA256,
			Expected: expected,
			Err:      fmt.Errorf("calculate checksum: %w", err),
		}
	}

	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return &IntegrityError{
			Path:     path,
			Method:   MethodSHA256,
			Expected: strings.ToLower(expected),
			Actual:   actual,
		}
	}

	return nil
}

// CheckSignature verifies a detached signature (armored or binary) over path
// using the public keys in keyringPath.
func CheckSignature(path, signaturePath, keyringPath string) error {
	fail := func(err error) error {
		return &IntegrityError{Path: path, Method: MethodGPG, Err: err}
	}

	keyring, err := LoadKeyring(keyringPath)
	if err != nil {
		return fail(fmt.Errorf("load keyring: %w", err))
	}

	file, err := os.Open(path)
	if err != nil {
		return fail(fmt.Errorf("open archive: %w", err))
	}
	defer file.Close()

	sigFile, err := os.Open(signaturePath)
	if err != nil {
		return fail(fmt.Errorf("open signature: %w", err))
	}
	defer sigFile.Close()

	// Try armored first
	_, err = openpgp.CheckArmoredDetachedSignature(keyring, file, sigFile, nil)
	if err != nil {
		if _, serr := file.Seek(0, io.SeekStart); serr != nil {
			return fail(serr)
		}
		if _, serr := sigFile.Seek(0, io.SeekStart); serr != nil {
			return fail(serr)
		}
		_, err = openpgp.CheckDetachedSignature(keyring, file, sigFile, nil)
	}
	if err != nil {
		return fail(fmt.Errorf("verify signature: %w", err))
	}

	return nil
}

// LoadKeyring reads an armored or binary OpenPGP keyring.
func LoadKeyring(keyringPath string) (openpgp.EntityList, error) {
	keyringFile, err := os.Open(keyringPath)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer keyringFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		if _, serr := keyringFile.Seek(0, io.SeekStart); serr != nil {
			return nil, serr
		}
		keyring, err = openpgp.ReadKeyRing(keyringFile)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}

	return keyring, nil
}
