package recipe

import (
	"errors"
	"fmt"
	"strings"
)

// IntegrityError reports that the source archive failed its checksum or
// signature check. Nothing has been written when it is returned.
type IntegrityError struct {
	Formula string
	Err     error // usually a *verify.IntegrityError
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Formula, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// FilesystemError reports a failed filesystem operation while staging the
// payload. Err is the underlying error, unchanged.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// VerificationError reports that the post-install smoke test failed.
type VerificationError struct {
	Command  string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *VerificationError) Error() string {
	cmd := strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " "))
	msg := fmt.Sprintf("smoke test %q failed", cmd)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// IsIntegrityError reports whether err is or wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsFilesystemError reports whether err is or wraps a FilesystemError.
func IsFilesystemError(err error) bool {
	var fe *FilesystemError
	return errors.As(err, &fe)
}

// IsVerificationError reports whether err is or wraps a VerificationError.
func IsVerificationError(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}
