package shell

import "fmt"

// ShellType names a shell that Render can write setup code for.
type ShellType string

const (
	ShellBash    ShellType = "bash"
	ShellZsh     ShellType = "zsh"
	ShellFish    ShellType = "fish"
	ShellUnknown ShellType = "unknown"
)

func (s ShellType) String() string {
	return string(s)
}

// IsValid reports whether Render supports s.
func (s ShellType) IsValid() bool {
	for _, supported := range GetSupportedShells() {
		if s == supported {
			return true
		}
	}
	return false
}

// Env is the install layout a shell is pointed at.
type Env struct {
	Prefix string
	BinDir string
	LibDir string
}

// UnsupportedShellError is returned for shells other than bash, zsh and fish.
type UnsupportedShellError struct {
	Shell string
}

func (e *UnsupportedShellError) Error() string {
	return fmt.Sprintf("unsupported shell %q: use one of %v", e.Shell, GetSupportedShells())
}
