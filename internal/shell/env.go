package shell

import (
	"fmt"
	"strings"
)

// Environment variables exported by Render.
const (
	EnvPrefix = "TSLINSTALL_PREFIX"
	EnvLibDir = "TSLINSTALL_LIB_DIR"
)

// Render returns the script that exports env for shell. The bin directory
// is prepended to PATH only when it is not already there.
func Render(shell ShellType, env Env) (string, error) {
	if !shell.IsValid() {
		return "", &UnsupportedShellError{Shell: shell.String()}
	}

	var b strings.Builder
	switch shell {
	case ShellBash, ShellZsh:
		fmt.Fprintf(&b, "export %s=%s;\n", EnvPrefix, quotePOSIX(env.Prefix))
		fmt.Fprintf(&b, "export %s=%s;\n", EnvLibDir, quotePOSIX(env.LibDir))
		bin := quotePOSIX(env.BinDir)
		fmt.Fprintf(&b, "case \":${PATH}:\" in *:%s:*) ;; *) export PATH=%s\"${PATH+:$PATH}\";; esac\n", bin, bin)
	case ShellFish:
		fmt.Fprintf(&b, "set -gx %s %s;\n", EnvPrefix, quoteFish(env.Prefix))
		fmt.Fprintf(&b, "set -gx %s %s;\n", EnvLibDir, quoteFish(env.LibDir))
		fmt.Fprintf(&b, "fish_add_path --global --prepend %s;\n", quoteFish(env.BinDir))
	}
	return b.String(), nil
}

func quotePOSIX(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteFish(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
