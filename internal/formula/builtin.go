package formula

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed formulas/*.lua
var builtinFS embed.FS

// Builtins returns the names of the embedded formulas.
func Builtins() []string {
	entries, err := builtinFS.ReadDir("formulas")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".lua"))
	}
	sort.Strings(names)
	return names
}

// BuiltinSource returns the Lua source of an embedded formula.
func BuiltinSource(name string) (string, error) {
	data, err := builtinFS.ReadFile(path.Join("formulas", name+".lua"))
	if err != nil {
		return "", fmt.Errorf("unknown formula %q (available: %s)", name, strings.Join(Builtins(), ", "))
	}
	return string(data), nil
}

// ParseBuiltin evaluates an embedded formula.
func (p *Parser) ParseBuiltin(ctx context.Context, name string) (*Formula, error) {
	src, err := BuiltinSource(name)
	if err != nil {
		return nil, err
	}
	return p.ParseString(ctx, src)
}
