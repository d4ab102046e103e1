package formula

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/platform"
)

// Parser evaluates formula files.
type Parser struct {
	detector platform.Detector
	vars     map[string]string
}

// NewParser creates a parser. detector may be nil, in which case formulas see
// no platform table. vars become the read-only Lua table "vars".
func NewParser(detector platform.Detector, vars map[string]string) *Parser {
	return &Parser{detector: detector, vars: vars}
}

// ParseError represents a formula parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua or schema error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// ParseFile parses a formula file. ".toml" files are decoded as TOML, anything
// else is evaluated as Lua.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Formula, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read formula: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return p.ParseTOML(data)
	}
	return p.ParseString(ctx, string(data))
}

// ParseString evaluates Lua formula code.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Formula, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		platformInfo, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, platformInfo); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}
	injectVars(L, p.vars)

	if err := L.DoString(luaCode); err != nil {
		return nil, &ParseError{
			Message: "Lua error",
			Detail:  err.Error(),
		}
	}

	f, err := extractFormula(L)
	if err != nil {
		return nil, err
	}
	return finish(f)
}

// finish applies defaults and validates.
func finish(f *Formula) (*Formula, error) {
	f.applyDefaults()
	if err := Validate(f); err != nil {
		return nil, &ParseError{
			Message: "formula validation failed",
			Detail:  err.Error(),
		}
	}
	return f, nil
}

func injectVars(L *lua.LState, vars map[string]string) {
	table := L.NewTable()
	for k, v := range vars {
		L.SetField(table, k, lua.LString(v))
	}
	L.SetGlobal(luaGlobalVars, platform.MakeReadOnly(L, table, luaGlobalVars))
}

// extractFormula reads the global "formula" table.
func extractFormula(L *lua.LState) (*Formula, error) {
	val := L.GetGlobal(luaGlobalFormula)
	table, ok := val.(*lua.LTable)
	if !ok {
		return nil, &ParseError{
			Message: "missing or invalid 'formula' table",
			Detail:  fmt.Sprintf("expected table, got %s", val.Type()),
		}
	}

	f := &Formula{
		Name:        getString(table, luaFieldName),
		Description: getString(table, luaFieldDesc),
		Homepage:    getString(table, luaFieldHomepage),
		URL:         getString(table, luaFieldURL),
		SHA256:      getString(table, luaFieldSHA256),
		Version:     getString(table, luaFieldVersion),
		License:     getString(table, luaFieldLicense),
		Signature:   getString(table, luaFieldSig),
	}

	switch v := table.RawGetString(luaFieldInstall).(type) {
	case *lua.LTable:
		f.Install.Bin = getList(v.RawGetString(luaFieldBin))
		f.Install.Lib = getList(v.RawGetString(luaFieldLib))
	case *lua.LNilType:
	default:
		return nil, &ParseError{
			Message: "invalid 'install' field",
			Detail:  fmt.Sprintf("expected table, got %s", v.Type()),
		}
	}

	switch v := table.RawGetString(luaFieldTest).(type) {
	case *lua.LTable:
		f.Test = extractTest(v)
	case lua.LString:
		f.Test = Test{Command: string(v)}
	case *lua.LNilType:
	default:
		return nil, &ParseError{
			Message: "invalid 'test' field",
			Detail:  fmt.Sprintf("expected table or string, got %s", v.Type()),
		}
	}

	return f, nil
}

// extractTest accepts { command = "x", args = {...}, expect = "..." } and the
// short form { "x", "--help" }.
func extractTest(table *lua.LTable) Test {
	if first, ok := table.RawGetInt(1).(lua.LString); ok {
		var args []string
		if items := getList(table); len(items) > 1 {
			args = append(args, items[1:]...)
		}
		return Test{
			Command: string(first),
			Args:    args,
			Expect:  getString(table, luaFieldExpect),
		}
	}

	t := Test{
		Command: getString(table, luaFieldCommand),
		Expect:  getString(table, luaFieldExpect),
	}
	if args := table.RawGetString(luaFieldArgs); args.Type() == lua.LTTable {
		t.Args = getList(args)
	}
	return t
}

func getString(table *lua.LTable, field string) string {
	switch v := table.RawGetString(field).(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		// version = 1.2 style numbers
		return v.String()
	default:
		return ""
	}
}

// getList returns the string values stored under integer keys in key order.
// nil entries from platform conditionals and non-string values are skipped.
func getList(val lua.LValue) []string {
	table, ok := val.(*lua.LTable)
	if !ok {
		return nil
	}

	type item struct {
		idx   float64
		value string
	}
	var items []item
	table.ForEach(func(key, value lua.LValue) {
		n, ok := key.(lua.LNumber)
		if !ok {
			return
		}
		s, ok := value.(lua.LString)
		if !ok {
			return
		}
		items = append(items, item{idx: float64(n), value: string(s)})
	})
	sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })

	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.value)
	}
	return out
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	if parseErr, ok := err.(*ParseError); ok {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
