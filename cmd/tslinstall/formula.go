package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/formula"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/platform"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/receipt"
)

const defaultFormula = "libtsl-dev"

// parseVars turns repeated key=value flags into a map.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set value %q: expected key=value", pair)
		}
		vars[k] = v
	}
	return vars, nil
}

// isFormulaFile reports whether arg names a formula file rather than a
// built-in formula.
func isFormulaFile(arg string) bool {
	if strings.ContainsRune(arg, filepath.Separator) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(arg))
	if ext != ".lua" && ext != ".toml" {
		return false
	}
	_, err := os.Stat(arg)
	return err == nil
}

// loadFormula parses arg as a formula file or a built-in formula name.
func loadFormula(ctx context.Context, arg string, vars map[string]string) (*formula.Formula, error) {
	if arg == "" {
		arg = defaultFormula
	}

	parser := formula.NewParser(platform.NewDetector(), vars)
	if isFormulaFile(arg) {
		return parser.ParseFile(ctx, arg)
	}
	return parser.ParseBuiltin(ctx, arg)
}

// formulaName returns the formula name for arg without evaluating
// built-in formulas.
func formulaName(ctx context.Context, arg string) (string, error) {
	if arg == "" {
		return defaultFormula, nil
	}
	if !isFormulaFile(arg) {
		return arg, nil
	}
	f, err := loadFormula(ctx, arg, nil)
	if err != nil {
		var pe *formula.ParseError
		if !errors.As(err, &pe) {
			return "", err
		}
		// Unfilled template values fail validation; formula files are
		// named after their formula.
		base := filepath.Base(arg)
		return strings.TrimSuffix(base, filepath.Ext(base)), nil
	}
	return f.Name, nil
}

// loadInstalledFormula loads the formula for an installed package. Template
// values that were used at install time are filled in from the receipt.
func loadInstalledFormula(ctx context.Context, p paths, arg string, vars map[string]string) (*formula.Formula, *receipt.Receipt, error) {
	name, err := formulaName(ctx, arg)
	if err != nil {
		return nil, nil, err
	}

	rec, err := receipt.Load(p.State, name)
	if err != nil {
		if errors.Is(err, receipt.ErrNotInstalled) {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		return nil, nil, err
	}

	merged := map[string]string{"sha256": rec.SHA256, "version": rec.FormulaVersion}
	for k, v := range vars {
		merged[k] = v
	}

	f, err := loadFormula(ctx, arg, merged)
	if err != nil {
		return nil, rec, err
	}
	return f, rec, nil
}

func formatError(err error, verbose bool) error {
	var pe *formula.ParseError
	if errors.As(err, &pe) {
		return errors.New(formula.FormatError(pe, verbose))
	}
	return err
}
