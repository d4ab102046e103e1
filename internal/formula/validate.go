package formula

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "mem://tslinstall/formula.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func formulaSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load formula schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Validate checks f against the formula schema and the install rules:
// member names are clean relative paths, unique per destination file name,
// at least one member is installed, and the test command is a bin member.
func Validate(f *Formula) error {
	schema, err := formulaSchema()
	if err != nil {
		return err
	}

	// The schema validates the JSON data model, so round-trip through it.
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal formula: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal formula: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}

	var errs []string
	steps := f.Steps()
	if len(steps) == 0 {
		errs = append(errs, "install: at least one bin or lib member is required")
	}

	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if !isCleanRelative(s.Member) {
			errs = append(errs, fmt.Sprintf("install.%s: %q must be a relative path inside the archive", s.Target, s.Member))
			continue
		}
		key := string(s.Target) + "/" + path.Base(s.Member)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("install.%s: %q is listed more than once", s.Target, path.Base(s.Member)))
		}
		seen[key] = true
	}

	if f.Test.Command != "" {
		found := false
		cmd := path.Base(f.Test.Command)
		for _, m := range f.Install.Bin {
			if path.Base(m) == cmd {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Sprintf("test.command: %q is not installed into bin", f.Test.Command))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "\n"))
	}
	return nil
}

func isCleanRelative(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	if path.Clean(p) != p {
		return false
	}
	return p != ".." && !strings.HasPrefix(p, "../")
}
