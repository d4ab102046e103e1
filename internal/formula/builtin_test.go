package formula

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestBuiltins(t *testing.T) {
	names := Builtins()
	if len(names) == 0 || names[0] != "libtsl-dev" {
		t.Fatalf("Builtins() = %v, want libtsl-dev", names)
	}
}

func TestParseBuiltin_LibTSLDev(t *testing.T) {
	vars := map[string]string{"sha256": testSHA, "version": "1.2.3"}
	f, err := NewParser(nil, vars).ParseBuiltin(context.Background(), "libtsl-dev")
	if err != nil {
		t.Fatalf("ParseBuiltin() error = %v", err)
	}

	if f.Description != "Template SIMD Library (TSL) for SIMD programming" {
		t.Errorf("Description = %q", f.Description)
	}
	if f.Homepage != "https://github.com/db-tu-dresden/TSL" {
		t.Errorf("Homepage = %q", f.Homepage)
	}
	if f.URL != "file:///tsl/brew/libtsl-dev.tar.gz" {
		t.Errorf("URL = %q", f.URL)
	}
	if f.License != "Apache-2.0" {
		t.Errorf("License = %q", f.License)
	}
	if len(f.Steps()) != 3 {
		t.Errorf("Steps() = %v", f.Steps())
	}
	if f.Test.Command != "select_flavor.sh" || strings.Join(f.Test.Args, " ") != "--help" {
		t.Errorf("Test = %+v", f.Test)
	}
}

func TestParseBuiltin_URLOverride(t *testing.T) {
	vars := map[string]string{"sha256": testSHA, "version": "1.2.3", "url": "https://example.com/x.tar.gz"}
	f, err := NewParser(nil, vars).ParseBuiltin(context.Background(), "libtsl-dev")
	if err != nil {
		t.Fatalf("ParseBuiltin() error = %v", err)
	}
	if f.URL != "https://example.com/x.tar.gz" {
		t.Errorf("URL = %q", f.URL)
	}
}

func TestParseBuiltin_RequiresChecksum(t *testing.T) {
	_, err := NewParser(nil, map[string]string{"version": "1.2.3"}).ParseBuiltin(context.Background(), "libtsl-dev")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if !strings.Contains(pe.Detail, "sha256") {
		t.Errorf("detail should mention sha256: %s", pe.Detail)
	}
}

func TestParseBuiltin_Unknown(t *testing.T) {
	_, err := NewParser(nil, nil).ParseBuiltin(context.Background(), "nope")
	if err == nil || !strings.Contains(err.Error(), "unknown formula") {
		t.Errorf("expected unknown formula error, got %v", err)
	}
}
