// Package formula loads and validates package formulas.
//
// A formula declares where a source archive lives, the SHA-256 it must hash
// to, which archive members go into the bin and lib directories, and the
// smoke test to run afterwards.
//
// # Lua formulas
//
// Lua formulas assign a global table named formula:
//
//	formula = {
//	  name = "libtsl-dev",
//	  url = "https://example.com/libtsl-dev.tar.gz",
//	  sha256 = vars.sha256,
//	  version = vars.version,
//	  license = "Apache-2.0",
//	  install = {
//	    bin = { "select_flavor.sh", "detect_flags.sh" },
//	    lib = { "tsl.tar.gz" },
//	  },
//	  test = { command = "select_flavor.sh", args = { "--help" } },
//	}
//
// The code runs in a sandboxed gopher-lua VM (no os, io, require, load or
// debug). Two read-only globals are available: platform (see package
// platform) and vars, the caller-supplied template values.
//
// # TOML formulas
//
// Files ending in .toml use the same keys with [install] and [test] tables.
// String fields may contain {{key}} placeholders filled from vars.
//
// # Validation
//
// Every formula is checked against an embedded JSON schema and then against
// the install rules in Validate. Failures are returned as *ParseError.
package formula
