package formula

import "path"

// Target is an install destination supplied by the caller.
type Target string

const (
	// TargetBin is the binary directory.
	TargetBin Target = "bin"
	// TargetLib is the library directory.
	TargetLib Target = "lib"
)

// DefaultTestArgs is used when a formula names a test command without arguments.
var DefaultTestArgs = []string{"--help"}

// Formula is the immutable description of one package.
type Formula struct {
	Name        string  `json:"name" toml:"name"`
	Description string  `json:"desc" toml:"desc"`
	Homepage    string  `json:"homepage" toml:"homepage"`
	URL         string  `json:"url" toml:"url"`
	SHA256      string  `json:"sha256" toml:"sha256"`
	Version     string  `json:"version" toml:"version"`
	License     string  `json:"license" toml:"license"`
	Signature   string  `json:"signature,omitempty" toml:"signature"`
	Install     Install `json:"install" toml:"install"`
	Test        Test    `json:"test" toml:"test"`
}

// Install lists archive members per target, in install order.
type Install struct {
	Bin []string `json:"bin" toml:"bin"`
	Lib []string `json:"lib" toml:"lib"`
}

// Test is the post-install smoke test. Command is resolved in the bin directory.
type Test struct {
	Command string   `json:"command" toml:"command"`
	Args    []string `json:"args" toml:"args"`
	// Expect, when set, must appear in the combined command output
	Expect string `json:"expect,omitempty" toml:"expect"`
}

// Step is one copy operation of the install recipe.
type Step struct {
	Member string
	Target Target
}

// Steps returns the install steps: every bin member, then every lib member,
// each in declaration order.
func (f *Formula) Steps() []Step {
	steps := make([]Step, 0, len(f.Install.Bin)+len(f.Install.Lib))
	for _, m := range f.Install.Bin {
		steps = append(steps, Step{Member: m, Target: TargetBin})
	}
	for _, m := range f.Install.Lib {
		steps = append(steps, Step{Member: m, Target: TargetLib})
	}
	return steps
}

// applyDefaults fills in the smoke test when the formula leaves it out.
func (f *Formula) applyDefaults() {
	if f.Test.Command == "" && len(f.Install.Bin) > 0 {
		f.Test.Command = path.Base(f.Install.Bin[0])
	}
	if f.Test.Command != "" && f.Test.Args == nil {
		f.Test.Args = append([]string(nil), DefaultTestArgs...)
	}
}
