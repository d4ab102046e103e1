// Package flavor picks the prebuilt TSL flavor that best matches a CPU.
//
// A targets file maps each architecture to the flavors built for it:
//
//	{
//	  "x86": [
//	    {"name": "avx2", "flags": "avx avx2"},
//	    {"name": "avx512", "flags": "avx512f avx512bw", "alternatives": {"avx512bw": "avx512_bw"}}
//	  ],
//	  "generic": [{"name": "scalar", "flags": ""}]
//	}
//
// Every flavor installs into a folder named <prefix>-<arch>-<name>. The
// generic/scalar flavor is the fallback and never competes with the others.
package flavor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// DefaultPrefix is the folder prefix used by the release bundle.
const DefaultPrefix = "tsl"

const (
	fallbackArch = "generic"
	fallbackName = "scalar"
)

// Spec is one flavor entry of a targets file.
type Spec struct {
	Name         string            `json:"name"`
	Flags        FlagList          `json:"flags"`
	Alternatives map[string]string `json:"alternatives,omitempty"`
}

// FlagList accepts either a space separated string or an array of strings.
type FlagList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *FlagList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = normalize(strings.Fields(s))
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("flags must be a string or a list of strings")
	}
	var fields []string
	for _, f := range list {
		fields = append(fields, strings.Fields(f)...)
	}
	*l = normalize(fields)
	return nil
}

// Flavor is a selectable build.
type Flavor struct {
	Arch   string
	Name   string
	Folder string
	// Flags is the default required flag set.
	Flags []string
	// Alternatives are further flag sets that also satisfy this flavor.
	Alternatives [][]string
}

// FlagSets returns the default set followed by the alternatives.
func (f Flavor) FlagSets() [][]string {
	return append([][]string{f.Flags}, f.Alternatives...)
}

// Catalog is a parsed targets file.
type Catalog struct {
	Flavors  []Flavor
	Fallback string
}

// Load reads a targets file from disk.
func Load(path, prefix string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	cat, err := Parse(data, prefix)
	if err != nil {
		return nil, fmt.Errorf("parse targets file %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes a targets file. Architectures and flavors keep the order
// in which the file declares them.
func Parse(data []byte, prefix string) (*Catalog, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	cat := &Catalog{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		arch, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}

		var specs []Spec
		if err := dec.Decode(&specs); err != nil {
			return nil, fmt.Errorf("architecture %q: %w", arch, err)
		}

		for _, s := range specs {
			if s.Name == "" {
				return nil, fmt.Errorf("architecture %q: flavor without a name", arch)
			}
			folder := fmt.Sprintf("%s-%s-%s", prefix, arch, s.Name)
			if arch == fallbackArch && s.Name == fallbackName {
				cat.Fallback = folder
				continue
			}
			cat.Flavors = append(cat.Flavors, Flavor{
				Arch:         arch,
				Name:         s.Name,
				Folder:       folder,
				Flags:        []string(s.Flags),
				Alternatives: substitutions(s.Flags, s.Alternatives),
			})
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after targets object")
	}

	if cat.Fallback == "" {
		cat.Fallback = fmt.Sprintf("%s-%s-%s", prefix, fallbackArch, fallbackName)
	}
	return cat, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// substitutions expands alternatives into extra flag sets. Every non-empty
// combination of alternative keys is applied to flags; combinations that
// change nothing are dropped, as are duplicates.
func substitutions(flags []string, alternatives map[string]string) [][]string {
	if len(alternatives) == 0 {
		return nil
	}

	alt := make(map[string]string, len(alternatives))
	keys := make([]string, 0, len(alternatives))
	for k, v := range alternatives {
		k = strings.ToLower(strings.TrimSpace(k))
		alt[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)

	present := make(map[string]bool, len(flags))
	for _, f := range flags {
		present[f] = true
	}

	var out [][]string
	seen := map[string]bool{}
	n := len(keys)
	for mask := 1; mask < 1<<n; mask++ {
		replace := map[string]bool{}
		for i, k := range keys {
			if mask&(1<<i) != 0 && present[k] {
				replace[k] = true
			}
		}
		if len(replace) == 0 {
			continue
		}

		var set []string
		for _, f := range flags {
			if replace[f] {
				set = append(set, strings.Fields(alt[f])...)
				continue
			}
			set = append(set, f)
		}
		set = normalize(set)

		key := strings.Join(set, " ")
		if len(set) == 0 || seen[key] || key == strings.Join(flags, " ") {
			continue
		}
		seen[key] = true
		out = append(out, set)
	}
	return out
}

// Select returns the folder of the flavor whose flag set is fully present in
// cpuFlags and largest, together with the flag set that matched. Ties go to
// the flavor declared first. With no match it returns the fallback and nil.
func (c *Catalog) Select(cpuFlags []string) (string, []string) {
	have := make(map[string]bool, len(cpuFlags))
	for _, f := range cpuFlags {
		have[strings.ToLower(f)] = true
	}

	best, bestSet := "", []string(nil)
	bestSize := -1
	for _, fl := range c.Flavors {
		for _, set := range fl.FlagSets() {
			if len(set) <= bestSize || !subset(set, have) {
				continue
			}
			best, bestSet, bestSize = fl.Folder, set, len(set)
		}
	}

	if best == "" {
		return c.Fallback, nil
	}
	return best, bestSet
}

func subset(set []string, have map[string]bool) bool {
	for _, f := range set {
		if !have[f] {
			return false
		}
	}
	return true
}

func normalize(flags []string) []string {
	seen := make(map[string]bool, len(flags))
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
