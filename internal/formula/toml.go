package formula

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ParseTOML decodes a TOML formula. TOML formulas are static: they see neither
// the platform table nor vars, except that "{{key}}" placeholders in string
// fields are replaced from the parser's vars.
func (p *Parser) ParseTOML(data []byte) (*Formula, error) {
	var f Formula
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, &ParseError{
			Message: "TOML syntax error",
			Detail:  err.Error(),
		}
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, &ParseError{
			Message: "unknown formula keys",
			Detail:  strings.Join(keys, ", "),
		}
	}

	if len(p.vars) > 0 {
		expand := func(s string) string {
			for k, v := range p.vars {
				s = strings.ReplaceAll(s, fmt.Sprintf("{{%s}}", k), v)
			}
			return s
		}
		f.URL = expand(f.URL)
		f.SHA256 = expand(f.SHA256)
		f.Version = expand(f.Version)
		f.Signature = expand(f.Signature)
	}

	return finish(&f)
}
