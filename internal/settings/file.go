package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// LoadFile reads a YAML mapping of setting name to value, e.g.
//
//	REDIS_CONNECTION_STRING: localhost:6379
//	HTTPS_ENDPOINT_URLS: https://example.com/;https://example.org/
//
// Scalars of any type are accepted and stored as strings.
func LoadFile(path string) (Map, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read settings file %s", path)
	}
	return Parse(b)
}

// Parse decodes YAML settings. Unknown names are kept so typos surface in
// Unknown rather than being silently dropped.
func Parse(b []byte) (Map, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, xerrors.Wrap(err, "parse settings yaml")
	}
	out := make(Map, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = x
		case []any, map[string]any:
			return nil, xerrors.Newf("setting %s must be a scalar", k)
		default:
			out[k] = fmt.Sprint(x)
		}
	}
	return out, nil
}

// Unknown returns the names in m that are not recognized settings.
func (m Map) Unknown() []string {
	known := make(map[string]struct{}, len(Names))
	for _, n := range Names {
		known[n] = struct{}{}
	}
	var out []string
	for k := range m {
		if _, ok := known[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Resolve returns the process environment layered over the optional YAML
// file at path. Environment values win. unknown lists file entries that are
// not recognized setting names.
func Resolve(path string) (p Provider, unknown []string, err error) {
	if path == "" {
		return Env(), nil, nil
	}
	m, err := LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return Layered(Env(), m), m.Unknown(), nil
}
