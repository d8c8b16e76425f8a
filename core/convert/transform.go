package convert

import (
	"fmt"
	"strings"

	"pgmerge/core/utils"
)

// TransformFunc maps source values (in Transform.Sources order) to target
// values (in Transform.Targets order). Values are raw, before conversion.
type TransformFunc func(sources []any) ([]any, error)

// Transform maps one or more source columns to one or more target columns.
type Transform struct {
	Name    string
	Sources []string
	Targets []string
	Fn      TransformFunc
}

// Apply runs the transform over source values and checks the result shape.
func (t Transform) Apply(sources []any) ([]any, error) {
	if len(sources) != len(t.Sources) {
		return nil, t.fail(fmt.Errorf("expected %d source values, got %d", len(t.Sources), len(sources)))
	}
	out, err := t.Fn(sources)
	if err != nil {
		return nil, t.fail(err)
	}
	if len(out) != len(t.Targets) {
		return nil, t.fail(fmt.Errorf("produced %d values for %d targets", len(out), len(t.Targets)))
	}
	return out, nil
}

func (t Transform) fail(err error) error {
	return &TransformError{Transform: t.Name, Sources: t.Sources, Targets: t.Targets, Err: err}
}

// Concat joins the source values with sep into a single target. NULL sources
// are skipped; if every source is NULL the target is NULL.
func Concat(name, sep string, sources []string, target string) Transform {
	return Transform{
		Name:    name,
		Sources: sources,
		Targets: []string{target},
		Fn: func(values []any) ([]any, error) {
			var parts []string
			for _, v := range values {
				if v != nil {
					parts = append(parts, utils.ToString(v))
				}
			}
			if parts == nil {
				return []any{nil}, nil
			}
			return []any{strings.Join(parts, sep)}, nil
		},
	}
}

// Split splits a single source value on sep into exactly len(targets) parts.
// A NULL source yields NULL for every target.
func Split(name, sep, source string, targets []string) Transform {
	return Transform{
		Name:    name,
		Sources: []string{source},
		Targets: targets,
		Fn: func(values []any) ([]any, error) {
			out := make([]any, len(targets))
			if values[0] == nil {
				return out, nil
			}
			parts := strings.SplitN(utils.ToString(values[0]), sep, len(targets))
			if len(parts) != len(targets) {
				return nil, fmt.Errorf("value %q has %d parts separated by %q, want %d", values[0], len(parts), sep, len(targets))
			}
			for i, p := range parts {
				out[i] = p
			}
			return out, nil
		},
	}
}

// Rename copies a source column into a differently named target.
func Rename(name, source, target string) Transform {
	return Transform{
		Name:    name,
		Sources: []string{source},
		Targets: []string{target},
		Fn: func(values []any) ([]any, error) {
			return []any{values[0]}, nil
		},
	}
}

// TransformSpec is the declarative form of a built-in transform as read from
// a job file.
type TransformSpec struct {
	Name      string   `mapstructure:"name" json:"name"`
	Kind      string   `mapstructure:"kind" json:"kind"`
	Sources   []string `mapstructure:"sources" json:"sources"`
	Targets   []string `mapstructure:"targets" json:"targets"`
	Separator string   `mapstructure:"separator" json:"separator"`
}

// Build returns the built-in transform described by the spec.
func (s TransformSpec) Build() (Transform, error) {
	name := s.Name
	if name == "" {
		name = s.Kind
	}
	bad := func(format string, args ...any) (Transform, error) {
		return Transform{}, &TransformError{Transform: name, Sources: s.Sources, Targets: s.Targets, Err: fmt.Errorf(format, args...)}
	}

	switch strings.ToLower(s.Kind) {
	case "concat", "merge":
		if len(s.Sources) == 0 || len(s.Targets) != 1 {
			return bad("concat needs at least one source and exactly one target")
		}
		return Concat(name, s.Separator, s.Sources, s.Targets[0]), nil
	case "split":
		if len(s.Sources) != 1 || len(s.Targets) == 0 {
			return bad("split needs exactly one source and at least one target")
		}
		if s.Separator == "" {
			return bad("split needs a separator")
		}
		return Split(name, s.Separator, s.Sources[0], s.Targets), nil
	case "rename", "copy":
		if len(s.Sources) != 1 || len(s.Targets) != 1 {
			return bad("rename needs exactly one source and one target")
		}
		return Rename(name, s.Sources[0], s.Targets[0]), nil
	}
	return bad("unknown transform kind %q", s.Kind)
}
