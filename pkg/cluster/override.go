package cluster

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// OverrideKind tells which shape an OverrideValue holds.
type OverrideKind int

const (
	// OverrideScalar is a single string value.
	OverrideScalar OverrideKind = iota

	// OverrideList is an ordered sequence of strings.
	OverrideList
)

// OverrideValue is an override that may be written either as a bare string or
// as a list of strings. The shape is resolved once when the file is decoded.
type OverrideValue struct {
	kind   OverrideKind
	scalar string
	list   []string
}

// Scalar builds a single-string override.
func Scalar(value string) OverrideValue {
	return OverrideValue{kind: OverrideScalar, scalar: value}
}

// List builds a list override.
func List(items ...string) OverrideValue {
	return OverrideValue{kind: OverrideList, list: append([]string(nil), items...)}
}

// Kind reports the shape of the value.
func (v OverrideValue) Kind() OverrideKind {
	return v.kind
}

// IsZero reports whether the override carries no content.
func (v OverrideValue) IsZero() bool {
	return v.scalar == "" && len(v.list) == 0
}

// Lines returns the value as lines: a scalar is one line, a list one line per item.
func (v OverrideValue) Lines() []string {
	if v.kind == OverrideList {
		return append([]string(nil), v.list...)
	}
	if v.scalar == "" {
		return nil
	}
	return []string{v.scalar}
}

// String joins the lines with newlines.
func (v OverrideValue) String() string {
	return strings.Join(v.Lines(), "\n")
}

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (v *OverrideValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*v = OverrideValue{}
			return nil
		}
		*v = Scalar(node.Value)
		return nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: override list items must be strings", item.Line)
			}
			items = append(items, item.Value)
		}
		*v = List(items...)
		return nil
	default:
		return fmt.Errorf("line %d: override must be a string or a list of strings", node.Line)
	}
}

// MarshalYAML writes the value back in its original shape.
func (v OverrideValue) MarshalYAML() (interface{}, error) {
	if v.kind == OverrideList {
		return v.list, nil
	}
	return v.scalar, nil
}
