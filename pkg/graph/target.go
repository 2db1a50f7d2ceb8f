package graph

import (
	"maps"
	"slices"

	"github.com/bonsaibuild/bonsai/pkg/label"
)

// Target is a single declared unit of work: a label, the name of the
// rule kind that gives it behavior, and attribute values. Targets are
// created when the loader hands over parsed declarations and are
// immutable thereafter.
type Target struct {
	label    label.Label
	ruleKind string
	attrs    map[string]AttrValue
}

func NewTarget(l label.Label, ruleKind string, attrs map[string]AttrValue) *Target {
	return &Target{
		label:    l,
		ruleKind: ruleKind,
		attrs:    maps.Clone(attrs),
	}
}

func (t *Target) Label() label.Label {
	return t.label
}

func (t *Target) RuleKind() string {
	return t.ruleKind
}

func (t *Target) Attr(name string) (AttrValue, bool) {
	value, ok := t.attrs[name]
	return value, ok
}

func (t *Target) AttrNames() []string {
	return slices.Sorted(maps.Keys(t.attrs))
}

// Dependencies returns the labels of all targets this target depends
// on, in a deterministic order. A target A depends on a target B if
// B's label appears in any label or label list valued attribute of A.
func (t *Target) Dependencies() []label.Label {
	seen := make(map[label.Label]struct{})
	var deps []label.Label
	for _, name := range t.AttrNames() {
		for _, l := range t.attrs[name].Labels() {
			if _, ok := seen[l]; !ok {
				seen[l] = struct{}{}
				deps = append(deps, l)
			}
		}
	}
	return deps
}
