package starlarkrules

import (
	"fmt"

	"github.com/bonsaibuild/bonsai/pkg/analysis"
	"github.com/bonsaibuild/bonsai/pkg/configuration"
	"github.com/bonsaibuild/bonsai/pkg/graph"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// attrDecl is the value returned by the attr.* constructors: one
// attribute schema awaiting attachment to a rule.
type attrDecl struct {
	schema analysis.AttrSchema
}

var _ starlark.Value = &attrDecl{}

func (ad *attrDecl) String() string {
	return fmt.Sprintf("<attr.%s>", ad.schema.Kind)
}

func (ad *attrDecl) Type() string {
	return "Attribute"
}

func (ad *attrDecl) Freeze() {}

func (ad *attrDecl) Truth() starlark.Bool {
	return starlark.True
}

func (ad *attrDecl) Hash() (uint32, error) {
	return 0, fmt.Errorf("Attribute is not hashable")
}

func newSimpleAttrBuiltin(name string, kind graph.AttrKind) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var mandatory bool
		if err := starlark.UnpackArgs(
			b.Name(), args, kwargs,
			"mandatory?", &mandatory,
		); err != nil {
			return nil, err
		}
		return &attrDecl{
			schema: analysis.AttrSchema{
				Kind:      kind,
				Mandatory: mandatory,
			},
		}, nil
	})
}

func newLabelAttrBuiltin(name string, kind graph.AttrKind) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var mandatory, executable bool
		var cfg string
		if err := starlark.UnpackArgs(
			b.Name(), args, kwargs,
			"mandatory?", &mandatory,
			"executable?", &executable,
			"cfg?", &cfg,
		); err != nil {
			return nil, err
		}
		schema := analysis.AttrSchema{
			Kind:       kind,
			Mandatory:  mandatory,
			Executable: executable,
		}
		if cfg != "" {
			transition, err := configuration.ParseTransitionKind(cfg)
			if err != nil {
				return nil, fmt.Errorf("%s: for parameter cfg: %w", b.Name(), err)
			}
			schema.Transition = transition
			schema.TransitionDeclared = true
		}
		return &attrDecl{schema: schema}, nil
	})
}

// attrModule provides attr.string(), attr.label() and friends inside
// rule definition files.
var attrModule = &starlarkstruct.Module{
	Name: "attr",
	Members: starlark.StringDict{
		"string":      newSimpleAttrBuiltin("attr.string", graph.AttrString),
		"bool":        newSimpleAttrBuiltin("attr.bool", graph.AttrBool),
		"int":         newSimpleAttrBuiltin("attr.int", graph.AttrInt),
		"string_list": newSimpleAttrBuiltin("attr.string_list", graph.AttrStringList),
		"output":      newSimpleAttrBuiltin("attr.output", graph.AttrOutput),
		"label":       newLabelAttrBuiltin("attr.label", graph.AttrLabel),
		"label_list":  newLabelAttrBuiltin("attr.label_list", graph.AttrLabelList),
	},
}
