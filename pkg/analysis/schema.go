package analysis

import (
	"sort"

	"github.com/bonsaibuild/bonsai/pkg/configuration"
	"github.com/bonsaibuild/bonsai/pkg/graph"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AttrSchema declares a single attribute of a rule kind: its type,
// whether it is mandatory, and for label typed attributes the
// configuration transition of the dependency edge.
type AttrSchema struct {
	Kind      graph.AttrKind
	Mandatory bool

	// Transition applies to AttrLabel and AttrLabelList
	// attributes. Edges inherit the parent's configuration unless
	// the attribute declares otherwise.
	Transition configuration.TransitionKind
	// TransitionDeclared records that the schema names a transition
	// explicitly rather than relying on the default.
	TransitionDeclared bool
	// Executable requires every dependency behind this attribute to
	// designate an executable file in its DefaultInfo provider.
	// Executable attributes must declare their transition
	// explicitly; there is no silent default.
	Executable bool
}

// baseAttrSchema is merged into every rule kind's declared schema at
// registration time, so that implicitly present attributes are ordinary
// schema entries rather than hidden runtime injections.
var baseAttrSchema = map[string]*AttrSchema{
	"tags":     {Kind: graph.AttrStringList},
	"testonly": {Kind: graph.AttrBool},
}

// RuleKind couples an attribute schema, the set of configuration
// fragments the rule's logic may read, and the implementation that
// performs analysis.
type RuleKind struct {
	name           string
	attrs          map[string]*AttrSchema
	fragments      map[string]struct{}
	implementation Implementation
}

func (rk *RuleKind) Name() string {
	return rk.name
}

// AttrNames returns the names of all declared attributes, including the
// base attributes, in sorted order.
func (rk *RuleKind) AttrNames() []string {
	names := make([]string, 0, len(rk.attrs))
	for name := range rk.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AttrSchema returns the schema of a declared attribute.
func (rk *RuleKind) AttrSchema(name string) (*AttrSchema, bool) {
	schema, ok := rk.attrs[name]
	return schema, ok
}

// Registry holds all known rule kinds.
type Registry struct {
	kinds map[string]*RuleKind
}

func NewRegistry() *Registry {
	return &Registry{
		kinds: map[string]*RuleKind{},
	}
}

// Register validates and adds a rule kind. The base schema is merged
// into the declared attributes; an executable label attribute without
// an explicitly declared transition is rejected here, before any target
// of the kind can be analyzed.
func (r *Registry) Register(name string, attrs map[string]*AttrSchema, fragments []string, implementation Implementation) error {
	if _, ok := r.kinds[name]; ok {
		return status.Errorf(codes.AlreadyExists, "Rule kind %#v is already registered", name)
	}

	merged := make(map[string]*AttrSchema, len(baseAttrSchema)+len(attrs))
	for attrName, schema := range baseAttrSchema {
		merged[attrName] = schema
	}
	for attrName, schema := range attrs {
		if _, ok := baseAttrSchema[attrName]; ok {
			return status.Errorf(codes.InvalidArgument, "Rule kind %#v redeclares base attribute %#v", name, attrName)
		}
		isLabelKind := schema.Kind == graph.AttrLabel || schema.Kind == graph.AttrLabelList
		if schema.Executable {
			if !isLabelKind {
				return status.Errorf(codes.InvalidArgument, "Attribute %#v of rule kind %#v is marked executable, but is not label typed", attrName, name)
			}
			if !schema.TransitionDeclared {
				return status.Errorf(codes.InvalidArgument, "Executable attribute %#v of rule kind %#v does not declare a configuration transition", attrName, name)
			}
		}
		if schema.TransitionDeclared && !isLabelKind {
			return status.Errorf(codes.InvalidArgument, "Attribute %#v of rule kind %#v declares a configuration transition, but is not label typed", attrName, name)
		}
		merged[attrName] = schema
	}

	fragmentSet := make(map[string]struct{}, len(fragments))
	for _, fragment := range fragments {
		fragmentSet[fragment] = struct{}{}
	}

	r.kinds[name] = &RuleKind{
		name:           name,
		attrs:          merged,
		fragments:      fragmentSet,
		implementation: implementation,
	}
	return nil
}

// GetRuleKind returns a registered rule kind by name.
func (r *Registry) GetRuleKind(name string) (*RuleKind, error) {
	rk, ok := r.kinds[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Rule kind %#v is not registered", name)
	}
	return rk, nil
}

// validateAttrs checks a target's attribute values against its rule
// kind's schema once, at analysis entry. Rule implementations may
// therefore access attributes without further validation.
func (rk *RuleKind) validateAttrs(t *graph.Target) error {
	for _, attrName := range t.AttrNames() {
		schema, ok := rk.attrs[attrName]
		if !ok {
			return status.Errorf(codes.InvalidArgument, "Target %#v sets attribute %#v, which rule kind %#v does not declare", t.Label().String(), attrName, rk.name)
		}
		value, _ := t.Attr(attrName)
		if value.Kind() != schema.Kind {
			return status.Errorf(codes.InvalidArgument, "Attribute %#v of target %#v is a %s, but rule kind %#v declares it as a %s", attrName, t.Label().String(), value.Kind(), rk.name, schema.Kind)
		}
	}
	for attrName, schema := range rk.attrs {
		if schema.Mandatory {
			if _, ok := t.Attr(attrName); !ok {
				return status.Errorf(codes.InvalidArgument, "Target %#v does not set mandatory attribute %#v", t.Label().String(), attrName)
			}
		}
	}
	return nil
}
