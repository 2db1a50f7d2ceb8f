package analysis

import (
	"context"
	"regexp"
	"strings"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/configuration"
	"github.com/bonsaibuild/bonsai/pkg/graph"
	"github.com/bonsaibuild/bonsai/pkg/label"
	"github.com/bonsaibuild/bonsai/pkg/provider"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Implementation is the per rule kind analysis procedure. It receives a
// RuleContext through which it reads attributes, dependency providers
// and configuration fragments, and through which it declares files and
// registers actions. It must not perform I/O or start processes; it
// only constructs descriptions of future work.
type Implementation interface {
	Analyze(ctx context.Context, rctx *RuleContext) ([]provider.Provider, error)
}

// ImplementationFunc adapts a plain function to the Implementation
// interface.
type ImplementationFunc func(ctx context.Context, rctx *RuleContext) ([]provider.Provider, error)

func (f ImplementationFunc) Analyze(ctx context.Context, rctx *RuleContext) ([]provider.Provider, error) {
	return f(ctx, rctx)
}

// Dependency is one analyzed dependency of the target under analysis,
// exposing the dependency's full provider set. Only the providers of
// direct dependencies are visible; anything from further away must have
// been re-exported by the dependency itself.
type Dependency struct {
	configuredTarget *ConfiguredTarget
}

func (d *Dependency) Label() label.Label {
	return d.configuredTarget.Label()
}

// Provider returns the dependency's provider of the given kind. Reading
// a provider kind the dependency does not carry is a typed lookup
// failure.
func (d *Dependency) Provider(kind provider.Kind) (provider.Provider, error) {
	p, ok := d.configuredTarget.Providers().Get(kind)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Dependency %#v does not provide %#v", d.Label().String(), kind.String())
	}
	return p, nil
}

// DefaultInfo returns the dependency's DefaultInfo provider, which
// analysis guarantees to be present on every configured target.
func (d *Dependency) DefaultInfo() provider.DefaultInfo {
	p, _ := d.configuredTarget.Providers().Get(provider.KindDefaultInfo)
	return p.(provider.DefaultInfo)
}

// RuleContext gives a rule implementation access to the target under
// analysis. All attribute values were validated against the rule kind's
// schema before the implementation was invoked.
type RuleContext struct {
	target       *graph.Target
	ruleKind     *RuleKind
	config       *configuration.Configuration
	transitioner *configuration.Transitioner
	deps         map[memoKey]*Dependency
	actionGraph  *actiongraph.ActionGraph
	outputPrefix string

	actions     []*actiongraph.Action
	predeclared []*actiongraph.File
}

func (rctx *RuleContext) Label() label.Label {
	return rctx.target.Label()
}

// RuleKind returns the rule kind of the target under analysis.
func (rctx *RuleContext) RuleKind() *RuleKind {
	return rctx.ruleKind
}

// HasAttr returns whether the target sets the given attribute.
func (rctx *RuleContext) HasAttr(name string) bool {
	_, ok := rctx.target.Attr(name)
	return ok
}

// Role returns the role of the configuration under which the target is
// being analyzed.
func (rctx *RuleContext) Role() configuration.Role {
	return rctx.config.Role()
}

// Fragment returns a configuration fragment. The rule kind must have
// declared the fragment, and the configuration under which the target
// is analyzed must carry it; neither falls back to a silent default.
func (rctx *RuleContext) Fragment(name string) (*configuration.Fragment, error) {
	if _, ok := rctx.ruleKind.fragments[name]; !ok {
		return nil, status.Errorf(codes.InvalidArgument, "Rule kind %#v accesses configuration fragment %#v without declaring it", rctx.ruleKind.name, name)
	}
	fragment, ok := rctx.config.GetFragment(name)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "Configuration fragment %#v is not present in the %s configuration of target %#v", name, rctx.config.Role(), rctx.Label().String())
	}
	return fragment, nil
}

func (rctx *RuleContext) attr(name string, kind graph.AttrKind) (graph.AttrValue, bool, error) {
	schema, ok := rctx.ruleKind.attrs[name]
	if !ok {
		return graph.AttrValue{}, false, status.Errorf(codes.InvalidArgument, "Rule kind %#v does not declare attribute %#v", rctx.ruleKind.name, name)
	}
	if schema.Kind != kind {
		return graph.AttrValue{}, false, status.Errorf(codes.InvalidArgument, "Attribute %#v of rule kind %#v is a %s, not a %s", name, rctx.ruleKind.name, schema.Kind, kind)
	}
	value, ok := rctx.target.Attr(name)
	return value, ok, nil
}

func (rctx *RuleContext) AttrString(name string) (string, error) {
	value, _, err := rctx.attr(name, graph.AttrString)
	return value.AsString(), err
}

func (rctx *RuleContext) AttrBool(name string) (bool, error) {
	value, _, err := rctx.attr(name, graph.AttrBool)
	return value.AsBool(), err
}

func (rctx *RuleContext) AttrInt(name string) (int64, error) {
	value, _, err := rctx.attr(name, graph.AttrInt)
	return value.AsInt(), err
}

func (rctx *RuleContext) AttrStringList(name string) ([]string, error) {
	value, _, err := rctx.attr(name, graph.AttrStringList)
	return value.AsStringList(), err
}

// attrDep looks a dependency up under the configuration the attribute's
// transition yields. The same label behind two attributes with
// differing transitions resolves to two distinct dependencies.
func (rctx *RuleContext) attrDep(name string, l label.Label) *Dependency {
	depConfig := rctx.transitioner.Apply(rctx.config, rctx.ruleKind.attrs[name].Transition)
	return rctx.deps[memoKey{
		label:                    l,
		configurationFingerprint: depConfig.Fingerprint(),
	}]
}

// AttrDep returns the analyzed dependency behind a label attribute, or
// nil if the attribute is unset.
func (rctx *RuleContext) AttrDep(name string) (*Dependency, error) {
	value, ok, err := rctx.attr(name, graph.AttrLabel)
	if err != nil || !ok {
		return nil, err
	}
	return rctx.attrDep(name, value.Labels()[0]), nil
}

// AttrDeps returns the analyzed dependencies behind a label list
// attribute.
func (rctx *RuleContext) AttrDeps(name string) ([]*Dependency, error) {
	value, _, err := rctx.attr(name, graph.AttrLabelList)
	if err != nil {
		return nil, err
	}
	labels := value.Labels()
	deps := make([]*Dependency, 0, len(labels))
	for _, l := range labels {
		deps = append(deps, rctx.attrDep(name, l))
	}
	return deps, nil
}

var outputTemplatePlaceholderRegexp = regexp.MustCompile(`%\{([a-z_]+)\}`)

// resolveOutputTemplate substitutes %{attr} placeholders in an output
// template with the target's string attribute values. %{name} resolves
// to the target's name.
func (rctx *RuleContext) resolveOutputTemplate(template string) (string, error) {
	var badPlaceholder error
	resolved := outputTemplatePlaceholderRegexp.ReplaceAllStringFunc(template, func(placeholder string) string {
		attrName := placeholder[len("%{") : len(placeholder)-len("}")]
		if attrName == "name" {
			return rctx.Label().GetTargetName().String()
		}
		if schema, ok := rctx.ruleKind.attrs[attrName]; ok && schema.Kind == graph.AttrString {
			if value, ok := rctx.target.Attr(attrName); ok {
				return value.AsString()
			}
		}
		if badPlaceholder == nil {
			badPlaceholder = status.Errorf(codes.InvalidArgument, "Output template %#v of target %#v references %#v, which is not a string attribute with a value", template, rctx.Label().String(), attrName)
		}
		return ""
	})
	if badPlaceholder != nil {
		return "", badPlaceholder
	}
	return resolved, nil
}

// PredeclaredOutput resolves the output template held by an output
// attribute and declares the resulting file, owned by the target.
func (rctx *RuleContext) PredeclaredOutput(name string) (*actiongraph.File, error) {
	value, ok, err := rctx.attr(name, graph.AttrOutput)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "Target %#v does not set output attribute %#v", rctx.Label().String(), name)
	}
	filename, err := rctx.resolveOutputTemplate(value.AsString())
	if err != nil {
		return nil, err
	}
	return rctx.declare(filename, true)
}

// DeclareFile declares a generated file owned by the target's analysis
// that is only reachable through providers.
func (rctx *RuleContext) DeclareFile(filename string) (*actiongraph.File, error) {
	return rctx.declare(filename, false)
}

func (rctx *RuleContext) declare(filename string, isPredeclared bool) (*actiongraph.File, error) {
	f, err := rctx.actionGraph.DeclareFile(rctx.Label(), rctx.outputPrefix+filename, isPredeclared)
	if err != nil {
		return nil, err
	}
	if isPredeclared {
		rctx.predeclared = append(rctx.predeclared, f)
	}
	return f, nil
}

// SourceFile returns the file object for a source file path relative to
// the target's package.
func (rctx *RuleContext) SourceFile(relativePath string) (*actiongraph.File, error) {
	path := relativePath
	if packagePath := rctx.Label().GetPackagePath(); packagePath != "" {
		path = packagePath + "/" + relativePath
	}
	return rctx.actionGraph.SourceFile(path)
}

// RegisterAction appends an action to the target's action list and
// records it in the action graph. Whether the action ever runs depends
// on its outputs being reachable from the files the build request asks
// for.
func (rctx *RuleContext) RegisterAction(mnemonic string, inputs, outputs []*actiongraph.File, run actiongraph.RunFunc) (*actiongraph.Action, error) {
	a, err := rctx.actionGraph.RegisterAction(rctx.Label(), mnemonic, inputs, outputs, run)
	if err != nil {
		return nil, err
	}
	rctx.actions = append(rctx.actions, a)
	return a, nil
}

// outputPrefixFor returns the directory below which all files generated
// for a target under a given configuration are placed. The prefix
// contains a digest of the configuration, so that the same target
// analyzed under multiple configurations declares disjoint output
// paths.
func outputPrefixFor(t *graph.Target, config *configuration.Configuration) string {
	var sb strings.Builder
	sb.WriteString("bonsai-out/")
	sb.WriteString(config.Fingerprint()[:12])
	sb.WriteString("/bin/")
	if packagePath := t.Label().GetPackagePath(); packagePath != "" {
		sb.WriteString(packagePath)
		sb.WriteString("/")
	}
	return sb.String()
}
