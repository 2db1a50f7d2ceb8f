package starlarkrules

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bonsaibuild/bonsai/pkg/analysis"
	"github.com/bonsaibuild/bonsai/pkg/provider"

	"go.starlark.net/starlark"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ruleDecl is the value returned by rule(). It is inert until it is
// bound to a global name, which becomes the rule kind's name at
// registration time.
type ruleDecl struct {
	implementation starlark.Callable
	attrs          map[string]*analysis.AttrSchema
	fragments      []string
}

var _ starlark.Value = &ruleDecl{}

func (rd *ruleDecl) String() string {
	return "<rule>"
}

func (rd *ruleDecl) Type() string {
	return "rule"
}

func (rd *ruleDecl) Freeze() {}

func (rd *ruleDecl) Truth() starlark.Bool {
	return starlark.True
}

func (rd *ruleDecl) Hash() (uint32, error) {
	return 0, fmt.Errorf("rule is not hashable")
}

var ruleBuiltin = starlark.NewBuiltin(
	"rule",
	func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var implementation starlark.Callable
		var attrs *starlark.Dict
		var fragmentsArg starlark.Value
		if err := starlark.UnpackArgs(
			b.Name(), args, kwargs,
			"implementation", &implementation,
			"attrs?", &attrs,
			"fragments?", &fragmentsArg,
		); err != nil {
			return nil, err
		}

		schemas := map[string]*analysis.AttrSchema{}
		if attrs != nil {
			for _, item := range attrs.Items() {
				name, ok := item[0].(starlark.String)
				if !ok {
					return nil, fmt.Errorf("%s: for parameter attrs: got %s key, want string", b.Name(), item[0].Type())
				}
				decl, ok := item[1].(*attrDecl)
				if !ok {
					return nil, fmt.Errorf("%s: for parameter attrs: got %s value, want Attribute", b.Name(), item[1].Type())
				}
				schema := decl.schema
				schemas[string(name)] = &schema
			}
		}

		var fragments []string
		if fragmentsArg != nil {
			if err := iterateElements(fragmentsArg, func(element starlark.Value) error {
				s, ok := element.(starlark.String)
				if !ok {
					return fmt.Errorf("got %s, want string", element.Type())
				}
				fragments = append(fragments, string(s))
				return nil
			}); err != nil {
				return nil, fmt.Errorf("%s: for parameter fragments: %w", b.Name(), err)
			}
		}

		return &ruleDecl{
			implementation: implementation,
			attrs:          schemas,
			fragments:      fragments,
		}, nil
	},
)

// Builtins returns the globals available to rule definition files.
func Builtins() starlark.StringDict {
	return starlark.StringDict{
		"DefaultInfo":     defaultInfoDecl,
		"OutputGroupInfo": outputGroupInfoDecl,
		"attr":            attrModule,
		"depset":          depsetBuiltin,
		"provider":        providerBuiltin,
		"rule":            ruleBuiltin,
	}
}

// LoadRules executes a rule definition file and registers every rule it
// binds to a global name. src may be nil to load filename from disk, or
// hold the file's contents as a string or byte slice.
func LoadRules(registry *analysis.Registry, filename string, src any) error {
	thread := &starlark.Thread{Name: filename}
	globals, err := starlark.ExecFile(thread, filename, src, Builtins())
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return status.Error(codes.InvalidArgument, evalErr.Backtrace())
		}
		return status.Errorf(codes.InvalidArgument, "Failed to load %#v: %s", filename, err)
	}

	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rd, ok := globals[name].(*ruleDecl)
		if !ok {
			continue
		}
		if err := registry.Register(name, rd.attrs, rd.fragments, &starlarkImplementation{rule: rd}); err != nil {
			return err
		}
	}
	return nil
}

// starlarkImplementation adapts a Starlark implementation function to
// the analysis engine's Implementation interface.
type starlarkImplementation struct {
	rule *ruleDecl
}

func (si *starlarkImplementation) Analyze(ctx context.Context, rctx *analysis.RuleContext) ([]provider.Provider, error) {
	thread := &starlark.Thread{Name: rctx.Label().String()}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	result, err := starlark.Call(thread, si.rule.implementation, starlark.Tuple{newRuleContextValue(rctx)}, nil)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			// Builtins called from Starlark return typed
			// errors; surface the innermost one instead of
			// wrapping the whole backtrace.
			if cause := evalErr.Unwrap(); cause != nil {
				if _, ok := status.FromError(cause); ok {
					return nil, cause
				}
			}
			return nil, status.Error(codes.Unknown, evalErr.Backtrace())
		}
		return nil, err
	}

	if result == starlark.None {
		return nil, nil
	}
	var providers []provider.Provider
	if err := iterateElements(result, func(element starlark.Value) error {
		p, err := providerFromStarlark(element)
		if err != nil {
			return err
		}
		providers = append(providers, p)
		return nil
	}); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Implementation function of target %#v returned %s, want None or a list of providers", rctx.Label().String(), result.Type())
	}
	return providers, nil
}
