package starlarkrules

import (
	"fmt"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/depset"
	"github.com/bonsaibuild/bonsai/pkg/provider"

	"go.starlark.net/starlark"
)

// providerDecl is the value returned by provider(). Calling it
// constructs an instance; it also acts as the key under which
// dependents look the instance up on their dependencies.
type providerDecl struct {
	kind provider.Kind
}

var (
	_ starlark.Callable = &providerDecl{}

	defaultInfoDecl     = &providerDecl{kind: provider.KindDefaultInfo}
	outputGroupInfoDecl = &providerDecl{kind: provider.KindOutputGroupInfo}
)

func (pd *providerDecl) String() string {
	return fmt.Sprintf("<provider %s>", pd.kind.String())
}

func (pd *providerDecl) Type() string {
	return "provider"
}

func (pd *providerDecl) Freeze() {}

func (pd *providerDecl) Truth() starlark.Bool {
	return starlark.True
}

func (pd *providerDecl) Hash() (uint32, error) {
	return starlark.String(pd.kind.String()).Hash()
}

func (pd *providerDecl) Name() string {
	return pd.kind.String()
}

func (pd *providerDecl) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("%s: got %d positional arguments, want 0", pd.Name(), len(args))
	}
	switch pd {
	case defaultInfoDecl:
		return newDefaultInfoInstance(kwargs)
	case outputGroupInfoDecl:
		return newOutputGroupInfoInstance(kwargs)
	default:
		return newInfoInstance(pd.kind, kwargs)
	}
}

func newDefaultInfoInstance(kwargs []starlark.Tuple) (starlark.Value, error) {
	var filesValue starlark.Value
	var executable starlark.Value
	var runfilesArg starlark.Value
	if err := starlark.UnpackArgs(
		"DefaultInfo", nil, kwargs,
		"files?", &filesValue,
		"executable?", &executable,
		"runfiles?", &runfilesArg,
	); err != nil {
		return nil, err
	}

	var di provider.DefaultInfo
	fields := starlark.StringDict{}
	if filesValue != nil {
		if dv, ok := filesValue.(*depsetValue); ok {
			di.Files = dv.ds
		} else {
			files, err := filesFromValue(filesValue)
			if err != nil {
				return nil, fmt.Errorf("DefaultInfo: for parameter files: %w", err)
			}
			di.Files = depset.New(depset.Postorder, files, nil)
		}
	}
	fields["files"] = newDepsetValue(di.Files)
	if executable != nil {
		fv, ok := executable.(*fileValue)
		if !ok {
			return nil, fmt.Errorf("DefaultInfo: for parameter executable: got %s, want File", executable.Type())
		}
		di.Executable = fv.f
		fields["executable"] = fv
	}
	if runfilesArg != nil {
		rv, ok := runfilesArg.(*runfilesValue)
		if !ok {
			return nil, fmt.Errorf("DefaultInfo: for parameter runfiles: got %s, want runfiles", runfilesArg.Type())
		}
		di.Runfiles = rv.r
		fields["runfiles"] = rv
	}
	return &providerInstance{p: di, fields: fields}, nil
}

func newOutputGroupInfoInstance(kwargs []starlark.Tuple) (starlark.Value, error) {
	groups := make(map[string]depset.DepSet[*actiongraph.File], len(kwargs))
	fields := starlark.StringDict{}
	for _, kwarg := range kwargs {
		name := string(kwarg[0].(starlark.String))
		if dv, ok := kwarg[1].(*depsetValue); ok {
			groups[name] = dv.ds
			fields[name] = dv
			continue
		}
		files, err := filesFromValue(kwarg[1])
		if err != nil {
			return nil, fmt.Errorf("OutputGroupInfo: for parameter %s: %w", name, err)
		}
		ds := depset.New(depset.Postorder, files, nil)
		groups[name] = ds
		fields[name] = newDepsetValue(ds)
	}
	return &providerInstance{
		p:      provider.OutputGroupInfo{Groups: groups},
		fields: fields,
	}, nil
}

func newInfoInstance(kind provider.Kind, kwargs []starlark.Tuple) (starlark.Value, error) {
	values := make(map[string]provider.Value, len(kwargs))
	fields := starlark.StringDict{}
	for _, kwarg := range kwargs {
		name := string(kwarg[0].(starlark.String))
		value, err := providerValueFromStarlark(kwarg[1])
		if err != nil {
			return nil, fmt.Errorf("%s: for parameter %s: %w", kind.String(), name, err)
		}
		values[name] = value
		fields[name] = kwarg[1]
	}
	return &providerInstance{
		p:      provider.NewInfo(kind, values),
		fields: fields,
	}, nil
}

// providerValueFromStarlark maps the closed set of field types a rule
// defined provider may carry.
func providerValueFromStarlark(v starlark.Value) (provider.Value, error) {
	switch typed := v.(type) {
	case starlark.String:
		return provider.NewStringValue(string(typed)), nil
	case *fileValue:
		return provider.NewFileValue(typed.f), nil
	case *depsetValue:
		return provider.NewFileSetValue(typed.ds), nil
	default:
		var strs []string
		if err := iterateElements(v, func(element starlark.Value) error {
			s, ok := element.(starlark.String)
			if !ok {
				return fmt.Errorf("got %s, want string", element.Type())
			}
			strs = append(strs, string(s))
			return nil
		}); err != nil {
			return provider.Value{}, fmt.Errorf("got %s, want string, File, depset or a list of strings", v.Type())
		}
		return provider.NewStringListValue(strs), nil
	}
}

// providerFromStarlark extracts the Go provider from a value returned
// by a rule implementation.
func providerFromStarlark(v starlark.Value) (provider.Provider, error) {
	pi, ok := v.(*providerInstance)
	if !ok {
		return nil, fmt.Errorf("got %s, want a provider instance", v.Type())
	}
	return pi.p, nil
}

var providerBuiltin = starlark.NewBuiltin(
	"provider",
	func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		return &providerDecl{kind: provider.NewKind(name)}, nil
	},
)

var depsetBuiltin = starlark.NewBuiltin(
	"depset",
	func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var direct starlark.Value
		var transitive starlark.Value
		order := "default"
		if err := starlark.UnpackArgs(
			b.Name(), args, kwargs,
			"direct?", &direct,
			"transitive?", &transitive,
			"order?", &order,
		); err != nil {
			return nil, err
		}

		var orderValue depset.Order
		switch order {
		case "default", "postorder":
			orderValue = depset.Postorder
		case "preorder":
			orderValue = depset.Preorder
		case "topological":
			orderValue = depset.Topological
		default:
			return nil, fmt.Errorf("%s: unknown order %s", b.Name(), order)
		}

		var directFiles []*actiongraph.File
		if direct != nil {
			var err error
			if directFiles, err = filesFromValue(direct); err != nil {
				return nil, fmt.Errorf("%s: for parameter direct: %w", b.Name(), err)
			}
		}
		var transitiveSets []depset.DepSet[*actiongraph.File]
		if transitive != nil {
			if err := iterateElements(transitive, func(element starlark.Value) error {
				dv, ok := element.(*depsetValue)
				if !ok {
					return fmt.Errorf("got %s, want depset", element.Type())
				}
				if !dv.ds.IsEmpty() && dv.ds.Order() != orderValue {
					return fmt.Errorf("transitive depset has order %s, want %s", dv.ds.Order(), orderValue)
				}
				transitiveSets = append(transitiveSets, dv.ds)
				return nil
			}); err != nil {
				return nil, fmt.Errorf("%s: for parameter transitive: %w", b.Name(), err)
			}
		}
		return newDepsetValue(depset.New(orderValue, directFiles, transitiveSets)), nil
	},
)
