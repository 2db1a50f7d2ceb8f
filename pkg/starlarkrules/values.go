package starlarkrules

import (
	"fmt"
	"sort"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/depset"
	"github.com/bonsaibuild/bonsai/pkg/provider"
	"github.com/bonsaibuild/bonsai/pkg/runfiles"

	"go.starlark.net/starlark"
)

// fileValue exposes an action graph file to Starlark rule
// implementations.
type fileValue struct {
	f *actiongraph.File
}

var _ starlark.HasAttrs = &fileValue{}

func newFileValue(f *actiongraph.File) *fileValue {
	return &fileValue{f: f}
}

func (fv *fileValue) String() string {
	return fmt.Sprintf("<File %s>", fv.f.Path())
}

func (fv *fileValue) Type() string {
	return "File"
}

func (fv *fileValue) Freeze() {}

func (fv *fileValue) Truth() starlark.Bool {
	return starlark.True
}

func (fv *fileValue) Hash() (uint32, error) {
	return starlark.String(fv.f.Path()).Hash()
}

func (fv *fileValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "path":
		return starlark.String(fv.f.Path()), nil
	case "basename":
		path := fv.f.Path()
		for i := len(path) - 1; i >= 0; i-- {
			if path[i] == '/' {
				return starlark.String(path[i+1:]), nil
			}
		}
		return starlark.String(path), nil
	case "is_source":
		return starlark.Bool(fv.f.IsSource()), nil
	default:
		return nil, nil
	}
}

func (fv *fileValue) AttrNames() []string {
	return []string{"basename", "is_source", "path"}
}

// depsetValue wraps a depset of files.
type depsetValue struct {
	ds depset.DepSet[*actiongraph.File]
}

var _ starlark.HasAttrs = &depsetValue{}

func newDepsetValue(ds depset.DepSet[*actiongraph.File]) *depsetValue {
	return &depsetValue{ds: ds}
}

func (dv *depsetValue) String() string {
	return "<depset>"
}

func (dv *depsetValue) Type() string {
	return "depset"
}

func (dv *depsetValue) Freeze() {}

func (dv *depsetValue) Truth() starlark.Bool {
	return starlark.Bool(len(dv.ds.ToList()) > 0)
}

func (dv *depsetValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("depset is not hashable")
}

func (dv *depsetValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "to_list":
		return starlark.NewBuiltin("to_list", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			files := dv.ds.ToList()
			elements := make([]starlark.Value, 0, len(files))
			for _, f := range files {
				elements = append(elements, newFileValue(f))
			}
			return starlark.NewList(elements), nil
		}), nil
	default:
		return nil, nil
	}
}

func (dv *depsetValue) AttrNames() []string {
	return []string{"to_list"}
}

// runfilesValue wraps a runfiles manifest.
type runfilesValue struct {
	r runfiles.Runfiles
}

var _ starlark.HasAttrs = &runfilesValue{}

func newRunfilesValue(r runfiles.Runfiles) *runfilesValue {
	return &runfilesValue{r: r}
}

func (rv *runfilesValue) String() string {
	return "<runfiles>"
}

func (rv *runfilesValue) Type() string {
	return "runfiles"
}

func (rv *runfilesValue) Freeze() {}

func (rv *runfilesValue) Truth() starlark.Bool {
	return starlark.Bool(len(rv.r.Paths()) > 0)
}

func (rv *runfilesValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("runfiles is not hashable")
}

func (rv *runfilesValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "merge_all":
		return starlark.NewBuiltin("merge_all", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var others starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "runfiles", &others); err != nil {
				return nil, err
			}
			sets := []runfiles.Runfiles{rv.r}
			if err := iterateElements(others, func(element starlark.Value) error {
				other, ok := element.(*runfilesValue)
				if !ok {
					return fmt.Errorf("got %s, want runfiles", element.Type())
				}
				sets = append(sets, other.r)
				return nil
			}); err != nil {
				return nil, err
			}
			merged, err := runfiles.Merge(sets...)
			if err != nil {
				return nil, err
			}
			return newRunfilesValue(merged), nil
		}), nil
	default:
		return nil, nil
	}
}

func (rv *runfilesValue) AttrNames() []string {
	return []string{"merge_all"}
}

// providerInstance is a provider as returned by a rule implementation:
// the underlying Go provider plus the Starlark visible fields.
type providerInstance struct {
	p      provider.Provider
	fields starlark.StringDict
}

var _ starlark.HasAttrs = &providerInstance{}

func (pi *providerInstance) String() string {
	return fmt.Sprintf("<%s>", pi.p.ProviderKind().String())
}

func (pi *providerInstance) Type() string {
	return pi.p.ProviderKind().String()
}

func (pi *providerInstance) Freeze() {}

func (pi *providerInstance) Truth() starlark.Bool {
	return starlark.True
}

func (pi *providerInstance) Hash() (uint32, error) {
	return 0, fmt.Errorf("%s is not hashable", pi.Type())
}

func (pi *providerInstance) Attr(name string) (starlark.Value, error) {
	if value, ok := pi.fields[name]; ok {
		return value, nil
	}
	return nil, nil
}

func (pi *providerInstance) AttrNames() []string {
	names := make([]string, 0, len(pi.fields))
	for name := range pi.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// iterateElements applies fn to every element of a Starlark sequence.
func iterateElements(v starlark.Value, fn func(element starlark.Value) error) error {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return fmt.Errorf("got %s, want an iterable", v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()
	var element starlark.Value
	for iter.Next(&element) {
		if err := fn(element); err != nil {
			return err
		}
	}
	return nil
}

// filesFromValue accepts either a depset of files or a sequence of
// files, the two shapes rule implementations commonly pass around.
func filesFromValue(v starlark.Value) ([]*actiongraph.File, error) {
	if dv, ok := v.(*depsetValue); ok {
		return dv.ds.ToList(), nil
	}
	var files []*actiongraph.File
	if err := iterateElements(v, func(element starlark.Value) error {
		fv, ok := element.(*fileValue)
		if !ok {
			return fmt.Errorf("got %s, want File", element.Type())
		}
		files = append(files, fv.f)
		return nil
	}); err != nil {
		return nil, err
	}
	return files, nil
}
