package starlarkrules

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/analysis"
	"github.com/bonsaibuild/bonsai/pkg/configuration"
	"github.com/bonsaibuild/bonsai/pkg/graph"
	"github.com/bonsaibuild/bonsai/pkg/provider"
	"github.com/bonsaibuild/bonsai/pkg/runfiles"
	"github.com/buildbarn/bb-storage/pkg/util"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ruleContextValue is the ctx object handed to Starlark rule
// implementation functions.
type ruleContextValue struct {
	rctx *analysis.RuleContext

	// Both structs are built on first access. ctx.outputs declares
	// the predeclared output files, which may only happen once.
	attrs   starlark.Value
	outputs starlark.Value
}

var _ starlark.HasAttrs = &ruleContextValue{}

func newRuleContextValue(rctx *analysis.RuleContext) *ruleContextValue {
	return &ruleContextValue{rctx: rctx}
}

func (cv *ruleContextValue) String() string {
	return fmt.Sprintf("<ctx %s>", cv.rctx.Label().String())
}

func (cv *ruleContextValue) Type() string {
	return "ctx"
}

func (cv *ruleContextValue) Freeze() {}

func (cv *ruleContextValue) Truth() starlark.Bool {
	return starlark.True
}

func (cv *ruleContextValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("ctx is not hashable")
}

func (cv *ruleContextValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "label":
		return starlark.String(cv.rctx.Label().String()), nil
	case "attr":
		return cv.attrStruct()
	case "outputs":
		return cv.outputsStruct()
	case "actions":
		return &actionsValue{rctx: cv.rctx}, nil
	case "fragment":
		return starlark.NewBuiltin("fragment", cv.fragment), nil
	case "runfiles":
		return starlark.NewBuiltin("runfiles", cv.runfiles), nil
	case "source_file":
		return starlark.NewBuiltin("source_file", cv.sourceFile), nil
	default:
		return nil, nil
	}
}

func (cv *ruleContextValue) AttrNames() []string {
	return []string{"actions", "attr", "fragment", "label", "outputs", "runfiles", "source_file"}
}

// attrStruct materializes ctx.attr: one member per declared attribute
// that the target sets, with label attributes resolved to their
// analyzed dependencies.
func (cv *ruleContextValue) attrStruct() (starlark.Value, error) {
	if cv.attrs != nil {
		return cv.attrs, nil
	}
	rctx := cv.rctx
	members := starlark.StringDict{}
	for _, attrName := range rctx.RuleKind().AttrNames() {
		schema, _ := rctx.RuleKind().AttrSchema(attrName)
		if !rctx.HasAttr(attrName) {
			if schema.Kind != graph.AttrOutput {
				members[attrName] = starlark.None
			}
			continue
		}
		switch schema.Kind {
		case graph.AttrString:
			value, err := rctx.AttrString(attrName)
			if err != nil {
				return nil, err
			}
			members[attrName] = starlark.String(value)
		case graph.AttrBool:
			value, err := rctx.AttrBool(attrName)
			if err != nil {
				return nil, err
			}
			members[attrName] = starlark.Bool(value)
		case graph.AttrInt:
			value, err := rctx.AttrInt(attrName)
			if err != nil {
				return nil, err
			}
			members[attrName] = starlark.MakeInt64(value)
		case graph.AttrStringList:
			values, err := rctx.AttrStringList(attrName)
			if err != nil {
				return nil, err
			}
			elements := make([]starlark.Value, 0, len(values))
			for _, value := range values {
				elements = append(elements, starlark.String(value))
			}
			members[attrName] = starlark.NewList(elements)
		case graph.AttrLabel:
			dep, err := rctx.AttrDep(attrName)
			if err != nil {
				return nil, err
			}
			members[attrName] = newDependencyValue(dep)
		case graph.AttrLabelList:
			deps, err := rctx.AttrDeps(attrName)
			if err != nil {
				return nil, err
			}
			elements := make([]starlark.Value, 0, len(deps))
			for _, dep := range deps {
				elements = append(elements, newDependencyValue(dep))
			}
			members[attrName] = starlark.NewList(elements)
		}
	}
	cv.attrs = starlarkstruct.FromStringDict(starlarkstruct.Default, members)
	return cv.attrs, nil
}

// outputsStruct materializes ctx.outputs: one member per output
// attribute the target sets, holding the predeclared file.
func (cv *ruleContextValue) outputsStruct() (starlark.Value, error) {
	if cv.outputs != nil {
		return cv.outputs, nil
	}
	rctx := cv.rctx
	members := starlark.StringDict{}
	for _, attrName := range rctx.RuleKind().AttrNames() {
		schema, _ := rctx.RuleKind().AttrSchema(attrName)
		if schema.Kind != graph.AttrOutput || !rctx.HasAttr(attrName) {
			continue
		}
		f, err := rctx.PredeclaredOutput(attrName)
		if err != nil {
			return nil, err
		}
		members[attrName] = newFileValue(f)
	}
	cv.outputs = starlarkstruct.FromStringDict(starlarkstruct.Default, members)
	return cv.outputs, nil
}

func (cv *ruleContextValue) fragment(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	fragment, err := cv.rctx.Fragment(name)
	if err != nil {
		return nil, err
	}
	return &fragmentValue{fragment: fragment}, nil
}

func (cv *ruleContextValue) runfiles(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var filesArg starlark.Value
	var symlinks *starlark.Dict
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"files?", &filesArg,
		"symlinks?", &symlinks,
	); err != nil {
		return nil, err
	}

	var files []*actiongraph.File
	if filesArg != nil {
		var err error
		if files, err = filesFromValue(filesArg); err != nil {
			return nil, fmt.Errorf("%s: for parameter files: %w", b.Name(), err)
		}
	}
	remapped := map[string]*actiongraph.File{}
	if symlinks != nil {
		for _, item := range symlinks.Items() {
			path, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("%s: for parameter symlinks: got %s key, want string", b.Name(), item[0].Type())
			}
			fv, ok := item[1].(*fileValue)
			if !ok {
				return nil, fmt.Errorf("%s: for parameter symlinks: got %s value, want File", b.Name(), item[1].Type())
			}
			remapped[string(path)] = fv.f
		}
	}
	r, err := runfiles.New(files, remapped)
	if err != nil {
		return nil, err
	}
	return newRunfilesValue(r), nil
}

func (cv *ruleContextValue) sourceFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	f, err := cv.rctx.SourceFile(path)
	if err != nil {
		return nil, err
	}
	return newFileValue(f), nil
}

// fragmentValue exposes one configuration fragment's parameters.
type fragmentValue struct {
	fragment *configuration.Fragment
}

var _ starlark.HasAttrs = &fragmentValue{}

func (fv *fragmentValue) String() string {
	return fmt.Sprintf("<fragment %s>", fv.fragment.Name())
}

func (fv *fragmentValue) Type() string {
	return "fragment"
}

func (fv *fragmentValue) Freeze() {}

func (fv *fragmentValue) Truth() starlark.Bool {
	return starlark.True
}

func (fv *fragmentValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("fragment is not hashable")
}

func (fv *fragmentValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "get":
		return starlark.NewBuiltin("get", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key); err != nil {
				return nil, err
			}
			value, ok := fv.fragment.Get(key)
			if !ok {
				return starlark.None, nil
			}
			return starlark.String(value), nil
		}), nil
	default:
		return nil, nil
	}
}

func (fv *fragmentValue) AttrNames() []string {
	return []string{"get"}
}

// dependencyValue exposes one analyzed dependency: indexing it with a
// provider yields the dependency's instance of that provider.
type dependencyValue struct {
	dep *analysis.Dependency
}

var (
	_ starlark.HasAttrs = &dependencyValue{}
	_ starlark.Mapping  = &dependencyValue{}
)

func newDependencyValue(dep *analysis.Dependency) starlark.Value {
	if dep == nil {
		return starlark.None
	}
	return &dependencyValue{dep: dep}
}

func (dv *dependencyValue) String() string {
	return fmt.Sprintf("<target %s>", dv.dep.Label().String())
}

func (dv *dependencyValue) Type() string {
	return "Target"
}

func (dv *dependencyValue) Freeze() {}

func (dv *dependencyValue) Truth() starlark.Bool {
	return starlark.True
}

func (dv *dependencyValue) Hash() (uint32, error) {
	return starlark.String(dv.dep.Label().String()).Hash()
}

func (dv *dependencyValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "label":
		return starlark.String(dv.dep.Label().String()), nil
	default:
		return nil, nil
	}
}

func (dv *dependencyValue) AttrNames() []string {
	return []string{"label"}
}

func (dv *dependencyValue) Get(key starlark.Value) (starlark.Value, bool, error) {
	decl, ok := key.(*providerDecl)
	if !ok {
		return nil, false, fmt.Errorf("got %s, want provider", key.Type())
	}
	p, err := dv.dep.Provider(decl.kind)
	if err != nil {
		return nil, false, err
	}
	return providerToStarlark(p), true, nil
}

// providerToStarlark rebuilds the Starlark view of a provider that a
// dependency's rule implementation returned.
func providerToStarlark(p provider.Provider) *providerInstance {
	fields := starlark.StringDict{}
	switch typed := p.(type) {
	case provider.DefaultInfo:
		fields["files"] = newDepsetValue(typed.Files)
		if typed.Executable != nil {
			fields["executable"] = newFileValue(typed.Executable)
		}
		fields["runfiles"] = newRunfilesValue(typed.Runfiles)
	case provider.OutputGroupInfo:
		for name, files := range typed.Groups {
			fields[name] = newDepsetValue(files)
		}
	case provider.Info:
		for _, name := range typed.FieldNames() {
			value, _ := typed.Field(name)
			switch value.Kind() {
			case provider.ValueString:
				fields[name] = starlark.String(value.AsString())
			case provider.ValueStringList:
				values := value.AsStringList()
				elements := make([]starlark.Value, 0, len(values))
				for _, s := range values {
					elements = append(elements, starlark.String(s))
				}
				fields[name] = starlark.NewList(elements)
			case provider.ValueFile:
				fields[name] = newFileValue(value.AsFile())
			case provider.ValueFileSet:
				fields[name] = newDepsetValue(value.AsFileSet())
			}
		}
	}
	return &providerInstance{p: p, fields: fields}
}

// actionsValue provides ctx.actions.declare_file, ctx.actions.run and
// ctx.actions.write.
type actionsValue struct {
	rctx *analysis.RuleContext
}

var _ starlark.HasAttrs = &actionsValue{}

func (av *actionsValue) String() string {
	return "<ctx.actions>"
}

func (av *actionsValue) Type() string {
	return "actions"
}

func (av *actionsValue) Freeze() {}

func (av *actionsValue) Truth() starlark.Bool {
	return starlark.True
}

func (av *actionsValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("actions is not hashable")
}

func (av *actionsValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "declare_file":
		return starlark.NewBuiltin("declare_file", av.declareFile), nil
	case "run":
		return starlark.NewBuiltin("run", av.run), nil
	case "write":
		return starlark.NewBuiltin("write", av.write), nil
	default:
		return nil, nil
	}
}

func (av *actionsValue) AttrNames() []string {
	return []string{"declare_file", "run", "write"}
}

func (av *actionsValue) declareFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var filename string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "filename", &filename); err != nil {
		return nil, err
	}
	f, err := av.rctx.DeclareFile(filename)
	if err != nil {
		return nil, err
	}
	return newFileValue(f), nil
}

func (av *actionsValue) run(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var outputsArg starlark.Value
	var inputsArg starlark.Value
	var executable string
	var argumentsArg starlark.Value
	mnemonic := "Action"
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"outputs", &outputsArg,
		"executable", &executable,
		"arguments?", &argumentsArg,
		"inputs?", &inputsArg,
		"mnemonic?", &mnemonic,
	); err != nil {
		return nil, err
	}

	outputs, err := filesFromValue(outputsArg)
	if err != nil {
		return nil, fmt.Errorf("%s: for parameter outputs: %w", b.Name(), err)
	}
	var inputs []*actiongraph.File
	if inputsArg != nil {
		if inputs, err = filesFromValue(inputsArg); err != nil {
			return nil, fmt.Errorf("%s: for parameter inputs: %w", b.Name(), err)
		}
	}
	arguments := []string{executable}
	if argumentsArg != nil {
		if err := iterateElements(argumentsArg, func(element starlark.Value) error {
			s, ok := element.(starlark.String)
			if !ok {
				return fmt.Errorf("got %s, want string", element.Type())
			}
			arguments = append(arguments, string(s))
			return nil
		}); err != nil {
			return nil, fmt.Errorf("%s: for parameter arguments: %w", b.Name(), err)
		}
	}

	if _, err := av.rctx.RegisterAction(mnemonic, inputs, outputs, runCommand(arguments)); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (av *actionsValue) write(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var output starlark.Value
	var content string
	var isExecutable bool
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"output", &output,
		"content", &content,
		"is_executable?", &isExecutable,
	); err != nil {
		return nil, err
	}
	fv, ok := output.(*fileValue)
	if !ok {
		return nil, fmt.Errorf("%s: for parameter output: got %s, want File", b.Name(), output.Type())
	}
	if _, err := av.rctx.RegisterAction("FileWrite", nil, []*actiongraph.File{fv.f}, writeFile(content, isExecutable)); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// runCommand returns a RunFunc that executes a subprocess. Output
// parent directories are created up front, as tools generally assume
// they exist.
func runCommand(arguments []string) actiongraph.RunFunc {
	return func(ctx context.Context, inputPaths, outputPaths []string) error {
		if err := createOutputDirectories(outputPaths); err != nil {
			return err
		}
		cmd := exec.CommandContext(ctx, arguments[0], arguments[1:]...)
		if output, err := cmd.CombinedOutput(); err != nil {
			return util.StatusWrapf(err, "Command %#v failed with output %#v", arguments[0], string(output))
		}
		return nil
	}
}

func writeFile(content string, isExecutable bool) actiongraph.RunFunc {
	return func(ctx context.Context, inputPaths, outputPaths []string) error {
		if err := createOutputDirectories(outputPaths); err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if isExecutable {
			mode = 0o755
		}
		return os.WriteFile(outputPaths[0], []byte(content), mode)
	}
}

func createOutputDirectories(outputPaths []string) error {
	directories := make([]string, 0, len(outputPaths))
	for _, path := range outputPaths {
		directories = append(directories, filepath.Dir(path))
	}
	sort.Strings(directories)
	for _, directory := range directories {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return util.StatusWrapf(err, "Failed to create output directory %#v", directory)
		}
	}
	return nil
}
