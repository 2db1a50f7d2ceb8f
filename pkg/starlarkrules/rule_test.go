package starlarkrules_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/analysis"
	"github.com/bonsaibuild/bonsai/pkg/configuration"
	"github.com/bonsaibuild/bonsai/pkg/graph"
	"github.com/bonsaibuild/bonsai/pkg/label"
	"github.com/bonsaibuild/bonsai/pkg/provider"
	"github.com/bonsaibuild/bonsai/pkg/starlarkrules"
	"github.com/stretchr/testify/require"
)

var (
	targetConfiguration = configuration.New(configuration.RoleTarget, map[string]map[string]string{
		"platform": {"cpu": "aarch64"},
	})
	hostConfiguration = configuration.New(configuration.RoleHost, nil)
)

func analyzeWithRules(t *testing.T, ruleDefinitions string, targets []*graph.Target, requested string) (*analysis.ConfiguredTarget, error) {
	registry := analysis.NewRegistry()
	require.NoError(t, starlarkrules.LoadRules(registry, "rules.bzl", ruleDefinitions))
	tg, err := graph.NewTargetGraph(targets)
	require.NoError(t, err)
	engine := analysis.NewEngine(
		tg,
		registry,
		configuration.NewTransitioner(hostConfiguration),
		actiongraph.NewActionGraph())
	return engine.GetConfiguredTarget(context.Background(), label.MustNewLabel(requested), targetConfiguration)
}

func TestLoadRules(t *testing.T) {
	t.Run("RegistersGlobals", func(t *testing.T) {
		registry := analysis.NewRegistry()
		require.NoError(t, starlarkrules.LoadRules(registry, "rules.bzl", `
def _noop_impl(ctx):
    pass

my_rule = rule(implementation = _noop_impl)
_internal_rule = rule(implementation = _noop_impl)
SOME_CONSTANT = 42
`))
		_, err := registry.GetRuleKind("my_rule")
		require.NoError(t, err)
		_, err = registry.GetRuleKind("_internal_rule")
		require.NoError(t, err)
		_, err = registry.GetRuleKind("SOME_CONSTANT")
		require.Error(t, err)
	})

	t.Run("SyntaxError", func(t *testing.T) {
		registry := analysis.NewRegistry()
		require.Error(t, starlarkrules.LoadRules(registry, "rules.bzl", "def broken(:\n"))
	})

	t.Run("ExecutableWithoutCfg", func(t *testing.T) {
		// Registration validates the schema, so a malformed
		// rule fails at load time rather than during analysis.
		registry := analysis.NewRegistry()
		err := starlarkrules.LoadRules(registry, "rules.bzl", `
def _impl(ctx):
    pass

bad_rule = rule(
    implementation = _impl,
    attrs = {"tool": attr.label(executable = True)},
)
`)
		require.Error(t, err)
		require.Contains(t, err.Error(), "does not declare a configuration transition")
	})
}

func TestStarlarkAnalysis(t *testing.T) {
	const ruleDefinitions = `
ArchiveInfo = provider(name = "ArchiveInfo")

def _archive_impl(ctx):
    out = ctx.outputs.out
    ctx.actions.run(
        outputs = [out],
        inputs = [ctx.source_file(s) for s in ctx.attr.srcs],
        executable = "/usr/bin/ar",
        arguments = ["rcs", out.path],
        mnemonic = "Archive",
    )
    return [
        DefaultInfo(files = depset(direct = [out])),
        ArchiveInfo(archive = out, flags = ctx.attr.flags),
        OutputGroupInfo(archives = [out]),
    ]

archive = rule(
    implementation = _archive_impl,
    attrs = {
        "srcs": attr.string_list(mandatory = True),
        "flags": attr.string_list(),
        "out": attr.output(mandatory = True),
    },
)

def _binary_impl(ctx):
    dep = ctx.attr.lib
    archive = dep[ArchiveInfo].archive
    transitive = dep[DefaultInfo].files
    out = ctx.outputs.out
    ctx.actions.run(
        outputs = [out],
        inputs = transitive.to_list(),
        executable = "/usr/bin/cc",
        arguments = [archive.path, "-o", out.path],
        mnemonic = "Link",
    )
    return [DefaultInfo(
        files = depset(direct = [out], transitive = [transitive]),
        executable = out,
        runfiles = ctx.runfiles(symlinks = {"data/config.txt": out}),
    )]

binary = rule(
    implementation = _binary_impl,
    attrs = {
        "lib": attr.label(mandatory = True),
        "out": attr.output(mandatory = True),
    },
)
`
	targets := []*graph.Target{
		graph.NewTarget(
			label.MustNewLabel("//app:bin"),
			"binary",
			map[string]graph.AttrValue{
				"lib": graph.NewLabelValue(label.MustNewLabel("//app:lib")),
				"out": graph.NewOutputValue("%{name}"),
			}),
		graph.NewTarget(
			label.MustNewLabel("//app:lib"),
			"archive",
			map[string]graph.AttrValue{
				"srcs":  graph.NewStringListValue([]string{"lib.c"}),
				"flags": graph.NewStringListValue([]string{"-O2"}),
				"out":   graph.NewOutputValue("lib%{name}.a"),
			}),
	}

	ct, err := analyzeWithRules(t, ruleDefinitions, targets, "//app:bin")
	require.NoError(t, err)

	di := ct.DefaultInfo()
	require.NotNil(t, di.Executable)
	outputs := analysis.DefaultOutputs(ct)
	require.Len(t, outputs, 2)

	// The runfiles symlink set up by the implementation survives the
	// conversion back from Starlark.
	f, ok := di.Runfiles.Get("data/config.txt")
	require.True(t, ok)
	require.Equal(t, di.Executable, f)

	require.Len(t, ct.Actions(), 1)
	require.Equal(t, "Link", ct.Actions()[0].Mnemonic())
}

func TestStarlarkAnalysisErrors(t *testing.T) {
	target := graph.NewTarget(label.MustNewLabel("//app:x"), "my_rule", nil)

	t.Run("Fail", func(t *testing.T) {
		_, err := analyzeWithRules(t, `
def _impl(ctx):
    fail("the sky is falling")

my_rule = rule(implementation = _impl)
`, []*graph.Target{target}, "//app:x")
		require.Error(t, err)
		require.Contains(t, err.Error(), "the sky is falling")
	})

	t.Run("NonProviderReturn", func(t *testing.T) {
		_, err := analyzeWithRules(t, `
def _impl(ctx):
    return [42]

my_rule = rule(implementation = _impl)
`, []*graph.Target{target}, "//app:x")
		require.Error(t, err)
		require.Contains(t, err.Error(), "want None or a list of providers")
	})

	t.Run("UndeclaredFragment", func(t *testing.T) {
		_, err := analyzeWithRules(t, `
def _impl(ctx):
    ctx.fragment("platform")

my_rule = rule(implementation = _impl)
`, []*graph.Target{target}, "//app:x")
		require.Error(t, err)
		require.Contains(t, err.Error(), "without declaring it")
	})

	t.Run("DeclaredFragment", func(t *testing.T) {
		ct, err := analyzeWithRules(t, `
CpuInfo = provider(name = "CpuInfo")

def _impl(ctx):
    cpu = ctx.fragment("platform").get("cpu")
    return [CpuInfo(cpu = cpu)]

my_rule = rule(implementation = _impl, fragments = ["platform"])
`, []*graph.Target{target}, "//app:x")
		require.NoError(t, err)
		p, ok := ct.Providers().Get(provider.NewKind("CpuInfo"))
		require.True(t, ok)
		cpu, ok := p.(provider.Info).Field("cpu")
		require.True(t, ok)
		require.Equal(t, "aarch64", cpu.AsString())
	})
}

func TestStarlarkBuild(t *testing.T) {
	// Full pipeline with a real file system: a rule that writes a
	// file through ctx.actions.write, executed from a scratch
	// working directory.
	t.Chdir(t.TempDir())

	registry := analysis.NewRegistry()
	require.NoError(t, starlarkrules.LoadRules(registry, "rules.bzl", `
def _greeting_impl(ctx):
    out = ctx.outputs.out
    ctx.actions.write(output = out, content = "hello, " + ctx.attr.audience + "\n")
    return [DefaultInfo(files = depset(direct = [out]))]

greeting = rule(
    implementation = _greeting_impl,
    attrs = {
        "audience": attr.string(mandatory = True),
        "out": attr.output(mandatory = True),
    },
)
`))
	tg, err := graph.NewTargetGraph([]*graph.Target{
		graph.NewTarget(
			label.MustNewLabel("//app:greeting"),
			"greeting",
			map[string]graph.AttrValue{
				"audience": graph.NewStringValue("world"),
				"out":      graph.NewOutputValue("%{name}.txt"),
			}),
	})
	require.NoError(t, err)

	result, err := analysis.Build(context.Background(), &analysis.BuildRequest{
		TargetGraph:         tg,
		Registry:            registry,
		Requested:           []label.Label{label.MustNewLabel("//app:greeting")},
		TargetConfiguration: targetConfiguration,
		HostConfiguration:   hostConfiguration,
		Parallelism:         2,
	})
	require.NoError(t, err)
	require.False(t, result.Failed())
	require.Len(t, result.Targets[0].Files, 1)

	contents, err := os.ReadFile(filepath.FromSlash(result.Targets[0].Files[0]))
	require.NoError(t, err)
	require.Equal(t, "hello, world\n", string(contents))
}
