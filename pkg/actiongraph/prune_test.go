package actiongraph_test

import (
	"testing"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/label"
	"github.com/stretchr/testify/require"
)

func TestReachableActions(t *testing.T) {
	owner := label.MustNewLabel("//pkg:target")

	t.Run("Pruning", func(t *testing.T) {
		// Registration does not imply execution: only actions in
		// the transitive input closure of the requested files
		// may be returned.
		ag := actiongraph.NewActionGraph()
		src, err := ag.SourceFile("pkg/in.txt")
		require.NoError(t, err)
		mid, err := ag.DeclareFile(owner, "pkg/mid.bin", false)
		require.NoError(t, err)
		out, err := ag.DeclareFile(owner, "pkg/out.bin", true)
		require.NoError(t, err)
		unrelated, err := ag.DeclareFile(owner, "pkg/unrelated.bin", true)
		require.NoError(t, err)

		aMid, err := ag.RegisterAction(owner, "Mid", []*actiongraph.File{src}, []*actiongraph.File{mid}, noopRun)
		require.NoError(t, err)
		aOut, err := ag.RegisterAction(owner, "Out", []*actiongraph.File{mid}, []*actiongraph.File{out}, noopRun)
		require.NoError(t, err)
		_, err = ag.RegisterAction(owner, "Unrelated", []*actiongraph.File{src}, []*actiongraph.File{unrelated}, noopRun)
		require.NoError(t, err)

		reachable, err := actiongraph.ReachableActions([]*actiongraph.File{out})
		require.NoError(t, err)
		require.Equal(t, []*actiongraph.Action{aMid, aOut}, reachable)
	})

	t.Run("SourceFileOnly", func(t *testing.T) {
		ag := actiongraph.NewActionGraph()
		src, err := ag.SourceFile("pkg/in.txt")
		require.NoError(t, err)

		reachable, err := actiongraph.ReachableActions([]*actiongraph.File{src})
		require.NoError(t, err)
		require.Empty(t, reachable)
	})

	t.Run("SharedInputClosure", func(t *testing.T) {
		ag := actiongraph.NewActionGraph()
		base, err := ag.DeclareFile(owner, "pkg/base.bin", false)
		require.NoError(t, err)
		left, err := ag.DeclareFile(owner, "pkg/left.bin", true)
		require.NoError(t, err)
		right, err := ag.DeclareFile(owner, "pkg/right.bin", true)
		require.NoError(t, err)

		aBase, err := ag.RegisterAction(owner, "Base", nil, []*actiongraph.File{base}, noopRun)
		require.NoError(t, err)
		aLeft, err := ag.RegisterAction(owner, "Left", []*actiongraph.File{base}, []*actiongraph.File{left}, noopRun)
		require.NoError(t, err)
		aRight, err := ag.RegisterAction(owner, "Right", []*actiongraph.File{base}, []*actiongraph.File{right}, noopRun)
		require.NoError(t, err)

		reachable, err := actiongraph.ReachableActions([]*actiongraph.File{right, left})
		require.NoError(t, err)
		require.Equal(t, []*actiongraph.Action{aBase, aLeft, aRight}, reachable)
	})

	t.Run("Cycle", func(t *testing.T) {
		ag := actiongraph.NewActionGraph()
		a, err := ag.DeclareFile(owner, "pkg/a.bin", false)
		require.NoError(t, err)
		b, err := ag.DeclareFile(owner, "pkg/b.bin", true)
		require.NoError(t, err)

		_, err = ag.RegisterAction(owner, "MakeA", []*actiongraph.File{b}, []*actiongraph.File{a}, noopRun)
		require.NoError(t, err)
		_, err = ag.RegisterAction(owner, "MakeB", []*actiongraph.File{a}, []*actiongraph.File{b}, noopRun)
		require.NoError(t, err)

		_, err = actiongraph.ReachableActions([]*actiongraph.File{b})
		require.Error(t, err)
		require.Contains(t, err.Error(), "Cycle in action graph")
	})
}
