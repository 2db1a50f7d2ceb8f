package runfiles_test

import (
	"testing"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/runfiles"
	"github.com/stretchr/testify/require"
)

func sourceFile(t *testing.T, ag *actiongraph.ActionGraph, path string) *actiongraph.File {
	f, err := ag.SourceFile(path)
	require.NoError(t, err)
	return f
}

func TestRunfiles(t *testing.T) {
	t.Run("DefaultPaths", func(t *testing.T) {
		ag := actiongraph.NewActionGraph()
		data := sourceFile(t, ag, "pkg/data/x.txt")
		r, err := runfiles.New([]*actiongraph.File{data}, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"pkg/data/x.txt"}, r.Paths())

		f, ok := r.Get("pkg/data/x.txt")
		require.True(t, ok)
		require.Same(t, data, f)
	})

	t.Run("Remapping", func(t *testing.T) {
		ag := actiongraph.NewActionGraph()
		data := sourceFile(t, ag, "pkg/data/x.txt")
		r, err := runfiles.New(nil, map[string]*actiongraph.File{
			"data/x.txt": data,
		})
		require.NoError(t, err)
		require.Equal(t, []string{"data/x.txt"}, r.Paths())
	})

	t.Run("MergeIsCommutative", func(t *testing.T) {
		ag := actiongraph.NewActionGraph()
		a, err := runfiles.New([]*actiongraph.File{sourceFile(t, ag, "pkg/a.txt")}, nil)
		require.NoError(t, err)
		b, err := runfiles.New([]*actiongraph.File{sourceFile(t, ag, "pkg/b.txt")}, nil)
		require.NoError(t, err)

		ab, err := runfiles.Merge(a, b)
		require.NoError(t, err)
		ba, err := runfiles.Merge(b, a)
		require.NoError(t, err)
		require.Equal(t, ab.Paths(), ba.Paths())
		require.Equal(t, ab.Files(), ba.Files())
	})

	t.Run("MergeIsIdempotent", func(t *testing.T) {
		// Identical (path, file) pairs are not conflicts, no
		// matter how often the same manifest is included.
		ag := actiongraph.NewActionGraph()
		a, err := runfiles.New([]*actiongraph.File{sourceFile(t, ag, "pkg/a.txt")}, nil)
		require.NoError(t, err)

		merged, err := runfiles.Merge(a, a, a)
		require.NoError(t, err)
		require.Equal(t, a.Paths(), merged.Paths())
	})

	t.Run("Collision", func(t *testing.T) {
		// Two dependencies placing different source files at the
		// same runfiles path must fail the merge, naming the
		// path and both contributors.
		ag := actiongraph.NewActionGraph()
		dep1, err := runfiles.New(nil, map[string]*actiongraph.File{
			"data/x.txt": sourceFile(t, ag, "pkg1/x.txt"),
		})
		require.NoError(t, err)
		dep2, err := runfiles.New(nil, map[string]*actiongraph.File{
			"data/x.txt": sourceFile(t, ag, "pkg2/x.txt"),
		})
		require.NoError(t, err)

		_, err = runfiles.Merge(dep1, dep2)
		require.Error(t, err)
		require.Contains(t, err.Error(), "data/x.txt")
		require.Contains(t, err.Error(), "pkg1/x.txt")
		require.Contains(t, err.Error(), "pkg2/x.txt")
	})

	t.Run("ConstructionCollision", func(t *testing.T) {
		ag := actiongraph.NewActionGraph()
		_, err := runfiles.New(
			[]*actiongraph.File{sourceFile(t, ag, "data/x.txt")},
			map[string]*actiongraph.File{
				"data/x.txt": sourceFile(t, ag, "pkg/other.txt"),
			})
		require.Error(t, err)
		require.Contains(t, err.Error(), "data/x.txt")
	})
}
