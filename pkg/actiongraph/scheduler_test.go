package actiongraph_test

import (
	"context"
	"sync"
	"testing"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/label"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// executionRecorder tracks which actions ran and pretends that their
// declared outputs came into existence.
type executionRecorder struct {
	lock     sync.Mutex
	executed []string
	created  map[string]bool
}

func newExecutionRecorder() *executionRecorder {
	return &executionRecorder{
		created: map[string]bool{},
	}
}

func (er *executionRecorder) run(name string, fail bool) actiongraph.RunFunc {
	return func(ctx context.Context, inputPaths, outputPaths []string) error {
		er.lock.Lock()
		defer er.lock.Unlock()
		er.executed = append(er.executed, name)
		if fail {
			return status.Error(codes.Internal, "compiler crashed")
		}
		for _, path := range outputPaths {
			er.created[path] = true
		}
		return nil
	}
}

func (er *executionRecorder) checkOutput(path string) error {
	er.lock.Lock()
	defer er.lock.Unlock()
	if !er.created[path] {
		return status.Errorf(codes.NotFound, "%#v does not exist", path)
	}
	return nil
}

func TestScheduler(t *testing.T) {
	owner := label.MustNewLabel("//pkg:target")

	t.Run("SingleAction", func(t *testing.T) {
		// A target with one action reading a source file:
		// requesting its output must execute exactly that one
		// action.
		er := newExecutionRecorder()
		ag := actiongraph.NewActionGraph()
		src, err := ag.SourceFile("pkg/in.txt")
		require.NoError(t, err)
		out, err := ag.DeclareFile(owner, "pkg/out.bin", true)
		require.NoError(t, err)
		_, err = ag.RegisterAction(owner, "Generate", []*actiongraph.File{src}, []*actiongraph.File{out}, er.run("Generate", false))
		require.NoError(t, err)

		reachable, err := actiongraph.ReachableActions([]*actiongraph.File{out})
		require.NoError(t, err)
		results := actiongraph.NewScheduler(4, clock.SystemClock, er.checkOutput).
			Execute(context.Background(), reachable)
		require.False(t, results.Failed())
		require.NoError(t, results.FileError(out))
		require.Equal(t, []string{"Generate"}, er.executed)
	})

	t.Run("DependencyOrder", func(t *testing.T) {
		er := newExecutionRecorder()
		ag := actiongraph.NewActionGraph()
		a, err := ag.DeclareFile(owner, "pkg/a.bin", false)
		require.NoError(t, err)
		b, err := ag.DeclareFile(owner, "pkg/b.bin", false)
		require.NoError(t, err)
		c, err := ag.DeclareFile(owner, "pkg/c.bin", true)
		require.NoError(t, err)

		_, err = ag.RegisterAction(owner, "C", []*actiongraph.File{a, b}, []*actiongraph.File{c}, er.run("C", false))
		require.NoError(t, err)
		_, err = ag.RegisterAction(owner, "A", nil, []*actiongraph.File{a}, er.run("A", false))
		require.NoError(t, err)
		_, err = ag.RegisterAction(owner, "B", []*actiongraph.File{a}, []*actiongraph.File{b}, er.run("B", false))
		require.NoError(t, err)

		reachable, err := actiongraph.ReachableActions([]*actiongraph.File{c})
		require.NoError(t, err)
		results := actiongraph.NewScheduler(4, clock.SystemClock, er.checkOutput).
			Execute(context.Background(), reachable)
		require.False(t, results.Failed())
		require.Equal(t, []string{"A", "B", "C"}, er.executed)
	})

	t.Run("FailurePropagation", func(t *testing.T) {
		// A failing action must prevent its transitive consumers
		// from being started, while independent actions still
		// run.
		er := newExecutionRecorder()
		ag := actiongraph.NewActionGraph()
		broken, err := ag.DeclareFile(owner, "pkg/broken.bin", false)
		require.NoError(t, err)
		dependent, err := ag.DeclareFile(owner, "pkg/dependent.bin", true)
		require.NoError(t, err)
		independent, err := ag.DeclareFile(owner, "pkg/independent.bin", true)
		require.NoError(t, err)

		_, err = ag.RegisterAction(owner, "Broken", nil, []*actiongraph.File{broken}, er.run("Broken", true))
		require.NoError(t, err)
		aDependent, err := ag.RegisterAction(owner, "Dependent", []*actiongraph.File{broken}, []*actiongraph.File{dependent}, er.run("Dependent", false))
		require.NoError(t, err)
		_, err = ag.RegisterAction(owner, "Independent", nil, []*actiongraph.File{independent}, er.run("Independent", false))
		require.NoError(t, err)

		reachable, err := actiongraph.ReachableActions([]*actiongraph.File{dependent, independent})
		require.NoError(t, err)
		results := actiongraph.NewScheduler(1, clock.SystemClock, er.checkOutput).
			Execute(context.Background(), reachable)
		require.True(t, results.Failed())
		require.ErrorContains(t, results.FileError(broken), "compiler crashed")
		require.ErrorContains(t, results.ActionError(aDependent), "was not executed")
		require.NoError(t, results.FileError(independent))
		require.NotContains(t, er.executed, "Dependent")
		require.Contains(t, er.executed, "Independent")
	})

	t.Run("MissingDeclaredOutput", func(t *testing.T) {
		er := newExecutionRecorder()
		ag := actiongraph.NewActionGraph()
		out, err := ag.DeclareFile(owner, "pkg/out.bin", true)
		require.NoError(t, err)
		_, err = ag.RegisterAction(owner, "Forgetful", nil, []*actiongraph.File{out},
			func(ctx context.Context, inputPaths, outputPaths []string) error {
				// Report success without creating the
				// output.
				return nil
			})
		require.NoError(t, err)

		reachable, err := actiongraph.ReachableActions([]*actiongraph.File{out})
		require.NoError(t, err)
		results := actiongraph.NewScheduler(4, clock.SystemClock, er.checkOutput).
			Execute(context.Background(), reachable)
		require.True(t, results.Failed())
		require.ErrorContains(t, results.FileError(out), "did not create declared output")
		require.ErrorContains(t, results.FileError(out), "pkg/out.bin")
	})

	t.Run("Determinism", func(t *testing.T) {
		// Two identical builds must execute the same set of
		// actions.
		var executions [][]string
		for i := 0; i < 2; i++ {
			er := newExecutionRecorder()
			ag := actiongraph.NewActionGraph()
			var outs []*actiongraph.File
			for _, name := range []string{"a", "b", "c", "d"} {
				out, err := ag.DeclareFile(owner, "pkg/"+name+".bin", true)
				require.NoError(t, err)
				_, err = ag.RegisterAction(owner, name, nil, []*actiongraph.File{out}, er.run(name, false))
				require.NoError(t, err)
				outs = append(outs, out)
			}

			reachable, err := actiongraph.ReachableActions(outs)
			require.NoError(t, err)
			results := actiongraph.NewScheduler(1, clock.SystemClock, er.checkOutput).
				Execute(context.Background(), reachable)
			require.False(t, results.Failed())
			executions = append(executions, er.executed)
		}
		require.Equal(t, executions[0], executions[1])
	})
}
