package analysis

import (
	"context"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/configuration"
	"github.com/bonsaibuild/bonsai/pkg/graph"
	"github.com/bonsaibuild/bonsai/pkg/label"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/uuid"

	"golang.org/x/sync/errgroup"
)

// BuildRequest describes one invocation of the analysis and execution
// core, as handed over by the command line front end.
type BuildRequest struct {
	TargetGraph *graph.TargetGraph
	Registry    *Registry

	// Requested holds the labels the user asked to build.
	Requested []label.Label
	// OutputGroups optionally names output groups to build for
	// every requested target, in addition to its default outputs.
	OutputGroups []string

	TargetConfiguration *configuration.Configuration
	HostConfiguration   *configuration.Configuration

	// Parallelism bounds the number of concurrently executing
	// actions.
	Parallelism int
	Clock       clock.Clock
	// CheckOutput verifies that a declared output exists after its
	// action ran. Left nil, declared outputs are checked against
	// the local file system.
	CheckOutput actiongraph.OutputChecker
}

// TargetResult reports the outcome of one requested label: the paths of
// the files that were built, or the error chain that explains why the
// target failed.
type TargetResult struct {
	Label label.Label
	// ConfiguredTarget is nil if analysis of the label failed.
	ConfiguredTarget *ConfiguredTarget
	Files            []string
	Err              error
}

func (tr *TargetResult) Failed() bool {
	return tr.Err != nil
}

// BuildResult reports the outcome of a whole build request.
type BuildResult struct {
	InvocationID uuid.UUID
	Targets      []TargetResult
}

// Failed returns whether any requested target failed to build.
func (br *BuildResult) Failed() bool {
	for i := range br.Targets {
		if br.Targets[i].Failed() {
			return true
		}
	}
	return false
}

// Build runs the full pipeline: target graph closure and cycle check,
// bottom-up analysis of all requested labels, pruning of the action
// graph to what the requested files need, and parallel execution with
// output validation.
//
// Structural errors such as graph cycles and output conflicts abort the
// whole build and are returned as an error. Per-target analysis and
// execution failures do not; they are reported in the corresponding
// TargetResult, while sibling targets build normally.
func Build(ctx context.Context, request *BuildRequest) (*BuildResult, error) {
	// The closure is not used directly, but computing it proves the
	// graph is acyclic before analysis relies on a topological
	// order existing, and rejects dangling references eagerly.
	if _, err := request.TargetGraph.TransitiveClosure(request.Requested); err != nil {
		return nil, err
	}

	engine := NewEngine(
		request.TargetGraph,
		request.Registry,
		configuration.NewTransitioner(request.HostConfiguration),
		actiongraph.NewActionGraph(),
	)

	// Analyze all requested targets. Failures are recorded per
	// target; an analysis error in one tree does not prevent
	// sibling trees from being analyzed.
	result := &BuildResult{
		InvocationID: uuid.New(),
		Targets:      make([]TargetResult, len(request.Requested)),
	}
	configuredTargets := make([]*ConfiguredTarget, len(request.Requested))
	var analysisGroup errgroup.Group
	for i, l := range request.Requested {
		result.Targets[i].Label = l
		analysisGroup.Go(func() error {
			configuredTargets[i], result.Targets[i].Err = engine.GetConfiguredTarget(ctx, l, request.TargetConfiguration)
			result.Targets[i].ConfiguredTarget = configuredTargets[i]
			return nil
		})
	}
	analysisGroup.Wait()

	// An output conflict is a structural error of the action graph,
	// not of an individual target.
	if err := engine.ActionGraph().Err(); err != nil {
		return nil, err
	}

	// Determine the set of files the request asks for: default
	// outputs, plus any explicitly named output groups.
	requestedFiles := make([][]*actiongraph.File, len(request.Requested))
	var allRequestedFiles []*actiongraph.File
	for i := range request.Requested {
		if result.Targets[i].Err != nil {
			continue
		}
		files := DefaultOutputs(configuredTargets[i])
		for _, groupName := range request.OutputGroups {
			groupFiles, err := OutputGroup(configuredTargets[i], groupName)
			if err != nil {
				result.Targets[i].Err = err
				files = nil
				break
			}
			files = append(files, groupFiles...)
		}
		requestedFiles[i] = files
		allRequestedFiles = append(allRequestedFiles, files...)
	}

	// Prune: only actions in the transitive input closure of a
	// requested file are ever executed. A cycle among actions is
	// fatal for the whole build.
	reachable, err := actiongraph.ReachableActions(allRequestedFiles)
	if err != nil {
		return nil, err
	}

	checkOutput := request.CheckOutput
	if checkOutput == nil {
		checkOutput = actiongraph.LocalOutputChecker
	}
	buildClock := request.Clock
	if buildClock == nil {
		buildClock = clock.SystemClock
	}
	executionResults := actiongraph.NewScheduler(request.Parallelism, buildClock, checkOutput).
		Execute(ctx, reachable)

	// Fold execution failures back into per-target results.
	for i := range request.Requested {
		if result.Targets[i].Err != nil {
			continue
		}
		files := make([]string, 0, len(requestedFiles[i]))
		for _, f := range requestedFiles[i] {
			if err := executionResults.FileError(f); err != nil {
				result.Targets[i].Err = util.StatusWrapf(err, "Failed to build %#v", f.Path())
				files = nil
				break
			}
			files = append(files, f.Path())
		}
		result.Targets[i].Files = files
	}
	return result, nil
}
