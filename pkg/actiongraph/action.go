package actiongraph

import (
	"context"

	"github.com/bonsaibuild/bonsai/pkg/label"
)

// RunFunc performs the work described by an action. It is opaque to the
// scheduler and may spawn external processes. The paths of all declared
// inputs and outputs are provided; the function must create every
// output path or return an error. Actions behave as pure functions of
// their declared inputs, which is what makes caching of their results
// sound.
type RunFunc func(ctx context.Context, inputPaths, outputPaths []string) error

// Action is an immutable description of one build step: a finite set of
// input files, a non-empty set of declared output files, and the
// procedure that derives the latter from the former. Registering an
// action does not imply that it runs; only actions reachable from the
// files a build request asks for are executed.
type Action struct {
	owner    label.Label
	mnemonic string
	inputs   []*File
	outputs  []*File
	run      RunFunc
}

// Owner returns the label of the configured target whose analysis
// registered the action.
func (a *Action) Owner() label.Label {
	return a.owner
}

// Mnemonic is a short human readable description of what the action
// does, used in error messages and metrics.
func (a *Action) Mnemonic() string {
	return a.mnemonic
}

func (a *Action) Inputs() []*File {
	return a.inputs
}

func (a *Action) Outputs() []*File {
	return a.outputs
}

func (a *Action) inputPaths() []string {
	paths := make([]string, 0, len(a.inputs))
	for _, f := range a.inputs {
		paths = append(paths, f.Path())
	}
	return paths
}

func (a *Action) outputPaths() []string {
	paths := make([]string, 0, len(a.outputs))
	for _, f := range a.outputs {
		paths = append(paths, f.Path())
	}
	return paths
}

// sortKey returns a deterministic identifier of the action, used to
// keep scheduling order stable between builds.
func (a *Action) sortKey() string {
	return a.outputs[0].Path()
}
