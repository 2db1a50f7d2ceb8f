package graph

import (
	"strings"

	"github.com/bonsaibuild/bonsai/pkg/label"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TargetGraph is the declared, immutable graph of targets. It is
// constructed from the loader's output in one pass; the loader is
// trusted to have resolved all label strings, but dangling references
// and duplicate declarations are still rejected here.
type TargetGraph struct {
	targets map[label.Label]*Target
}

func NewTargetGraph(targets []*Target) (*TargetGraph, error) {
	m := make(map[label.Label]*Target, len(targets))
	for _, t := range targets {
		if _, ok := m[t.Label()]; ok {
			return nil, status.Errorf(codes.InvalidArgument, "Target %#v is declared multiple times", t.Label().String())
		}
		m[t.Label()] = t
	}
	return &TargetGraph{targets: m}, nil
}

func (tg *TargetGraph) GetTarget(l label.Label) (*Target, bool) {
	t, ok := tg.targets[l]
	return t, ok
}

type closureState struct {
	graph *TargetGraph
	// Colors of the classic iterative DFS: absent is white, false
	// is on the current resolution stack, true is fully visited.
	finished map[label.Label]bool
	stack    []label.Label
	order    []*Target
}

func (cs *closureState) visit(l label.Label) error {
	if finished, ok := cs.finished[l]; ok {
		if finished {
			return nil
		}
		// The dependency chain returned to a target that is
		// still being resolved. Report the offending part of
		// the chain.
		chainStart := 0
		for cs.stack[chainStart] != l {
			chainStart++
		}
		chain := make([]string, 0, len(cs.stack)-chainStart+1)
		for _, chainLabel := range cs.stack[chainStart:] {
			chain = append(chain, chainLabel.String())
		}
		chain = append(chain, l.String())
		return status.Errorf(codes.FailedPrecondition, "Cycle in target graph: %s", strings.Join(chain, " -> "))
	}
	t, ok := cs.graph.targets[l]
	if !ok {
		return status.Errorf(codes.NotFound, "Target %#v does not exist", l.String())
	}

	cs.finished[l] = false
	cs.stack = append(cs.stack, l)
	for _, dep := range t.Dependencies() {
		if err := cs.visit(dep); err != nil {
			return err
		}
	}
	cs.stack = cs.stack[:len(cs.stack)-1]
	cs.finished[l] = true
	cs.order = append(cs.order, t)
	return nil
}

// TransitiveClosure returns all targets reachable from the requested
// labels, ordered such that every target appears after all of its
// dependencies. Cycles are detected here, before any analysis starts,
// as analysis depends on the existence of this order.
func (tg *TargetGraph) TransitiveClosure(requested []label.Label) ([]*Target, error) {
	cs := closureState{
		graph:    tg,
		finished: make(map[label.Label]bool),
	}
	for _, l := range requested {
		if err := cs.visit(l); err != nil {
			return nil, err
		}
	}
	return cs.order, nil
}
