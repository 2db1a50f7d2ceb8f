package actiongraph

import (
	"slices"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type pruneState struct {
	// Colors of the DFS over producing actions: absent is
	// unvisited, false is on the current stack, true is done.
	finished map[*Action]bool
	stack    []*Action
	order    []*Action
}

func (ps *pruneState) visit(a *Action) error {
	if finished, ok := ps.finished[a]; ok {
		if finished {
			return nil
		}
		chainStart := 0
		for ps.stack[chainStart] != a {
			chainStart++
		}
		chain := make([]string, 0, len(ps.stack)-chainStart+1)
		for _, chainAction := range ps.stack[chainStart:] {
			chain = append(chain, chainAction.Mnemonic())
		}
		chain = append(chain, a.Mnemonic())
		return status.Errorf(codes.FailedPrecondition, "Cycle in action graph: %s", strings.Join(chain, " -> "))
	}

	ps.finished[a] = false
	ps.stack = append(ps.stack, a)
	for _, input := range a.Inputs() {
		if producer := input.Producer(); producer != nil {
			if err := ps.visit(producer); err != nil {
				return err
			}
		}
	}
	ps.stack = ps.stack[:len(ps.stack)-1]
	ps.finished[a] = true
	ps.order = append(ps.order, a)
	return nil
}

// ReachableActions computes the set of actions that must run to bring
// the requested files into existence: the union of the transitive input
// closures of every requested file. Actions outside this set are never
// executed. The result is ordered such that every action appears after
// the producers of its inputs, with ties broken deterministically.
//
// A cycle in the input/output relation is reported as a fatal error. It
// is distinct from a cycle among targets, which is caught before
// analysis; an action cycle can only arise from faulty rule logic.
func ReachableActions(requested []*File) ([]*Action, error) {
	ps := pruneState{
		finished: make(map[*Action]bool),
	}
	sortedRequested := slices.Clone(requested)
	slices.SortFunc(sortedRequested, func(a, b *File) int {
		return strings.Compare(a.Path(), b.Path())
	})
	for _, f := range sortedRequested {
		if producer := f.Producer(); producer != nil {
			if err := ps.visit(producer); err != nil {
				return nil, err
			}
		}
	}
	return ps.order, nil
}
