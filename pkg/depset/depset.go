package depset

import (
	"fmt"
	"slices"
)

// Order determines how a DepSet is flattened by ToList.
type Order int

const (
	// Preorder returns direct elements before the contents of
	// transitive sets, left to right.
	Preorder Order = iota
	// Postorder returns the contents of transitive sets before
	// direct elements, left to right.
	Postorder
	// Topological guarantees that elements appear after every
	// element of the sets that depend on them.
	Topological
)

func (o Order) String() string {
	switch o {
	case Preorder:
		return "PREORDER"
	case Postorder:
		return "POSTORDER"
	case Topological:
		return "TOPOLOGICAL"
	default:
		panic(fmt.Errorf("invalid order %d", int(o)))
	}
}

// A DepSet stores a set of elements gathered from transitive
// dependencies without copying at every level of the dependency graph.
// It is shaped like a DAG of nodes that each hold some direct elements
// and references to the nodes of dependencies. Sharing the nodes keeps
// provider re-export cheap, no matter how deep the graph is.
//
// A DepSet is immutable once created, which permits it to be referenced
// by any number of dependent targets concurrently.
type DepSet[T comparable] struct {
	handle *depSet[T]
}

type depSet[T comparable] struct {
	order      Order
	direct     []T
	transitive []DepSet[T]
}

// New returns an immutable DepSet holding the given direct elements and
// the contents of the given transitive sets. All sets folded into a
// DepSet must use the same order.
func New[T comparable](order Order, direct []T, transitive []DepSet[T]) DepSet[T] {
	nonEmpty := make([]DepSet[T], 0, len(transitive))
	for _, t := range transitive {
		if t.handle != nil {
			if t.handle.order != order {
				panic(fmt.Errorf("incompatible order, new DepSet is %s but transitive DepSet is %s", order, t.handle.order))
			}
			nonEmpty = append(nonEmpty, t)
		}
	}
	if len(direct) == 0 && len(nonEmpty) == 0 {
		return DepSet[T]{}
	}
	if len(nonEmpty) == 0 {
		nonEmpty = nil
	}
	return DepSet[T]{
		handle: &depSet[T]{
			order:      order,
			direct:     slices.Clone(direct),
			transitive: nonEmpty,
		},
	}
}

// IsEmpty returns whether the DepSet contains no elements at all.
func (d DepSet[T]) IsEmpty() bool {
	return d.handle == nil
}

// Order returns the traversal order of the DepSet. Empty sets are
// compatible with every order and report Postorder.
func (d DepSet[T]) Order() Order {
	if d.handle == nil {
		return Postorder
	}
	return d.handle.order
}

func (d DepSet[T]) walk(seen map[*depSet[T]]struct{}, emitted map[T]struct{}, out *[]T) {
	impl := d.handle
	if impl == nil {
		return
	}
	if _, ok := seen[impl]; ok {
		return
	}
	seen[impl] = struct{}{}

	emitDirect := func() {
		for _, e := range impl.direct {
			if _, ok := emitted[e]; !ok {
				emitted[e] = struct{}{}
				*out = append(*out, e)
			}
		}
	}
	if impl.order == Preorder {
		emitDirect()
	}
	for _, t := range impl.transitive {
		t.walk(seen, emitted, out)
	}
	if impl.order != Preorder {
		emitDirect()
	}
}

// ToList flattens the DepSet into a slice in the DepSet's order,
// dropping duplicate elements.
func (d DepSet[T]) ToList() []T {
	if d.handle == nil {
		return nil
	}
	var out []T
	d.walk(make(map[*depSet[T]]struct{}), make(map[T]struct{}), &out)
	if d.handle.order == Topological {
		// Topological is implemented as a postorder traversal
		// followed by reversing the output.
		slices.Reverse(out)
	}
	return out
}
