package provider

import (
	"slices"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind identifies a provider type. Exactly one provider instance per
// kind may be attached to a configured target.
type Kind struct {
	name string
}

func NewKind(name string) Kind {
	return Kind{name: name}
}

func (k Kind) String() string {
	return k.name
}

// Provider is an immutable, typed record that a configured target
// exposes to its direct dependents. Information from further away in
// the graph must be explicitly re-exported by folding it into a
// provider of one's own, conventionally through depsets so that large
// transitive closures are shared rather than copied.
type Provider interface {
	ProviderKind() Kind
}

// Collection is the frozen set of providers produced by analyzing one
// configured target, indexed by kind.
type Collection struct {
	providers map[Kind]Provider
}

// NewCollection indexes the providers returned by a rule
// implementation. Returning two providers of the same kind is an error
// of the rule logic.
func NewCollection(owner string, providers []Provider) (Collection, error) {
	m := make(map[Kind]Provider, len(providers))
	for _, p := range providers {
		kind := p.ProviderKind()
		if _, ok := m[kind]; ok {
			return Collection{}, status.Errorf(codes.InvalidArgument, "Rule implementation of target %#v returned multiple %#v providers", owner, kind.String())
		}
		m[kind] = p
	}
	return Collection{providers: m}, nil
}

func (c Collection) Get(kind Kind) (Provider, bool) {
	p, ok := c.providers[kind]
	return p, ok
}

// Kinds returns the kinds of all providers in the collection in sorted
// order.
func (c Collection) Kinds() []Kind {
	kinds := make([]Kind, 0, len(c.providers))
	for kind := range c.providers {
		kinds = append(kinds, kind)
	}
	slices.SortFunc(kinds, func(a, b Kind) int {
		return strings.Compare(a.name, b.name)
	})
	return kinds
}
