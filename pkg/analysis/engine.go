package analysis

import (
	"context"
	"sync"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/configuration"
	"github.com/bonsaibuild/bonsai/pkg/depset"
	"github.com/bonsaibuild/bonsai/pkg/graph"
	"github.com/bonsaibuild/bonsai/pkg/label"
	"github.com/bonsaibuild/bonsai/pkg/provider"
	bonsai_sync "github.com/bonsaibuild/bonsai/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/util"

	"golang.org/x/sync/errgroup"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// memoKey identifies one unit of analysis. The same label may appear
// under multiple configuration fingerprints, each yielding an
// independent configured target.
type memoKey struct {
	label                    label.Label
	configurationFingerprint string
}

type memoEntry struct {
	computing bool
	completed bonsai_sync.ConditionVariable

	// abandoned marks a computation whose requester was cancelled
	// before a result existed. The entry is removed from the table
	// and waiters start over, so the key's true result can still be
	// computed by any requester that is still live.
	abandoned bool

	configuredTarget *ConfiguredTarget
	err              error
}

// Engine analyzes configured targets bottom-up in dependency order.
// The memo table is the only shared mutable state during analysis;
// under concurrent requests it guarantees at most one computation per
// key, with later requesters waiting for and receiving the single
// result.
type Engine struct {
	targetGraph  *graph.TargetGraph
	registry     *Registry
	transitioner *configuration.Transitioner
	actionGraph  *actiongraph.ActionGraph

	lock sync.Mutex
	memo map[memoKey]*memoEntry
}

func NewEngine(targetGraph *graph.TargetGraph, registry *Registry, transitioner *configuration.Transitioner, actionGraph *actiongraph.ActionGraph) *Engine {
	return &Engine{
		targetGraph:  targetGraph,
		registry:     registry,
		transitioner: transitioner,
		actionGraph:  actionGraph,
		memo:         map[memoKey]*memoEntry{},
	}
}

func (e *Engine) ActionGraph() *actiongraph.ActionGraph {
	return e.actionGraph
}

// GetConfiguredTarget returns the result of analyzing a target under a
// configuration, analyzing it and its transitive dependencies first if
// needed. Within one build every (label, configuration) pair is
// computed at most once, regardless of how many dependents request it
// concurrently. A computation abandoned through cancellation produces
// no result and does not count; the next requester starts over.
func (e *Engine) GetConfiguredTarget(ctx context.Context, l label.Label, config *configuration.Configuration) (*ConfiguredTarget, error) {
	key := memoKey{
		label:                    l,
		configurationFingerprint: config.Fingerprint(),
	}

	e.lock.Lock()
	for {
		entry, ok := e.memo[key]
		if !ok {
			break
		}
		for entry.computing {
			if err := entry.completed.Wait(ctx, &e.lock); err != nil {
				// Wait returns with the lock released on
				// cancellation.
				return nil, err
			}
		}
		if entry.abandoned {
			// The previous computation was torn down by its
			// requester's cancellation. Look the key up
			// again, becoming the new owner if nobody beat
			// us to it.
			continue
		}
		configuredTarget, err := entry.configuredTarget, entry.err
		e.lock.Unlock()
		return configuredTarget, err
	}
	entry := &memoEntry{computing: true}
	e.memo[key] = entry
	e.lock.Unlock()

	configuredTarget, err := e.analyze(ctx, l, config)

	e.lock.Lock()
	if err != nil && ctx.Err() != nil {
		// Our requester was cancelled, typically because a
		// sibling dependency failed first. The failure says
		// nothing about this key, so it must not be memoized;
		// an unrelated target sharing this dependency still
		// analyzes normally.
		entry.abandoned = true
		delete(e.memo, key)
	}
	entry.configuredTarget = configuredTarget
	entry.err = err
	entry.computing = false
	entry.completed.Broadcast()
	e.lock.Unlock()
	return configuredTarget, err
}

// analyze performs a single unit of analysis: its direct dependencies
// are analyzed first under their transitioned configurations, after
// which the rule implementation runs with the dependencies' provider
// sets in scope.
func (e *Engine) analyze(ctx context.Context, l label.Label, config *configuration.Configuration) (*ConfiguredTarget, error) {
	target, ok := e.targetGraph.GetTarget(l)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Target %#v does not exist", l.String())
	}
	ruleKind, err := e.registry.GetRuleKind(target.RuleKind())
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to analyze target %#v", l.String())
	}
	if err := ruleKind.validateAttrs(target); err != nil {
		return nil, err
	}

	// Analyze all direct dependencies. Dependencies are independent
	// of each other, so they may be analyzed in parallel; the memo
	// table deduplicates work shared between them. A failed
	// dependency fails this target without running its
	// implementation. The same label may be reached through edges
	// with differing transitions, in which case each edge resolves
	// to the dependency analyzed under its own configuration.
	deps := map[memoKey]*Dependency{}
	var depsLock sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	for _, attrName := range target.AttrNames() {
		schema := ruleKind.attrs[attrName]
		value, _ := target.Attr(attrName)
		depConfig := e.transitioner.Apply(config, schema.Transition)
		for _, depLabel := range value.Labels() {
			group.Go(func() error {
				configuredDep, err := e.GetConfiguredTarget(groupCtx, depLabel, depConfig)
				if err != nil {
					return util.StatusWrapf(err, "Target %#v depends on failed target %#v", l.String(), depLabel.String())
				}
				if schema.Executable {
					if configuredDep.DefaultInfo().Executable == nil {
						return status.Errorf(codes.FailedPrecondition, "Attribute %#v of target %#v requires an executable target, but %#v does not designate an executable", attrName, l.String(), depLabel.String())
					}
				}
				depsLock.Lock()
				deps[memoKey{
					label:                    depLabel,
					configurationFingerprint: depConfig.Fingerprint(),
				}] = &Dependency{configuredTarget: configuredDep}
				depsLock.Unlock()
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	rctx := &RuleContext{
		target:       target,
		ruleKind:     ruleKind,
		config:       config,
		transitioner: e.transitioner,
		deps:         deps,
		actionGraph:  e.actionGraph,
		outputPrefix: outputPrefixFor(target, config),
	}
	returnedProviders, err := ruleKind.implementation.Analyze(ctx, rctx)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to analyze target %#v", l.String())
	}

	providers, err := provider.NewCollection(l.String(), returnedProviders)
	if err != nil {
		return nil, err
	}
	if _, ok := providers.Get(provider.KindDefaultInfo); !ok {
		// By convention a target without an explicit DefaultInfo
		// defaults to its predeclared outputs.
		providers, err = provider.NewCollection(l.String(), append(returnedProviders, provider.DefaultInfo{
			Files: depset.New(depset.Postorder, rctx.predeclared, nil),
		}))
		if err != nil {
			return nil, err
		}
	}

	return &ConfiguredTarget{
		l:         l,
		config:    config,
		providers: providers,
		actions:   rctx.actions,
	}, nil
}
