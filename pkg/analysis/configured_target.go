package analysis

import (
	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/configuration"
	"github.com/bonsaibuild/bonsai/pkg/label"
	"github.com/bonsaibuild/bonsai/pkg/provider"
)

// ConfiguredTarget is the result of analyzing a (target, configuration)
// pair: the providers the rule implementation returned and the actions
// it registered. Configured targets are memoized by label and
// configuration fingerprint, and are never mutated after creation.
type ConfiguredTarget struct {
	l         label.Label
	config    *configuration.Configuration
	providers provider.Collection
	actions   []*actiongraph.Action
}

func (ct *ConfiguredTarget) Label() label.Label {
	return ct.l
}

func (ct *ConfiguredTarget) Configuration() *configuration.Configuration {
	return ct.config
}

// Providers returns the target's full provider set, visible verbatim to
// direct dependents only.
func (ct *ConfiguredTarget) Providers() provider.Collection {
	return ct.providers
}

// Actions returns the actions registered during the target's analysis.
func (ct *ConfiguredTarget) Actions() []*actiongraph.Action {
	return ct.actions
}

// DefaultInfo returns the target's DefaultInfo provider. Analysis
// synthesizes one from the target's predeclared outputs if the rule
// implementation does not return one, so it is present on every
// configured target.
func (ct *ConfiguredTarget) DefaultInfo() provider.DefaultInfo {
	p, _ := ct.providers.Get(provider.KindDefaultInfo)
	return p.(provider.DefaultInfo)
}
