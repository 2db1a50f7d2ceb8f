package provider

import (
	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/depset"
	"github.com/bonsaibuild/bonsai/pkg/runfiles"
)

// KindDefaultInfo is the distinguished provider kind that every
// configured target carries. Analysis synthesizes an instance from the
// target's predeclared outputs if the rule implementation does not
// return one itself.
var KindDefaultInfo = NewKind("DefaultInfo")

// DefaultInfo supplies a target's default outputs: the files that are
// built when the target is named directly on a build request. It may
// also designate one of the target's files as an executable, which is
// required for the target to be invocable as a runnable program, and
// carries the runfiles that executable needs.
type DefaultInfo struct {
	Files      depset.DepSet[*actiongraph.File]
	Executable *actiongraph.File
	Runfiles   runfiles.Runfiles
}

func (DefaultInfo) ProviderKind() Kind {
	return KindDefaultInfo
}

// KindOutputGroupInfo identifies the provider carrying named output
// groups.
var KindOutputGroupInfo = NewKind("OutputGroupInfo")

// OutputGroupInfo exposes named sets of files that are only built when
// a request explicitly asks for the group.
type OutputGroupInfo struct {
	Groups map[string]depset.DepSet[*actiongraph.File]
}

func (OutputGroupInfo) ProviderKind() Kind {
	return KindOutputGroupInfo
}
