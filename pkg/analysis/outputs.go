package analysis

import (
	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/provider"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultOutputs returns the files that are built when the target is
// named directly on a build request.
func DefaultOutputs(ct *ConfiguredTarget) []*actiongraph.File {
	return ct.DefaultInfo().Files.ToList()
}

// OutputGroup returns the files of a named output group. Output groups
// are only resolved when a request explicitly asks for them.
func OutputGroup(ct *ConfiguredTarget, name string) ([]*actiongraph.File, error) {
	p, ok := ct.Providers().Get(provider.KindOutputGroupInfo)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Target %#v does not provide output groups", ct.Label().String())
	}
	group, ok := p.(provider.OutputGroupInfo).Groups[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Target %#v does not provide output group %#v", ct.Label().String(), name)
	}
	return group.ToList(), nil
}
