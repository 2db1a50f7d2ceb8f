package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bonsaibuild/bonsai/pkg/analysis"
	"github.com/bonsaibuild/bonsai/pkg/cache"
	"github.com/bonsaibuild/bonsai/pkg/configuration"
	"github.com/bonsaibuild/bonsai/pkg/encoding"
	"github.com/bonsaibuild/bonsai/pkg/graph"
	"github.com/bonsaibuild/bonsai/pkg/label"
	"github.com/bonsaibuild/bonsai/pkg/starlarkrules"
	"github.com/buildbarn/bb-storage/pkg/program"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Cache entries describe provider and action metadata, not file
// contents, so even large builds stay well under this bound.
const maximumCacheEntrySizeBytes = 1 << 26

func main() {
	program.RunMain(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		if len(os.Args) != 2 {
			return status.Error(codes.InvalidArgument, "Usage: bonsai_build build.json")
		}
		manifest, err := readBuildManifest(os.Args[1])
		if err != nil {
			return err
		}

		registry := analysis.NewRegistry()
		for _, ruleFile := range manifest.RuleFiles {
			if err := starlarkrules.LoadRules(registry, ruleFile, nil); err != nil {
				return util.StatusWrapf(err, "Failed to load rule definitions from %#v", ruleFile)
			}
		}

		targets := make([]*graph.Target, 0, len(manifest.Targets))
		for i := range manifest.Targets {
			t, err := manifest.Targets[i].toTarget()
			if err != nil {
				return err
			}
			targets = append(targets, t)
		}
		targetGraph, err := graph.NewTargetGraph(targets)
		if err != nil {
			return err
		}

		requested := make([]label.Label, 0, len(manifest.Requested))
		for _, labelString := range manifest.Requested {
			l, err := label.NewLabel(labelString)
			if err != nil {
				return err
			}
			requested = append(requested, l)
		}
		if len(requested) == 0 {
			return status.Error(codes.InvalidArgument, "Build manifest does not request any targets")
		}

		result, err := analysis.Build(ctx, &analysis.BuildRequest{
			TargetGraph:         targetGraph,
			Registry:            registry,
			Requested:           requested,
			OutputGroups:        manifest.OutputGroups,
			TargetConfiguration: configuration.New(configuration.RoleTarget, manifest.TargetConfiguration),
			HostConfiguration:   configuration.New(configuration.RoleHost, manifest.HostConfiguration),
			Parallelism:         manifest.Parallelism,
		})
		if err != nil {
			return err
		}

		if manifest.CacheDirectory != "" {
			if err := writeCacheEntries(manifest.CacheDirectory, result); err != nil {
				return err
			}
		}

		fmt.Printf("Invocation %s\n", result.InvocationID)
		failures := 0
		for i := range result.Targets {
			target := &result.Targets[i]
			if target.Err != nil {
				failures++
				fmt.Printf("FAILED  %s: %s\n", target.Label.String(), target.Err)
				continue
			}
			fmt.Printf("OK      %s\n", target.Label.String())
			for _, path := range target.Files {
				fmt.Printf("        %s\n", path)
			}
		}
		if failures > 0 {
			return status.Errorf(codes.Unknown, "%d of %d targets failed to build", failures, len(result.Targets))
		}
		return nil
	})
}

// writeCacheEntries persists the analysis results of all targets that
// built successfully, keyed by label and configuration fingerprint.
// Entries are compressed before they hit disk.
func writeCacheEntries(directory string, result *analysis.BuildResult) error {
	store, err := cache.NewDirectoryStore(
		directory,
		cache.NewBinaryCodec(),
		encoding.NewLZWCompressingBinaryEncoder(maximumCacheEntrySizeBytes))
	if err != nil {
		return err
	}
	for i := range result.Targets {
		target := &result.Targets[i]
		if target.Err != nil || target.ConfiguredTarget == nil {
			continue
		}
		if err := store.Put(cache.FromConfiguredTarget(target.ConfiguredTarget)); err != nil {
			return err
		}
	}
	return nil
}
