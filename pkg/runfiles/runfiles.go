package runfiles

import (
	"maps"
	"slices"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Runfiles is the manifest of files a target needs available at run
// time, keyed by the path at which each file must appear relative to
// the runfiles root. Manifests are constructed in a single pass from
// the complete set of contributions and are immutable afterwards, so a
// manifest can be shared between all targets that depend on it.
type Runfiles struct {
	entries map[string]*actiongraph.File
}

// EmptyRunfiles is the manifest of a target that needs no files at run
// time.
var EmptyRunfiles = Runfiles{}

// New creates a manifest from a rule's own contributions: files that
// appear at their execution root path, and explicitly remapped entries.
// Two contributions for the same path with different files cause the
// construction to fail.
func New(files []*actiongraph.File, remapped map[string]*actiongraph.File) (Runfiles, error) {
	entries := make(map[string]*actiongraph.File, len(files)+len(remapped))
	for _, f := range files {
		if err := addEntry(entries, f.Path(), f); err != nil {
			return Runfiles{}, err
		}
	}
	for _, path := range slices.Sorted(maps.Keys(remapped)) {
		if err := addEntry(entries, path, remapped[path]); err != nil {
			return Runfiles{}, err
		}
	}
	return Runfiles{entries: entries}, nil
}

func addEntry(entries map[string]*actiongraph.File, path string, f *actiongraph.File) error {
	if existing, ok := entries[path]; ok {
		if existing != f {
			return status.Errorf(
				codes.AlreadyExists,
				"Runfiles path %#v is provided by both %#v and %#v",
				path, existing.Path(), f.Path())
		}
		// Identical (path, file) pairs merge idempotently.
		return nil
	}
	entries[path] = f
	return nil
}

// Merge folds the manifests of a target's dependencies into the
// target's own manifest. Merging is commutative; a conflict between two
// contributors fails the merge for every target that transitively
// includes both.
func Merge(sets ...Runfiles) (Runfiles, error) {
	size := 0
	for _, s := range sets {
		size += len(s.entries)
	}
	entries := make(map[string]*actiongraph.File, size)
	for _, s := range sets {
		for _, path := range s.Paths() {
			if err := addEntry(entries, path, s.entries[path]); err != nil {
				return Runfiles{}, err
			}
		}
	}
	return Runfiles{entries: entries}, nil
}

// Get returns the file mapped at a runfiles path.
func (r Runfiles) Get(path string) (*actiongraph.File, bool) {
	f, ok := r.entries[path]
	return f, ok
}

// Paths returns all runfiles paths in sorted order.
func (r Runfiles) Paths() []string {
	return slices.Sorted(maps.Keys(r.entries))
}

// Files returns the manifest's files in the order of their runfiles
// paths.
func (r Runfiles) Files() []*actiongraph.File {
	files := make([]*actiongraph.File, 0, len(r.entries))
	for _, path := range r.Paths() {
		files = append(files, r.entries[path])
	}
	return files
}
