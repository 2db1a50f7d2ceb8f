package actiongraph

import (
	"github.com/bonsaibuild/bonsai/pkg/label"
)

// File is a node in the action graph's input/output relation. It is
// either a source file, which is never produced by an action, or a
// generated file, which is the output of exactly one action. A file may
// carry the label of the target that predeclared it; files without a
// label are only reachable through providers.
type File struct {
	path      string
	owner     *label.Label
	generated bool
	producer  *Action
}

// Path returns the execution root relative path of the file.
func (f *File) Path() string {
	return f.path
}

// IsSource returns whether the file is a source file. Source files are
// assumed to exist before execution starts. A file declared as
// generated is not a source file even while its producing action has
// yet to be registered.
func (f *File) IsSource() bool {
	return !f.generated
}

// Producer returns the action that generates the file, or nil for
// source files. The producer is recorded when the generating action is
// registered.
func (f *File) Producer() *Action {
	return f.producer
}

// Owner returns the label of the target that predeclared the file.
func (f *File) Owner() (label.Label, bool) {
	if f.owner == nil {
		return label.Label{}, false
	}
	return *f.owner, true
}
