package actiongraph

import (
	"slices"
	"sync"

	"github.com/bonsaibuild/bonsai/pkg/label"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ActionGraph accumulates the actions registered during analysis and
// owns all File objects, so that every path has a single canonical File
// and every generated file a single producing action. Analysis of
// independent configured targets runs in parallel, so registration must
// be safe for concurrent use.
type ActionGraph struct {
	lock     sync.Mutex
	files    map[string]*File
	actions  []*Action
	firstErr error
}

func NewActionGraph() *ActionGraph {
	return &ActionGraph{
		files: map[string]*File{},
	}
}

// SourceFile interns the file object for a source path. It fails if the
// path is already declared as the output of an action, as that would
// give the file two producers in disguise.
func (ag *ActionGraph) SourceFile(path string) (*File, error) {
	ag.lock.Lock()
	defer ag.lock.Unlock()

	if f, ok := ag.files[path]; ok {
		if !f.IsSource() {
			if f.producer != nil {
				return nil, ag.recordErr(status.Errorf(codes.AlreadyExists, "Path %#v is an output of action %#v and cannot be used as a source file", path, f.producer.Mnemonic()))
			}
			return nil, ag.recordErr(status.Errorf(codes.AlreadyExists, "Path %#v is declared as a generated file and cannot be used as a source file", path))
		}
		return f, nil
	}
	f := &File{path: path}
	ag.files[path] = f
	return f, nil
}

// DeclareFile creates the file object for a generated file. The file
// has no producer until an action declaring it as an output is
// registered. Predeclared files carry the owning target's label.
func (ag *ActionGraph) DeclareFile(owner label.Label, path string, predeclared bool) (*File, error) {
	ag.lock.Lock()
	defer ag.lock.Unlock()

	if _, ok := ag.files[path]; ok {
		return nil, ag.recordErr(status.Errorf(codes.AlreadyExists, "Path %#v is already declared", path))
	}
	f := &File{path: path, generated: true}
	if predeclared {
		f.owner = &owner
	}
	ag.files[path] = f
	return f, nil
}

// RegisterAction appends an action to the graph and records it as the
// sole producer of each of its declared outputs. Declaring an output
// that already has a producer is a registration time error; this is
// what guarantees that no two actions ever write the same path.
func (ag *ActionGraph) RegisterAction(owner label.Label, mnemonic string, inputs, outputs []*File, run RunFunc) (*Action, error) {
	ag.lock.Lock()
	defer ag.lock.Unlock()

	if len(outputs) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Action %#v of target %#v declares no outputs", mnemonic, owner.String())
	}
	for _, f := range outputs {
		if f.producer != nil {
			return nil, ag.recordErr(status.Errorf(
				codes.AlreadyExists,
				"Output %#v of action %#v of target %#v is already produced by action %#v of target %#v",
				f.Path(), mnemonic, owner.String(), f.producer.Mnemonic(), f.producer.Owner().String()))
		}
	}

	a := &Action{
		owner:    owner,
		mnemonic: mnemonic,
		inputs:   slices.Clone(inputs),
		outputs:  slices.Clone(outputs),
		run:      run,
	}
	for _, f := range outputs {
		f.producer = a
	}
	ag.actions = append(ag.actions, a)
	return a, nil
}

// Actions returns all registered actions, whether or not they are
// reachable from any requested output.
func (ag *ActionGraph) Actions() []*Action {
	ag.lock.Lock()
	defer ag.lock.Unlock()

	return slices.Clone(ag.actions)
}

// recordErr must be called with the lock held.
func (ag *ActionGraph) recordErr(err error) error {
	if ag.firstErr == nil {
		ag.firstErr = err
	}
	return err
}

// Err returns the first output conflict observed while the graph was
// being populated. Conflicts are structural errors of the build as a
// whole; a build must not proceed to execution once one has occurred.
func (ag *ActionGraph) Err() error {
	ag.lock.Lock()
	defer ag.lock.Unlock()

	return ag.firstErr
}
