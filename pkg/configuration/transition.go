package configuration

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TransitionKind describes what a dependency edge does to the
// configuration under which the dependency is analyzed.
type TransitionKind int

const (
	// TransitionSame analyzes the dependency under the parent's
	// configuration. This is the default for label attributes that
	// do not declare otherwise.
	TransitionSame TransitionKind = iota
	// TransitionHost analyzes the dependency under the host
	// configuration, regardless of the parent's configuration. Used
	// for tools that the build itself must execute.
	TransitionHost
)

func (tk TransitionKind) String() string {
	switch tk {
	case TransitionSame:
		return "same"
	case TransitionHost:
		return "host"
	default:
		return "unknown"
	}
}

// ParseTransitionKind converts the textual "cfg" value of a label
// attribute schema to a TransitionKind.
func ParseTransitionKind(value string) (TransitionKind, error) {
	switch value {
	case "same":
		return TransitionSame, nil
	case "host":
		return TransitionHost, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "Unknown configuration transition %#v", value)
	}
}

// Transitioner applies per-edge configuration transitions. It is a pure
// function of the parent configuration and the edge's transition kind;
// the host configuration it closes over is fixed for the duration of a
// build.
type Transitioner struct {
	host *Configuration
}

func NewTransitioner(host *Configuration) *Transitioner {
	return &Transitioner{host: host}
}

// Apply returns the configuration under which a dependency behind an
// edge with the given transition kind must be analyzed.
func (t *Transitioner) Apply(parent *Configuration, kind TransitionKind) *Configuration {
	switch kind {
	case TransitionHost:
		return t.host
	default:
		return parent
	}
}
