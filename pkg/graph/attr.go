package graph

import (
	"github.com/bonsaibuild/bonsai/pkg/label"
)

// AttrKind enumerates the types an attribute value may have. Label and
// LabelList valued attributes double as dependency edges of the target
// graph.
type AttrKind int

const (
	AttrString AttrKind = iota
	AttrBool
	AttrInt
	AttrStringList
	AttrLabel
	AttrLabelList
	// AttrOutput holds a template for a predeclared output file
	// name, resolved against the target's other attributes during
	// analysis.
	AttrOutput
)

func (ak AttrKind) String() string {
	switch ak {
	case AttrString:
		return "string"
	case AttrBool:
		return "bool"
	case AttrInt:
		return "int"
	case AttrStringList:
		return "string_list"
	case AttrLabel:
		return "label"
	case AttrLabelList:
		return "label_list"
	case AttrOutput:
		return "output"
	default:
		return "unknown"
	}
}

// AttrValue is a closed tagged variant holding a single attribute
// value. Values are validated against the rule kind's schema once at
// analysis entry, not on every access.
type AttrValue struct {
	kind    AttrKind
	str     string
	boolean bool
	integer int64
	strs    []string
	labels  []label.Label
}

func NewStringValue(value string) AttrValue {
	return AttrValue{kind: AttrString, str: value}
}

func NewBoolValue(value bool) AttrValue {
	return AttrValue{kind: AttrBool, boolean: value}
}

func NewIntValue(value int64) AttrValue {
	return AttrValue{kind: AttrInt, integer: value}
}

func NewStringListValue(values []string) AttrValue {
	return AttrValue{kind: AttrStringList, strs: values}
}

func NewLabelValue(value label.Label) AttrValue {
	return AttrValue{kind: AttrLabel, labels: []label.Label{value}}
}

func NewLabelListValue(values []label.Label) AttrValue {
	return AttrValue{kind: AttrLabelList, labels: values}
}

func NewOutputValue(template string) AttrValue {
	return AttrValue{kind: AttrOutput, str: template}
}

func (av AttrValue) Kind() AttrKind {
	return av.kind
}

func (av AttrValue) AsString() string {
	return av.str
}

func (av AttrValue) AsBool() bool {
	return av.boolean
}

func (av AttrValue) AsInt() int64 {
	return av.integer
}

func (av AttrValue) AsStringList() []string {
	return av.strs
}

// Labels returns the dependency edges implied by the value: one label
// for AttrLabel, all labels for AttrLabelList, and none for everything
// else.
func (av AttrValue) Labels() []label.Label {
	return av.labels
}
