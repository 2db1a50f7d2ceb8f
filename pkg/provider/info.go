package provider

import (
	"maps"
	"slices"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/depset"
)

// ValueKind enumerates the types a field of an Info provider may have.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueStringList
	ValueFile
	ValueFileSet
)

// Value is a closed tagged variant holding one field of a rule defined
// provider.
type Value struct {
	kind  ValueKind
	str   string
	strs  []string
	file  *actiongraph.File
	files depset.DepSet[*actiongraph.File]
}

func NewStringValue(value string) Value {
	return Value{kind: ValueString, str: value}
}

func NewStringListValue(values []string) Value {
	return Value{kind: ValueStringList, strs: values}
}

func NewFileValue(file *actiongraph.File) Value {
	return Value{kind: ValueFile, file: file}
}

func NewFileSetValue(files depset.DepSet[*actiongraph.File]) Value {
	return Value{kind: ValueFileSet, files: files}
}

func (v Value) Kind() ValueKind {
	return v.kind
}

func (v Value) AsString() string {
	return v.str
}

func (v Value) AsStringList() []string {
	return v.strs
}

func (v Value) AsFile() *actiongraph.File {
	return v.file
}

func (v Value) AsFileSet() depset.DepSet[*actiongraph.File] {
	return v.files
}

// Info is a rule defined provider: a record of named fields under a
// registered kind. It covers providers like CcInfo that rules use to
// pass aggregated data to their dependents.
type Info struct {
	kind   Kind
	fields map[string]Value
}

func NewInfo(kind Kind, fields map[string]Value) Info {
	return Info{
		kind:   kind,
		fields: maps.Clone(fields),
	}
}

func (i Info) ProviderKind() Kind {
	return i.kind
}

func (i Info) Field(name string) (Value, bool) {
	value, ok := i.fields[name]
	return value, ok
}

func (i Info) FieldNames() []string {
	return slices.Sorted(maps.Keys(i.fields))
}
