package cache

import (
	"maps"
	"slices"
	"strings"

	"github.com/bonsaibuild/bonsai/pkg/actiongraph"
	"github.com/bonsaibuild/bonsai/pkg/analysis"
	"github.com/bonsaibuild/bonsai/pkg/provider"
)

// Entry is the persistable form of one analysis result. File objects
// are flattened to their paths; a front end that loads an entry is
// expected to re-resolve paths against a freshly constructed action
// graph.
type Entry struct {
	Label                    string
	ConfigurationFingerprint string

	DefaultInfo  *DefaultInfoRecord
	OutputGroups map[string][]string
	Infos        []InfoRecord

	Actions []ActionRecord
}

// Key returns the string under which an entry is stored.
func (e *Entry) Key() string {
	return EntryKey(e.Label, e.ConfigurationFingerprint)
}

// EntryKey combines a label and a configuration fingerprint into a
// cache key. Two analyses share an entry exactly when both components
// match.
func EntryKey(labelString, configurationFingerprint string) string {
	return labelString + "@" + configurationFingerprint
}

// DefaultInfoRecord is the flattened form of a DefaultInfo provider.
type DefaultInfoRecord struct {
	FilePaths []string
	// ExecutablePath is empty if the target does not designate an
	// executable.
	ExecutablePath string
	// Runfiles maps runfiles paths to the paths of the files that
	// back them.
	Runfiles map[string]string
}

// InfoRecord is the flattened form of a rule defined provider.
type InfoRecord struct {
	Kind   string
	Fields []FieldRecord
}

// FieldRecord is one named field of a rule defined provider.
type FieldRecord struct {
	Name  string
	Value ValueRecord
}

// ValueRecordKind enumerates the closed set of field value shapes the
// codec understands. Decoding a tag outside this set fails rather than
// being coerced to a default.
type ValueRecordKind int

const (
	ValueRecordString ValueRecordKind = iota
	ValueRecordStringList
	ValueRecordFile
	ValueRecordFileSet
)

// ValueRecord is the flattened form of one provider field value.
type ValueRecord struct {
	Kind ValueRecordKind
	// Str holds the value for ValueRecordString and ValueRecordFile.
	Str string
	// Strs holds the value for ValueRecordStringList and
	// ValueRecordFileSet.
	Strs []string
}

// ActionRecord describes one registered action by the paths it reads
// and writes. The run function itself is not persisted; it is
// reconstructed from the rule implementation when the entry is reused.
type ActionRecord struct {
	Mnemonic    string
	InputPaths  []string
	OutputPaths []string
}

// FromConfiguredTarget flattens an analyzed target into an Entry. The
// flattening is canonical: providers, groups, fields and actions appear
// in sorted order, so that two analyses of the same target produce
// identical entries.
func FromConfiguredTarget(ct *analysis.ConfiguredTarget) *Entry {
	entry := &Entry{
		Label:                    ct.Label().String(),
		ConfigurationFingerprint: ct.Configuration().Fingerprint(),
	}

	providers := ct.Providers()
	for _, kind := range providers.Kinds() {
		p, _ := providers.Get(kind)
		switch typed := p.(type) {
		case provider.DefaultInfo:
			record := &DefaultInfoRecord{
				FilePaths: filePaths(typed.Files.ToList()),
				Runfiles:  map[string]string{},
			}
			if typed.Executable != nil {
				record.ExecutablePath = typed.Executable.Path()
			}
			for _, runfilesPath := range typed.Runfiles.Paths() {
				f, _ := typed.Runfiles.Get(runfilesPath)
				record.Runfiles[runfilesPath] = f.Path()
			}
			entry.DefaultInfo = record
		case provider.OutputGroupInfo:
			entry.OutputGroups = make(map[string][]string, len(typed.Groups))
			for name, files := range typed.Groups {
				entry.OutputGroups[name] = filePaths(files.ToList())
			}
		case provider.Info:
			entry.Infos = append(entry.Infos, flattenInfo(typed))
		}
	}
	slices.SortFunc(entry.Infos, func(a, b InfoRecord) int {
		return strings.Compare(a.Kind, b.Kind)
	})

	for _, a := range ct.Actions() {
		entry.Actions = append(entry.Actions, ActionRecord{
			Mnemonic:    a.Mnemonic(),
			InputPaths:  filePaths(a.Inputs()),
			OutputPaths: filePaths(a.Outputs()),
		})
	}
	slices.SortFunc(entry.Actions, func(a, b ActionRecord) int {
		if c := strings.Compare(a.OutputPaths[0], b.OutputPaths[0]); c != 0 {
			return c
		}
		return strings.Compare(a.Mnemonic, b.Mnemonic)
	})
	return entry
}

func flattenInfo(info provider.Info) InfoRecord {
	record := InfoRecord{
		Kind: info.ProviderKind().String(),
	}
	for _, name := range info.FieldNames() {
		value, _ := info.Field(name)
		var vr ValueRecord
		switch value.Kind() {
		case provider.ValueString:
			vr = ValueRecord{Kind: ValueRecordString, Str: value.AsString()}
		case provider.ValueStringList:
			vr = ValueRecord{Kind: ValueRecordStringList, Strs: value.AsStringList()}
		case provider.ValueFile:
			vr = ValueRecord{Kind: ValueRecordFile, Str: value.AsFile().Path()}
		case provider.ValueFileSet:
			vr = ValueRecord{Kind: ValueRecordFileSet, Strs: filePaths(value.AsFileSet().ToList())}
		}
		record.Fields = append(record.Fields, FieldRecord{Name: name, Value: vr})
	}
	return record
}

func filePaths(files []*actiongraph.File) []string {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path())
	}
	return paths
}

func sortedKeys[V any](m map[string]V) []string {
	keys := slices.Collect(maps.Keys(m))
	slices.Sort(keys)
	return keys
}
