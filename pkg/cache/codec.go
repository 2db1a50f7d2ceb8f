package cache

import (
	"github.com/bonsaibuild/bonsai/pkg/encoding/varint"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Codec converts cache entries to and from their stored byte form.
// Implementations must be deterministic: marshaling the same entry
// twice yields identical bytes, so that stored entries can be compared
// and deduplicated by content.
type Codec interface {
	MarshalEntry(entry *Entry) ([]byte, error)
	UnmarshalEntry(data []byte) (*Entry, error)
}

// entryFormatVersion is bumped whenever the byte layout changes.
// Entries written under another version fail to load, which a cache
// treats the same as a miss.
const entryFormatVersion = 1

// Tags of the provider records inside an entry. The set is closed;
// decoding any other tag is a format error.
const (
	recordTagDefaultInfo = iota + 1
	recordTagOutputGroupInfo
	recordTagInfo
)

type binaryCodec struct{}

// NewBinaryCodec returns the Codec used for on disk storage: a length
// prefixed binary layout with all map derived sequences emitted in
// sorted order.
func NewBinaryCodec() Codec {
	return binaryCodec{}
}

func (binaryCodec) MarshalEntry(entry *Entry) ([]byte, error) {
	data := varint.AppendForward(nil, uint64(entryFormatVersion))
	data = appendString(data, entry.Label)
	data = appendString(data, entry.ConfigurationFingerprint)

	var recordCount uint64
	if entry.DefaultInfo != nil {
		recordCount++
	}
	if entry.OutputGroups != nil {
		recordCount++
	}
	recordCount += uint64(len(entry.Infos))
	data = varint.AppendForward(data, recordCount)

	if record := entry.DefaultInfo; record != nil {
		data = varint.AppendForward(data, uint64(recordTagDefaultInfo))
		data = appendStrings(data, record.FilePaths)
		data = appendString(data, record.ExecutablePath)
		data = varint.AppendForward(data, uint64(len(record.Runfiles)))
		for _, runfilesPath := range sortedKeys(record.Runfiles) {
			data = appendString(data, runfilesPath)
			data = appendString(data, record.Runfiles[runfilesPath])
		}
	}
	if groups := entry.OutputGroups; groups != nil {
		data = varint.AppendForward(data, uint64(recordTagOutputGroupInfo))
		data = varint.AppendForward(data, uint64(len(groups)))
		for _, name := range sortedKeys(groups) {
			data = appendString(data, name)
			data = appendStrings(data, groups[name])
		}
	}
	for _, info := range entry.Infos {
		data = varint.AppendForward(data, uint64(recordTagInfo))
		data = appendString(data, info.Kind)
		data = varint.AppendForward(data, uint64(len(info.Fields)))
		for _, field := range info.Fields {
			data = appendString(data, field.Name)
			data = varint.AppendForward(data, uint64(field.Value.Kind))
			switch field.Value.Kind {
			case ValueRecordString, ValueRecordFile:
				data = appendString(data, field.Value.Str)
			case ValueRecordStringList, ValueRecordFileSet:
				data = appendStrings(data, field.Value.Strs)
			default:
				return nil, status.Errorf(codes.InvalidArgument, "Field %#v of provider %#v has unknown value kind %d", field.Name, info.Kind, field.Value.Kind)
			}
		}
	}

	data = varint.AppendForward(data, uint64(len(entry.Actions)))
	for _, action := range entry.Actions {
		data = appendString(data, action.Mnemonic)
		data = appendStrings(data, action.InputPaths)
		data = appendStrings(data, action.OutputPaths)
	}
	return data, nil
}

func (binaryCodec) UnmarshalEntry(data []byte) (*Entry, error) {
	r := &reader{data: data}
	if version := r.uint64(); version != entryFormatVersion {
		if r.err != nil {
			return nil, r.err
		}
		return nil, status.Errorf(codes.InvalidArgument, "Entry has format version %d, while this codec only understands version %d", version, entryFormatVersion)
	}

	entry := &Entry{
		Label:                    r.string(),
		ConfigurationFingerprint: r.string(),
	}
	for i, recordCount := uint64(0), r.uint64(); i < recordCount && r.err == nil; i++ {
		switch tag := r.uint64(); tag {
		case recordTagDefaultInfo:
			if entry.DefaultInfo != nil {
				return nil, status.Error(codes.InvalidArgument, "Entry contains multiple DefaultInfo records")
			}
			record := &DefaultInfoRecord{
				FilePaths:      r.strings(),
				ExecutablePath: r.string(),
				Runfiles:       map[string]string{},
			}
			for j, runfilesCount := uint64(0), r.uint64(); j < runfilesCount && r.err == nil; j++ {
				runfilesPath := r.string()
				record.Runfiles[runfilesPath] = r.string()
			}
			entry.DefaultInfo = record
		case recordTagOutputGroupInfo:
			if entry.OutputGroups != nil {
				return nil, status.Error(codes.InvalidArgument, "Entry contains multiple OutputGroupInfo records")
			}
			entry.OutputGroups = map[string][]string{}
			for j, groupCount := uint64(0), r.uint64(); j < groupCount && r.err == nil; j++ {
				name := r.string()
				entry.OutputGroups[name] = r.strings()
			}
		case recordTagInfo:
			info := InfoRecord{Kind: r.string()}
			for j, fieldCount := uint64(0), r.uint64(); j < fieldCount && r.err == nil; j++ {
				field := FieldRecord{Name: r.string()}
				switch kind := ValueRecordKind(r.uint64()); kind {
				case ValueRecordString, ValueRecordFile:
					field.Value = ValueRecord{Kind: kind, Str: r.string()}
				case ValueRecordStringList, ValueRecordFileSet:
					field.Value = ValueRecord{Kind: kind, Strs: r.strings()}
				default:
					if r.err == nil {
						return nil, status.Errorf(codes.InvalidArgument, "Field %#v of provider %#v has unknown value kind %d", field.Name, info.Kind, kind)
					}
				}
				info.Fields = append(info.Fields, field)
			}
			entry.Infos = append(entry.Infos, info)
		default:
			if r.err == nil {
				return nil, status.Errorf(codes.InvalidArgument, "Entry contains a record with unknown tag %d", tag)
			}
		}
	}

	for i, actionCount := uint64(0), r.uint64(); i < actionCount && r.err == nil; i++ {
		entry.Actions = append(entry.Actions, ActionRecord{
			Mnemonic:    r.string(),
			InputPaths:  r.strings(),
			OutputPaths: r.strings(),
		})
	}

	if r.err != nil {
		return nil, r.err
	}
	if len(r.data) > 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Entry has %d trailing bytes", len(r.data))
	}
	return entry, nil
}

func appendString(dst []byte, s string) []byte {
	dst = varint.AppendForward(dst, uint64(len(s)))
	return append(dst, s...)
}

func appendStrings(dst []byte, strs []string) []byte {
	dst = varint.AppendForward(dst, uint64(len(strs)))
	for _, s := range strs {
		dst = appendString(dst, s)
	}
	return dst
}

// reader consumes the length prefixed layout, latching the first error
// it encounters. All counts are validated against the number of bytes
// that remain, so that corrupted length prefixes fail cleanly instead
// of causing large allocations or out of bounds reads.
type reader struct {
	data []byte
	err  error
}

func (r *reader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.ConsumeForward[uint64](r.data)
	if err != nil {
		r.err = err
		return 0
	}
	r.data = r.data[n:]
	return v
}

func (r *reader) string() string {
	length := r.uint64()
	if r.err != nil {
		return ""
	}
	if length > uint64(len(r.data)) {
		r.err = status.Errorf(codes.InvalidArgument, "String of length %d exceeds the %d remaining bytes", length, len(r.data))
		return ""
	}
	s := string(r.data[:length])
	r.data = r.data[length:]
	return s
}

func (r *reader) strings() []string {
	count := r.uint64()
	if r.err != nil {
		return nil
	}
	if count > uint64(len(r.data)) {
		r.err = status.Errorf(codes.InvalidArgument, "Sequence of %d strings exceeds the %d remaining bytes", count, len(r.data))
		return nil
	}
	strs := make([]string, 0, count)
	for i := uint64(0); i < count && r.err == nil; i++ {
		strs = append(strs, r.string())
	}
	return strs
}
