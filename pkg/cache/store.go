package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/bonsaibuild/bonsai/pkg/encoding"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store persists analysis cache entries between invocations, keyed by
// target label and configuration fingerprint.
type Store interface {
	Put(entry *Entry) error
	Get(labelString, configurationFingerprint string) (*Entry, error)
}

type directoryStore struct {
	directory     string
	codec         Codec
	binaryEncoder encoding.BinaryEncoder
}

// NewDirectoryStore creates a Store that keeps every entry in its own
// file inside a single directory. Filenames are derived from a hash of
// the entry key, so that labels containing path separators do not
// escape the directory. Entry payloads are passed through the provided
// BinaryEncoder before being written.
func NewDirectoryStore(directory string, codec Codec, binaryEncoder encoding.BinaryEncoder) (Store, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, util.StatusWrapf(err, "Failed to create cache directory %#v", directory)
	}
	return &directoryStore{
		directory:     directory,
		codec:         codec,
		binaryEncoder: binaryEncoder,
	}, nil
}

func (s *directoryStore) entryPath(key string) string {
	keyHash := sha256.Sum256([]byte(key))
	return filepath.Join(s.directory, hex.EncodeToString(keyHash[:])+".entry")
}

func (s *directoryStore) Put(entry *Entry) error {
	data, err := s.codec.MarshalEntry(entry)
	if err != nil {
		return util.StatusWrapf(err, "Failed to marshal cache entry for target %#v", entry.Label)
	}
	encoded, err := s.binaryEncoder.EncodeBinary(data)
	if err != nil {
		return util.StatusWrapf(err, "Failed to encode cache entry for target %#v", entry.Label)
	}

	// Write through a temporary file, so that a crash mid-write
	// never leaves a partial entry behind under the final name.
	path := s.entryPath(entry.Key())
	temporary, err := os.CreateTemp(s.directory, "entry-*.tmp")
	if err != nil {
		return util.StatusWrap(err, "Failed to create temporary cache file")
	}
	if _, err := temporary.Write(encoded); err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return util.StatusWrapf(err, "Failed to write cache entry for target %#v", entry.Label)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporary.Name())
		return util.StatusWrapf(err, "Failed to close cache entry for target %#v", entry.Label)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		os.Remove(temporary.Name())
		return util.StatusWrapf(err, "Failed to store cache entry for target %#v", entry.Label)
	}
	return nil
}

func (s *directoryStore) Get(labelString, configurationFingerprint string) (*Entry, error) {
	key := EntryKey(labelString, configurationFingerprint)
	encoded, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.Errorf(codes.NotFound, "No cache entry exists for key %#v", key)
		}
		return nil, util.StatusWrapf(err, "Failed to read cache entry for key %#v", key)
	}
	data, err := s.binaryEncoder.DecodeBinary(encoded)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to decode cache entry for key %#v", key)
	}
	entry, err := s.codec.UnmarshalEntry(data)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to unmarshal cache entry for key %#v", key)
	}
	if entry.Key() != key {
		return nil, status.Errorf(codes.Internal, "Cache entry for key %#v describes key %#v", key, entry.Key())
	}
	return entry, nil
}
