package cache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bonsaibuild/bonsai/pkg/cache"
	"github.com/bonsaibuild/bonsai/pkg/encoding"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newDirectoryStore(t *testing.T) cache.Store {
	store, err := cache.NewDirectoryStore(
		filepath.Join(t.TempDir(), "cache"),
		cache.NewBinaryCodec(),
		encoding.NewLZWCompressingBinaryEncoder(1<<24))
	require.NoError(t, err)
	return store
}

func TestDirectoryStore(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		store := newDirectoryStore(t)
		entry := exampleEntry()
		require.NoError(t, store.Put(entry))

		fetched, err := store.Get(entry.Label, entry.ConfigurationFingerprint)
		require.NoError(t, err)
		require.Equal(t, entry, fetched)
	})

	t.Run("Miss", func(t *testing.T) {
		store := newDirectoryStore(t)

		_, err := store.Get("//pkg:absent", "0123456789abcdef")
		require.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Overwrite", func(t *testing.T) {
		store := newDirectoryStore(t)
		entry := exampleEntry()
		require.NoError(t, store.Put(entry))

		modified := exampleEntry()
		modified.OutputGroups["extra"] = []string{"bonsai-out/0123456789ab/bin/pkg/extra.txt"}
		require.NoError(t, store.Put(modified))

		fetched, err := store.Get(entry.Label, entry.ConfigurationFingerprint)
		require.NoError(t, err)
		require.Equal(t, modified, fetched)
	})

	t.Run("CorruptedFile", func(t *testing.T) {
		directory := filepath.Join(t.TempDir(), "cache")
		store, err := cache.NewDirectoryStore(
			directory,
			cache.NewBinaryCodec(),
			encoding.NewLZWCompressingBinaryEncoder(1<<24))
		require.NoError(t, err)

		entry := exampleEntry()
		require.NoError(t, store.Put(entry))

		// Truncating the stored file should surface as an error
		// on the next read, not as a panic or a bogus entry.
		entries, err := os.ReadDir(directory)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.NoError(t, os.WriteFile(filepath.Join(directory, entries[0].Name()), []byte{0x2a}, 0o644))

		_, err = store.Get(entry.Label, entry.ConfigurationFingerprint)
		require.Error(t, err)
	})

	t.Run("SeparateConfigurations", func(t *testing.T) {
		store := newDirectoryStore(t)
		entry := exampleEntry()
		require.NoError(t, store.Put(entry))

		_, err := store.Get(entry.Label, "ffffffffffffffff")
		require.Equal(t, codes.NotFound, status.Code(err))
	})
}
