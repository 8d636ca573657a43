package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionvault/bastion/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStoreFromFile(filepath.Join(t.TempDir(), "vault.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Put(storage.RecordTypeEntry, "mail", []byte("blob")))

	got, err := s.Get(storage.RecordTypeEntry, "mail")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	require.NoError(t, s.Delete(storage.RecordTypeEntry, "mail"))
	_, err = s.Get(storage.RecordTypeEntry, "mail")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_GetMissing(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(storage.RecordTypeEntry, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Overwrite(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Put(storage.RecordTypeSetting, "theme", []byte("old")))
	require.NoError(t, s.Put(storage.RecordTypeSetting, "theme", []byte("new")))

	got, err := s.Get(storage.RecordTypeSetting, "theme")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestStore_ListScopedByType(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Put(storage.RecordTypeEntry, "mail", []byte("a")))
	require.NoError(t, s.Put(storage.RecordTypeEntry, "bank", []byte("b")))
	require.NoError(t, s.Put(storage.RecordTypeTOTP, "state", []byte("c")))

	ids, err := s.List(storage.RecordTypeEntry)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mail", "bank"}, ids)
}

func TestStore_WipeAll(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Put(storage.RecordTypeEntry, "mail", []byte("a")))
	require.NoError(t, s.Put(storage.RecordTypeKeycheck, "current", []byte("b")))

	require.NoError(t, s.WipeAll())

	_, err := s.Get(storage.RecordTypeEntry, "mail")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Get(storage.RecordTypeKeycheck, "current")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The store stays usable after a wipe.
	require.NoError(t, s.Put(storage.RecordTypeEntry, "fresh", []byte("c")))
	got, err := s.Get(storage.RecordTypeEntry, "fresh")
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), got)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")

	s, err := NewStoreFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(storage.RecordTypeMeta, "current", []byte("meta")))
	require.NoError(t, s.Close())

	s2, err := NewStoreFromFile(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(storage.RecordTypeMeta, "current")
	require.NoError(t, err)
	assert.Equal(t, []byte("meta"), got)
}
