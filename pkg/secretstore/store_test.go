package secretstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "vault"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// storeContract runs the behaviour every Store implementation must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("save then retrieve", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, "k1", []byte{0x01, 0x02}, false))

		v, err := s.Retrieve(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02}, v)
	})

	t.Run("absent key returns nil nil", func(t *testing.T) {
		s := newStore(t)
		v, err := s.Retrieve(ctx, "absent")
		require.NoError(t, err)
		assert.Nil(t, v)

		ok, err := s.Exists(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("save overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, "k", []byte("old"), false))
		require.NoError(t, s.Save(ctx, "k", []byte("new"), false))

		v, err := s.Retrieve(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), v)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, "k", []byte("v"), false))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"))

		ok, err := s.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("biometric entries refuse plain retrieve", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, "gated", []byte("pw"), true))

		_, err := s.Retrieve(ctx, "gated")
		assert.ErrorIs(t, err, ErrBiometricRequired)

		v, err := s.RetrieveWithBiometric(ctx, "gated")
		require.NoError(t, err)
		assert.Equal(t, []byte("pw"), v)

		ok, err := s.Exists(ctx, "gated")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("invalid key", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Save(ctx, "", []byte("v"), false), ErrInvalidKey)
		_, err := s.Retrieve(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("empty value round trips", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, "empty", []byte{}, false))
		v, err := s.Retrieve(ctx, "empty")
		require.NoError(t, err)
		assert.NotNil(t, v)
		assert.Empty(t, v)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return openTestSQLite(t) })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := []byte("value")
	require.NoError(t, s.Save(ctx, "k", in, false))
	in[0] = 'X'

	out, err := s.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), out)

	out[0] = 'Y'
	again, err := s.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestMemoryStore_FailSave(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	s := NewMemoryStore()
	s.FailSave = func(key string) error {
		if key == "bad" {
			return boom
		}
		return nil
	}

	assert.ErrorIs(t, s.Save(ctx, "bad", []byte("v"), false), boom)
	require.NoError(t, s.Save(ctx, "good", []byte("v"), false))
	assert.ElementsMatch(t, []string{"good"}, s.Keys())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	assert.ErrorIs(t, s.Save(ctx, "k", []byte("v"), false), context.Canceled)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "vault")

	s, err := OpenSQLite(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "vault.salt", []byte("salt"), false))
	require.NoError(t, s.Save(ctx, "master.password.biometric", []byte("pw"), true))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, dir)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Retrieve(ctx, "vault.salt")
	require.NoError(t, err)
	assert.Equal(t, []byte("salt"), v)

	_, err = s.Retrieve(ctx, "master.password.biometric")
	assert.ErrorIs(t, err, ErrBiometricRequired)
}

func TestSQLiteStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}
	s := openTestSQLite(t)

	info, err := os.Stat(filepath.Join(s.Dir(), DBFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FileMode), info.Mode().Perm())

	info, err = os.Stat(s.Dir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirMode), info.Mode().Perm())
}

func TestSQLiteStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Save(ctx, "k", []byte("v"), false), ErrClosed)
	_, err := s.Retrieve(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSQLiteStore_IntegrityCheck(t *testing.T) {
	s := openTestSQLite(t)
	result, err := s.IntegrityCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestSQLiteStore_CheckDiskSpace(t *testing.T) {
	s := openTestSQLite(t)
	info, err := s.CheckDiskSpace()
	require.NoError(t, err)
	assert.Greater(t, info.Total, uint64(0))
	assert.GreaterOrEqual(t, info.UsedPct, 0)
	assert.LessOrEqual(t, info.UsedPct, 100)
}
