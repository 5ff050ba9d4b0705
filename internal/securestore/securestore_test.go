package securestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opwatch/opwatch/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *sqlite.SqliteStore {
	store, err := sqlite.New(&sqlite.Config{Path: ":memory:", TxTimeout: 10 * time.Second}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Start(nil))
	t.Cleanup(func() { _ = store.Stop() })

	return store
}

func writeKey(t *testing.T) string {
	key, err := GenerateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte(key+"\n"), 0o600))
	return path
}

func TestSecureStore(t *testing.T) {
	for _, tc := range []struct {
		name   string
		sealed bool
	}{
		{name: "Plain", sealed: false},
		{name: "Sealed", sealed: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			backend := newBackend(t)
			config := &Config{Service: "org.opwatch.app"}
			if tc.sealed {
				config.KeyFile = writeKey(t)
			}

			s, err := New(config, backend)
			require.NoError(t, err)
			assert.Equal(t, tc.sealed, s.Sealed())

			ctx := context.Background()

			_, ok, err := s.GetItem(ctx, "dbEncryptionKey")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetItem(ctx, "dbEncryptionKey", "hunter2"))

			value, ok, err := s.GetItem(ctx, "dbEncryptionKey")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "hunter2", value)

			raw, ok, err := backend.ReadItem(ctx, "org.opwatch.app", "dbEncryptionKey")
			require.NoError(t, err)
			require.True(t, ok)
			if tc.sealed {
				assert.NotContains(t, string(raw), "hunter2")
			} else {
				assert.Equal(t, []byte("hunter2"), raw)
			}

			require.NoError(t, s.DeleteItem(ctx, "dbEncryptionKey"))
			_, ok, err = s.GetItem(ctx, "dbEncryptionKey")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestServicesDoNotCollide(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	a, err := New(&Config{Service: "org.a"}, backend)
	require.NoError(t, err)
	b, err := New(&Config{Service: "org.b"}, backend)
	require.NoError(t, err)

	require.NoError(t, a.SetItem(ctx, "k", "a"))
	require.NoError(t, b.SetItem(ctx, "k", "b"))

	v, _, err := a.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, _, err = b.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestWrongKeyCannotOpen(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	a, err := New(&Config{Service: "org.opwatch.app", KeyFile: writeKey(t)}, backend)
	require.NoError(t, err)
	require.NoError(t, a.SetItem(ctx, "k", "v"))

	b, err := New(&Config{Service: "org.opwatch.app", KeyFile: writeKey(t)}, backend)
	require.NoError(t, err)

	_, ok, err := b.GetItem(ctx, "k")
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, ok)
}

func TestParseKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key, 64)

	for _, tc := range []struct {
		name  string
		input string
		err   error
	}{
		{name: "Valid", input: key},
		{name: "Whitespace", input: "  " + key + "\n"},
		{name: "Short", input: key[:32], err: ErrInvalidKey},
		{name: "NotHex", input: "zz" + key[2:], err: ErrInvalidKey},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseKey(tc.input)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err = New(&Config{KeyFile: filepath.Join(t.TempDir(), "missing")}, nil)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
