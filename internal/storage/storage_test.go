package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutURLDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewLocalStore(dir, "/uploads/")
	require.NoError(t, err)

	key := AvatarPhotoKey("u1", "av1", "Me.PNG")
	assert.Equal(t, "avatars/u1/av1/source.png", key)

	obj, err := st.Put(ctx, key, "image/png", strings.NewReader("pngdata"), 7)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/avatars/u1/av1/source.png", obj.URL)
	assert.Equal(t, int64(7), obj.Size)

	data, err := os.ReadFile(filepath.Join(dir, "avatars", "u1", "av1", "source.png"))
	require.NoError(t, err)
	assert.Equal(t, "pngdata", string(data))

	require.NoError(t, st.Delete(ctx, key))
	require.NoError(t, st.Delete(ctx, key))
	_, err = os.Stat(filepath.Join(dir, "avatars", "u1", "av1", "source.png"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	st, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)
	for _, key := range []string{"", "../etc/passwd", "/abs/path"} {
		_, err := st.Put(context.Background(), key, "image/png", strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestLocalStoreShortWrite(t *testing.T) {
	st, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)
	_, err = st.Put(context.Background(), "a/b.png", "image/png", strings.NewReader("abc"), 10)
	assert.Error(t, err)
}

func TestAvatarPhotoKeyFallsBackToBin(t *testing.T) {
	assert.Equal(t, "avatars/u/a/source.bin", AvatarPhotoKey("u", "a", "photo"))
}
