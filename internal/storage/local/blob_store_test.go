package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adlibrary-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "out")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{BaseDir: "  "})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	t.Run("WritesNestedObject", func(t *testing.T) {
		uri, err := store.PutObject(context.Background(), "ads/42.json", "application/json", strings.NewReader(`{"ad_id":"42"}`))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, "ads", "42.json"), uri)

		// #nosec G304 -- reading from the test temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "ads", "42.json"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"ad_id":"42"}`, string(got))
	})

	t.Run("OverwritesObject", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "ads/7.json", "", strings.NewReader("one"))
		require.NoError(t, err)
		_, err = store.PutObject(context.Background(), "ads/7.json", "", strings.NewReader("two"))
		require.NoError(t, err)
		// #nosec G304 -- reading from the test temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "ads", "7.json"))
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.txt", "", strings.NewReader("x"))
		assert.Error(t, err)
	})

	t.Run("RejectsEmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "", strings.NewReader("x"))
		assert.Error(t, err)
	})
}
