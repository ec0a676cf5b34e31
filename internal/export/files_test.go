package export

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidate(t *testing.T) {
	assert.Equal(t, "Vault-callgraph.png", candidate("Vault-callgraph.png", 0))
	assert.Equal(t, "Vault-callgraph-1.png", candidate("Vault-callgraph.png", 1))
	assert.Equal(t, "Vault-callgraph-49.png", candidate("Vault-callgraph.png", 49))
	assert.Equal(t, "report-2", candidate("report", 2))
}

func TestSaveImage_PicksFourthName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Vault-callgraph.png", "Vault-callgraph-1.png", "Vault-callgraph-2.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("old"), 0o644))
	}

	unique, err := UniquePath(dir, "Vault-callgraph.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Vault-callgraph-3.png"), unique)

	p, err := SaveImage(dir, "Vault-callgraph.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Vault-callgraph-3.png"), p)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	old, err := os.ReadFile(filepath.Join(dir, "Vault-callgraph.png"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestSaveImage_Exhausted(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < MaxCandidates; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, candidate("g.png", i)), []byte("old"), 0o644))
	}

	_, err := SaveImage(dir, "g.png", []byte("new"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoFreeName))

	_, err = UniquePath(dir, "g.png")
	assert.ErrorIs(t, err, ErrNoFreeName)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, MaxCandidates)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		assert.Equal(t, "old", string(data))
	}
}

func TestSaveImage_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports", "png")
	p, err := SaveImage(dir, ImageName(""), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "callgraph.png"), p)
	assert.Equal(t, "Vault-callgraph.png", ImageName("Vault"))
}
