package artifact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zheng/argus/internal/astfix"
)

func vaultArtifact() *astfix.Gen {
	g := astfix.New()
	v := g.Unit("src/Vault.sol").Contract("Vault")
	tr := v.Func("_transfer", "nonpayable", "internal")
	v.Func("withdraw", "nonpayable", "external").Calls(tr)
	g.Unit("src/lib/Math.sol").Library("Math").Func("add", "pure", "internal")
	return g
}

func writeAt(t *testing.T, path string, data []byte, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestLoader_MissingDirectory(t *testing.T) {
	l := NewLoader(nil, nil)
	res := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.False(t, res.OK())
	assert.Equal(t, ProblemMissing, res.Problem)
	assert.Contains(t, res.Reason, "does not exist")
}

func TestLoader_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	res := NewLoader(nil, nil).Load(context.Background(), dir)
	assert.Equal(t, ProblemMissing, res.Problem)
	assert.Contains(t, res.Reason, "no build artifacts")
}

func TestLoader_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"invalid json", `{"output": `, "not valid JSON"},
		{"no output", `{"abi": [], "bytecode": {}}`, "found keys: abi, bytecode"},
		{"empty sources", `{"output": {"sources": {}}}`, "no output.sources"},
		{"no asts", `{"output": {"sources": {"a.sol": {"id": 0}}}}`, "none carries a usable AST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "out.json"), []byte(tt.body), 0o644))

			res := NewLoader(nil, nil).Load(context.Background(), dir)
			assert.Nil(t, res.Batch)
			assert.Equal(t, ProblemMalformed, res.Problem)
			assert.Contains(t, res.Reason, tt.wantMsg)
		})
	}
}

func TestListKeys_Truncates(t *testing.T) {
	dir := t.TempDir()
	body := `{"a":1,"b":1,"c":1,"d":1,"e":1,"f":1,"g":1,"h":1,"i":1,"j":1}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.json"), []byte(body), 0o644))

	res := NewLoader(nil, nil).Load(context.Background(), dir)
	assert.Contains(t, res.Reason, "a, b, c, d, e, f, g, h, … +2 more")
}

func TestLoader_ParsesUnitsSortedAndSkipsBrokenEntries(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal(vaultArtifact().Artifact(), &doc))
	sources := doc["output"].(map[string]any)["sources"].(map[string]any)
	sources["src/Broken.sol"] = map[string]any{"id": 9, "ast": map[string]any{"id": 1}}
	sources["src/Weird.sol"] = "not an object"
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build.json"), data, 0o644))

	res := NewLoader(nil, nil).Load(context.Background(), dir)
	require.True(t, res.OK(), res.Reason)

	batch := res.Batch
	require.Len(t, batch.Units, 2)
	assert.Equal(t, "src/Vault.sol", batch.Units[0].AbsolutePath)
	assert.Equal(t, "src/lib/Math.sol", batch.Units[1].AbsolutePath)
	require.Len(t, batch.Skipped, 2)
	assert.Equal(t, "src/Broken.sol", batch.Skipped[0].Path)
	assert.Equal(t, "src/Weird.sol", batch.Skipped[1].Path)
	assert.Equal(t, "src/Vault.sol", batch.Files[0])
	assert.NotNil(t, batch.Unit("src/lib/Math.sol"))
	assert.Nil(t, batch.Unit("src/Other.sol"))
}

func TestLoader_PicksNewestArtifact(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	old := astfix.New()
	old.Unit("src/Old.sol").Contract("Old")
	writeAt(t, filepath.Join(dir, "a.json"), old.Artifact(), now.Add(-time.Hour))

	writeAt(t, filepath.Join(dir, "b.json"), vaultArtifact().Artifact(), now)

	res := NewLoader(nil, nil).Load(context.Background(), dir)
	require.True(t, res.OK())
	assert.Equal(t, filepath.Join(dir, "b.json"), res.Batch.Path)
}

func TestLoader_CacheCorrectness(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build.json")
	mod := time.Now().Add(-time.Minute).Truncate(time.Second)
	writeAt(t, path, vaultArtifact().Artifact(), mod)

	l := NewLoader(nil, nil)
	ctx := context.Background()

	first := l.Load(ctx, dir)
	require.True(t, first.OK())
	assert.False(t, first.Cached)
	assert.EqualValues(t, 1, l.Cache().Parses())

	second := l.Load(ctx, dir)
	require.True(t, second.OK())
	assert.True(t, second.Cached)
	assert.Same(t, first.Batch, second.Batch)
	assert.EqualValues(t, 1, l.Cache().Parses(), "unchanged mod time must not re-parse")

	touched := mod.Add(time.Second)
	require.NoError(t, os.Chtimes(path, touched, touched))
	third := l.Load(ctx, dir)
	require.True(t, third.OK())
	assert.False(t, third.Cached)
	assert.EqualValues(t, 2, l.Cache().Parses(), "changed mod time must re-parse")
}

func TestLoader_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewLoader(nil, nil).Load(ctx, t.TempDir())
	assert.Equal(t, ProblemCanceled, res.Problem)
}

func TestCache_OlderNeverReplacesNewer(t *testing.T) {
	c := NewCache()
	now := time.Now()
	newer := &Batch{Path: "b.json"}
	older := &Batch{Path: "a.json"}

	require.True(t, c.Put(NewKey("b.json", now), newer))
	assert.False(t, c.Put(NewKey("a.json", now.Add(-time.Second)), older))

	key, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "b.json", key.Path)

	got, ok := c.Get(NewKey("b.json", now))
	require.True(t, ok)
	assert.Same(t, newer, got)

	// a newer artifact replaces the entry
	newest := &Batch{Path: "c.json"}
	require.True(t, c.Put(NewKey("c.json", now.Add(time.Second)), newest))
	_, ok = c.Get(NewKey("b.json", now))
	assert.False(t, ok)

	c.Purge()
	_, ok = c.Current()
	assert.False(t, ok)
}
