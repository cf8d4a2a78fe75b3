package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// persisterState is a struct for persister round-trip testing.
type persisterState struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.json")
	p := NewPersister[persisterState](path, NewJSONCodec())

	original := persisterState{Label: "hello", Value: 42}

	require.NoError(t, p.Save(&original))

	restored, err := p.Load()
	require.NoError(t, err)

	assert.Equal(t, original, *restored)
	assert.Equal(t, path, p.Path())
}

func TestPersister_SaveReplacesWithoutLeftovers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	p := NewPersister[persisterState](path, NewJSONCodec())

	require.NoError(t, p.Save(&persisterState{Label: "first", Value: 1}))
	require.NoError(t, p.Save(&persisterState{Label: "second", Value: 2}))

	restored, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, "second", restored.Label)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestPersister_LoadMissingFile(t *testing.T) {
	t.Parallel()

	p := NewPersister[persisterState](filepath.Join(t.TempDir(), "missing.json"), NewJSONCodec())

	_, err := p.Load()

	require.ErrorIs(t, err, ErrNotFound)
}

func TestPersister_LoadCorruptFileKeepsContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"label\":"), 0o600))

	p := NewPersister[persisterState](path, NewJSONCodec())

	_, err := p.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "{\"label\":", string(data))
}

func TestWriteFileAtomic_LZ4(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json.lz4")
	codec := CodecForPath(path)

	require.NoError(t, WriteFileAtomic(path, codec, &persisterState{Label: "lz4", Value: 3}))

	var restored persisterState

	require.NoError(t, ReadFile(path, codec, &restored))
	assert.Equal(t, "lz4", restored.Label)
}
